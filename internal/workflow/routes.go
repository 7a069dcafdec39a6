package workflow

import "github.com/kuitang/coursewalk/internal/urlutil"

// Routes builds absolute URLs for the site under test.
type Routes struct {
	BaseURL string // scheme://host[:port], no trailing slash
	AppPath string // e.g. /runestone, empty when the app is mounted at /
}

// NewRoutes normalizes base and app so that Routes can concatenate them.
func NewRoutes(base, app string) Routes {
	return Routes{
		BaseURL: urlutil.NormalizeBase(base),
		AppPath: urlutil.NormalizeMountPath(app),
	}
}

func (r Routes) app(path string) string {
	return urlutil.Join(r.BaseURL, r.AppPath+path)
}

func (r Routes) Register() string { return r.app("/default/user/register") }
func (r Routes) Login() string    { return r.app("/default/user/login") }
func (r Routes) Logout() string   { return r.app("/default/user/logout") }
func (r Routes) Profile() string  { return r.app("/default/user/profile") }
func (r Routes) Designer() string { return r.app("/designer") }

// Course is the directory every page of course lives under, with its
// trailing slash so that one course name never matches another's prefix.
// A redirect after login or registration lands somewhere below it.
func (r Routes) Course(course string) string {
	return r.app("/static/" + course + "/")
}

// Overview is the static page that hosts the codeexample1 activecode editor.
func (r Routes) Overview() string {
	return r.app("/static/overview/overview.html")
}
