package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/coursewalk/internal/errs"
)

// fakeSite is an in-memory stand-in for the courseware site behind a Driver.
// It keeps just enough state to exercise every step.
type fakeSite struct {
	mu sync.Mutex

	routes Routes

	// knobs
	registerError  string // rendered in .error on register submit
	designerError  string // rendered in .error on designer submit
	failBuild      bool   // the status page reports a failed build
	dropFlash      bool   // logout renders no .flash
	menuEmail      string // overrides the user menu text
	provisionPolls int    // body reads before a new course is ready
	loseSaves      bool   // saveprog responds but stores nothing
	noSaveResponse bool   // saveprog never responds

	users    map[string]*fakeUser
	current  *fakeUser
	url      string
	form     map[string]string
	errText  string
	flash    string
	menuOpen bool
	template string
	building string
	pollsMax int
	editor   string
	saved    map[string]string

	calls []string
}

type fakeUser struct {
	username string
	password string
	email    string
	course   string
}

func newFakeSite(routes Routes) *fakeSite {
	return &fakeSite{
		routes: routes,
		users:  map[string]*fakeUser{},
		form:   map[string]string{},
		saved:  map[string]string{},
	}
}

func (s *fakeSite) record(format string, args ...any) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func missing(selector string) error {
	return errs.New(errs.ElementMissing, "element not found: "+selector)
}

func (s *fakeSite) page() string {
	switch {
	case strings.HasPrefix(s.url, s.routes.Register()):
		return "register"
	case strings.HasPrefix(s.url, s.routes.Login()):
		return "login"
	case strings.HasPrefix(s.url, s.routes.Profile()):
		return "profile"
	case strings.HasPrefix(s.url, s.routes.Designer()+"/status"):
		return "status"
	case strings.HasPrefix(s.url, s.routes.Designer()):
		return "designer"
	case s.url == s.routes.Overview():
		return "overview"
	case strings.HasPrefix(s.url, s.routes.app("/static/")):
		return "course"
	}
	return "unknown"
}

func (s *fakeSite) Goto(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("goto %s", url)

	s.form = map[string]string{}
	s.errText = ""
	s.menuOpen = false
	s.url = url

	switch s.page() {
	case "unknown":
		if url == s.routes.Logout() {
			s.current = nil
			if !s.dropFlash {
				s.flash = LoggedOutMessage
			}
			s.url = s.routes.Login()
			return nil
		}
		return errs.New(errs.Unavailable, "404 "+url)
	case "profile", "designer":
		if s.current == nil {
			s.url = s.routes.Login()
		}
	case "overview":
		s.editor = DefaultCode
	}
	if s.page() != "login" {
		s.flash = ""
	}
	return nil
}

func (s *fakeSite) Reload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("reload")
	if s.page() == "overview" {
		s.editor = DefaultCode
	}
	return nil
}

func (s *fakeSite) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *fakeSite) Fill(_ context.Context, selector, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form[selector] = value
	return nil
}

func (s *fakeSite) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("click %s", selector)

	switch {
	case s.page() == "register" && selector == selRegister:
		if s.registerError != "" {
			s.errText = s.registerError
			return nil
		}
		u := &fakeUser{
			username: s.form[selUsername],
			password: s.form[selPassword],
			email:    s.form[selEmail],
			course:   s.form[selCourseID],
		}
		s.users[u.username] = u
		s.current = u
		s.url = s.routes.Course(u.course) + "index.html"
	case s.page() == "login" && selector == selLogin:
		u, ok := s.users[s.form[selUsername]]
		if !ok || u.password != s.form[selPassword] {
			s.errText = "Invalid login"
			return nil
		}
		s.current = u
		s.flash = ""
		s.url = s.routes.Course(u.course) + "index.html"
	case s.page() == "designer" && strings.HasPrefix(selector, "input[value='") && selector != selSubmit:
		s.template = selector
	case s.page() == "designer" && selector == selSubmit:
		if s.designerError != "" {
			s.errText = s.designerError
			return nil
		}
		name := s.form[selProjectName]
		if name == "" || s.template == "" {
			s.errText = "missing fields"
			return nil
		}
		s.building = name
		s.pollsMax = s.provisionPolls
		s.current.course = name
		s.url = s.routes.Designer() + "/status/" + name
	default:
		return missing(selector)
	}
	return nil
}

func (s *fakeSite) ClickNth(_ context.Context, selector string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if selector != selMenuToggle || index != userMenuIndex {
		return missing(fmt.Sprintf("%s[%d]", selector, index))
	}
	if s.page() != "course" {
		return missing(selector)
	}
	s.menuOpen = true
	return nil
}

func (s *fakeSite) Text(_ context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch selector {
	case selFormError:
		if s.errText == "" {
			return "", missing(selector)
		}
		return s.errText, nil
	case selFlash:
		if s.page() != "login" || s.flash == "" {
			return "", missing(selector)
		}
		return s.flash, nil
	case selLoggedInAs:
		if !s.menuOpen || s.current == nil {
			return "", missing(selector)
		}
		if s.menuEmail != "" {
			return s.menuEmail, nil
		}
		return " " + s.current.email + "\n", nil
	case "body":
		if s.page() == "status" {
			if s.failBuild {
				return CourseBuildFailedMarker, nil
			}
			if s.pollsMax > 0 {
				s.pollsMax--
				return "Building " + s.building, nil
			}
			return CourseReadyMarker + ": " + s.building, nil
		}
		return "page " + s.page(), nil
	}
	return "", missing(selector)
}

func (s *fakeSite) Value(_ context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if selector == selCourseID && s.page() == "profile" && s.current != nil {
		return s.current.course, nil
	}
	return "", missing(selector)
}

func (s *fakeSite) Exists(_ context.Context, selector string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if selector == selFormError {
		return s.errText != "", nil
	}
	return false, nil
}

func (s *fakeSite) Eval(_ context.Context, expression string, arg any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page() != "overview" {
		return nil, errs.New(errs.Unavailable, "ReferenceError: cm_editors is not defined")
	}
	switch {
	case strings.HasSuffix(expression, ".getValue()"):
		return s.editor, nil
	case strings.Contains(expression, ".setValue("):
		s.editor = arg.(string)
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected expression %q", expression)
}

func (s *fakeSite) ClickAndWaitResponse(_ context.Context, selector, urlGlob string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("click %s wait %s", selector, urlGlob)
	if s.current == nil {
		return errs.New(errs.Unauthenticated, "not logged in")
	}
	switch selector {
	case selSaveButton:
		if s.noSaveResponse {
			return errs.New(errs.DeadlineExceeded, "no response matching "+urlGlob)
		}
		if !s.loseSaves {
			s.saved[s.current.username] = s.editor
		}
	case selLoadButton:
		if code, ok := s.saved[s.current.username]; ok {
			s.editor = code
		}
	default:
		return missing(selector)
	}
	return nil
}

func (s *fakeSite) Capture(context.Context) (Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Evidence{
		URL:        s.url,
		Title:      s.page(),
		HTML:       "<html><body>" + s.page() + "</body></html>",
		Screenshot: []byte{0x89, 'P', 'N', 'G'},
		CapturedAt: time.Now(),
	}, nil
}
