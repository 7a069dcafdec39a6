package courseware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kuitang/coursewalk/internal/errs"
	"github.com/kuitang/coursewalk/internal/obs"
	"github.com/kuitang/coursewalk/internal/urlutil"
)

// LogoutMessage is flashed on the login page after logging out.
const LogoutMessage = "Logged out"

// statusRefreshSeconds is how often the build status page reloads itself.
const statusRefreshSeconds = 1

type loginForm struct {
	Username string
}

// page builds the view model shared by every template.
func (s *Server) page(w http.ResponseWriter, r *http.Request, title string) *pageData {
	return &pageData{
		Title: title,
		App:   s.cfg.AppPath,
		User:  s.currentUser(r),
		Flash: popFlash(w, r),
	}
}

func (s *Server) currentUser(r *http.Request) *User {
	id := sessionIDFromRequest(r)
	if id == "" {
		return nil
	}
	u, err := s.store.SessionUser(r.Context(), id)
	if err != nil {
		if !errs.Is(err, errs.Unauthenticated) {
			obs.From(r.Context()).Error("session_lookup_failed", "error", err)
		}
		return nil
	}
	return u
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data *pageData) {
	if err := s.renderer.Render(w, status, name, data); err != nil {
		obs.From(r.Context()).Error("render_failed", "template", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// fail renders err as an error page with the status its code maps to.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(errs.CodeOf(err))
	if status >= http.StatusInternalServerError {
		obs.From(r.Context()).Error("request_failed", "path", r.URL.Path, "error", err)
	}
	data := s.page(w, r, http.StatusText(status))
	data.StatusText = http.StatusText(status)
	data.Message = errs.MessageOf(err)
	s.render(w, r, status, "error.html", data)
}

func (s *Server) secureCookies(r *http.Request) bool {
	return s.cfg.SecureCookies || urlutil.IsSecure(r)
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, s.cfg.AppPath+path, http.StatusSeeOther)
}

func courseIndex(course string) string {
	return "/static/" + course + "/index.html"
}

// formProblems returns the user-facing messages of a rejected form
// submission, or nil when err is not a form error.
func formProblems(err error) []string {
	switch errs.CodeOf(err) {
	case errs.InvalidArgument, errs.FailedPrecondition, errs.Unauthenticated:
		return strings.Split(errs.MessageOf(err), "; ")
	}
	return nil
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	data := s.page(w, r, "Register")
	data.Form = Registration{}
	s.render(w, r, http.StatusOK, "register.html", data)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, errs.Wrap(errs.InvalidArgument, "malformed form", err))
		return
	}
	reg := Registration{
		Username:    strings.TrimSpace(r.PostFormValue("username")),
		FirstName:   r.PostFormValue("first_name"),
		LastName:    r.PostFormValue("last_name"),
		Email:       strings.TrimSpace(r.PostFormValue("email")),
		Password:    r.PostFormValue("password"),
		PasswordTwo: r.PostFormValue("password_two"),
		Course:      strings.TrimSpace(r.PostFormValue("course_id")),
	}

	u, err := s.store.CreateUser(r.Context(), s.cfg.Hasher, reg)
	if err != nil {
		problems := formProblems(err)
		if problems == nil {
			s.fail(w, r, err)
			return
		}
		data := s.page(w, r, "Register")
		reg.Password, reg.PasswordTwo = "", ""
		data.Form = reg
		data.Errors = problems
		s.render(w, r, http.StatusOK, "register.html", data)
		return
	}

	if !s.startSession(w, r, u) {
		return
	}
	obs.From(r.Context()).Info("user_registered", "user_id", u.ID, "course", u.Course)
	s.redirect(w, r, courseIndex(u.Course))
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, u *User) bool {
	id, err := s.store.CreateSession(r.Context(), u.ID)
	if err != nil {
		s.fail(w, r, err)
		return false
	}
	setSessionCookie(w, id, s.secureCookies(r))
	return true
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	data := s.page(w, r, "Login")
	data.Form = loginForm{}
	s.render(w, r, http.StatusOK, "login.html", data)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, errs.Wrap(errs.InvalidArgument, "malformed form", err))
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	u, err := s.store.Authenticate(r.Context(), s.cfg.Hasher, username, r.PostFormValue("password"))
	if err != nil {
		problems := formProblems(err)
		if problems == nil {
			s.fail(w, r, err)
			return
		}
		data := s.page(w, r, "Login")
		data.Form = loginForm{Username: username}
		data.Errors = problems
		s.render(w, r, http.StatusOK, "login.html", data)
		return
	}

	if !s.startSession(w, r, u) {
		return
	}
	obs.From(r.Context()).Info("user_logged_in", "user_id", u.ID)
	s.redirect(w, r, courseIndex(u.Course))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := sessionIDFromRequest(r); id != "" {
		if err := s.store.DeleteSession(r.Context(), id); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	clearSessionCookie(w, s.secureCookies(r))
	setFlash(w, LogoutMessage)
	s.redirect(w, r, "/default/user/login")
}

// requireUser redirects anonymous visitors to the login page.
func (s *Server) requireUser(next func(http.ResponseWriter, *http.Request, *User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := s.currentUser(r)
		if u == nil {
			s.redirect(w, r, "/default/user/login")
			return
		}
		next(w, r, u)
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, _ *User) {
	data := s.page(w, r, "Profile")
	s.render(w, r, http.StatusOK, "profile.html", data)
}

func (s *Server) handleDesignerForm(w http.ResponseWriter, r *http.Request, _ *User) {
	data := s.page(w, r, "Create a course")
	data.Form = NewCourse{BaseCourse: DefaultBaseCourse}
	data.BaseCourses = BaseCourses
	s.render(w, r, http.StatusOK, "designer.html", data)
}

func (s *Server) handleDesigner(w http.ResponseWriter, r *http.Request, u *User) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, errs.Wrap(errs.InvalidArgument, "malformed form", err))
		return
	}
	n := NewCourse{
		Name:        strings.TrimSpace(r.PostFormValue("projectname")),
		Description: r.PostFormValue("projectdescription"),
		BaseCourse:  r.PostFormValue("coursetype"),
	}

	c, err := s.store.CreateCourse(r.Context(), n)
	if err != nil {
		problems := formProblems(err)
		if problems == nil {
			s.fail(w, r, err)
			return
		}
		data := s.page(w, r, "Create a course")
		data.Form = n
		data.BaseCourses = BaseCourses
		data.Errors = problems
		s.render(w, r, http.StatusOK, "designer.html", data)
		return
	}
	if err := s.store.SetUserCourse(r.Context(), u.ID, c.Name); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.provisioner.Enqueue(c.Name); err != nil {
		s.fail(w, r, err)
		return
	}
	obs.From(r.Context()).Info("course_created", "course", c.Name, "base_course", c.BaseCourse, "user_id", u.ID)
	s.redirect(w, r, "/designer/status/"+c.Name)
}

func (s *Server) handleCourseStatus(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.CourseByName(r.Context(), r.PathValue("course"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := s.page(w, r, c.Name)
	data.Course = c
	data.RefreshSeconds = statusRefreshSeconds
	s.render(w, r, http.StatusOK, "status.html", data)
}

func (s *Server) handleCoursePage(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.CourseByName(r.Context(), r.PathValue("course"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if c.Failed() {
		s.fail(w, r, errs.New(errs.FailedPrecondition, "course "+c.Name+" failed to build"))
		return
	}
	if !c.Ready() {
		s.fail(w, r, errs.New(errs.FailedPrecondition, "course "+c.Name+" is still being built"))
		return
	}
	p, ok := Book[r.PathValue("page")]
	if !ok {
		s.fail(w, r, errs.New(errs.NotFound, "page not found"))
		return
	}
	data := s.page(w, r, p.Title)
	data.Course = c
	data.Page = p
	data.Sections = s.renderer.renderSections(p)
	s.render(w, r, http.StatusOK, "course_page.html", data)
}

func (s *Server) handleCourseRoot(w http.ResponseWriter, r *http.Request) {
	s.redirect(w, r, courseIndex(r.PathValue("course")))
}

// JSON endpoints

type errorResponse struct {
	Error string `json:"error"`
}

type saveResponse struct {
	Acid  string `json:"acid"`
	Saved bool   `json:"saved"`
}

type programResponse struct {
	Acid   string `json:"acid"`
	Source string `json:"source"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(errs.CodeOf(err))
	if status >= http.StatusInternalServerError {
		obs.From(r.Context()).Error("request_failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: errs.MessageOf(err)})
}

// requireUserJSON answers anonymous callers with 401 instead of a redirect.
func (s *Server) requireUserJSON(next func(http.ResponseWriter, *http.Request, *User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := s.currentUser(r)
		if u == nil {
			s.writeJSONError(w, r, errs.New(errs.Unauthenticated, "login required"))
			return
		}
		next(w, r, u)
	}
}

func (s *Server) handleSaveProgram(w http.ResponseWriter, r *http.Request, u *User) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*MaxProgramBytes)
	if err := r.ParseForm(); err != nil {
		s.writeJSONError(w, r, errs.Wrap(errs.InvalidArgument, "malformed form", err))
		return
	}
	acid := r.PostFormValue("acid")
	if err := s.store.SaveProgram(r.Context(), u.ID, acid, r.PostFormValue("code")); err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	obs.From(r.Context()).Info("program_saved", "user_id", u.ID, "acid", acid)
	writeJSON(w, http.StatusOK, saveResponse{Acid: acid, Saved: true})
}

func (s *Server) handleLoadProgram(w http.ResponseWriter, r *http.Request, u *User) {
	acid := r.URL.Query().Get("acid")
	source, err := s.store.LoadProgram(r.Context(), u.ID, acid)
	if err != nil {
		s.writeJSONError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, programResponse{Acid: acid, Source: source})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		obs.From(r.Context()).Error("health_check_failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
