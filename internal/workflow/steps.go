package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kuitang/coursewalk/internal/errs"
	"github.com/kuitang/coursewalk/internal/identity"
	"github.com/kuitang/coursewalk/internal/logutil"
	"github.com/kuitang/coursewalk/internal/obs"
)

// Page literals the walk asserts on.
const (
	LoggedOutMessage        = "Logged out"
	CourseReadyMarker       = "Your course is ready"
	CourseBuildFailedMarker = "Course build failed"
	ProjectDescription      = "a new project"

	EditorID        = "codeexample1"
	DefaultCode     = "print(\"My first program adds two numbers, 2 and 3:\")\nprint(2 + 3)\n"
	HelloWorldCode  = `print("Hello, world")`
	SaveProgramGlob = "**/ajax/saveprog*"
	LoadProgramGlob = "**/ajax/getprog*"
)

// Selectors.
const (
	selUsername    = "#auth_user_username"
	selFirstName   = "#auth_user_first_name"
	selLastName    = "#auth_user_last_name"
	selEmail       = "#auth_user_email"
	selPassword    = "#auth_user_password"
	selPasswordTwo = "[name='password_two']"
	selCourseID    = "#auth_user_course_id"
	selRegister    = "input[value='Register']"
	selLogin       = "input[value='Login']"
	selFormError   = ".error"
	selFlash       = ".flash"
	selMenuToggle  = ".dropdown-toggle"
	selLoggedInAs  = ".open .user-menu .loggedinuser"
	selProjectName = "[name='projectname']"
	selProjectDesc = "[name='projectdescription']"
	selSubmit      = "input[value='Submit']"
	selSaveButton  = "#" + EditorID + "_saveb"
	selLoadButton  = "#" + EditorID + "_loadb"
)

// The user menu is the third dropdown in the navbar.
const userMenuIndex = 2

const editorRef = "cm_editors." + EditorID + "_code"

// Timeouts bounds every wait a step performs.
type Timeouts struct {
	Step      time.Duration
	Provision time.Duration
	Poll      time.Duration
}

// Env is what every step runs against.
type Env struct {
	Driver   Driver
	Routes   Routes
	Timeouts Timeouts
	Entropy  io.Reader // course names
	Template string    // course template offered by the designer
}

// State flows from one step to the next.
type State struct {
	Identity identity.Identity
	// Course is the course the user is currently associated with.
	Course string
}

// StepFunc is one step of the walk.
type StepFunc func(ctx context.Context, env *Env, st State) (State, error)

type field struct {
	selector string
	value    string
}

func fillForm(ctx context.Context, d Driver, fields []field) error {
	logger := obs.From(ctx)
	for _, f := range fields {
		logger.Debug("fill", "selector", f.selector, "value", logutil.RedactValue(f.selector, f.value))
		if err := d.Fill(ctx, f.selector, f.value); err != nil {
			return err
		}
	}
	return nil
}

// waitForURL polls until the current URL contains prefix.
func waitForURL(ctx context.Context, env *Env, prefix string) error {
	return WaitUntil(ctx, env.Timeouts.Step, env.Timeouts.Poll, "URL "+prefix, func(context.Context) (bool, error) {
		return strings.Contains(env.Driver.URL(), prefix), nil
	})
}

// formErrorWatch records a rendered .error element seen while polling for
// a form submission to take effect.
type formErrorWatch struct {
	seen bool
	text string
}

// check reports whether a form error is on the page. Its presence alone
// fails the form, even when the element has no text.
func (w *formErrorWatch) check(ctx context.Context, d Driver) (bool, error) {
	present, err := d.Exists(ctx, selFormError)
	if err != nil || !present {
		return false, err
	}
	w.seen = true
	if text, err := d.Text(ctx, selFormError); err == nil {
		w.text = strings.TrimSpace(text)
	}
	return true, nil
}

func (w *formErrorWatch) err(form string) error {
	if w.text == "" {
		return errs.New(errs.FailedPrecondition, "error in "+form+" form (no message)")
	}
	return errs.New(errs.FailedPrecondition, "error in "+form+" form: "+w.text)
}

// Register creates the account for st.Identity in st.Course and expects to
// land on the course.
func Register(ctx context.Context, env *Env, st State) (State, error) {
	d := env.Driver
	if err := d.Goto(ctx, env.Routes.Register()); err != nil {
		return st, err
	}
	id := st.Identity
	if err := fillForm(ctx, d, []field{
		{selUsername, id.Username},
		{selFirstName, id.FirstName},
		{selLastName, id.LastName},
		{selEmail, id.Email},
		{selPassword, id.Password},
		{selPasswordTwo, id.Password},
		{selCourseID, st.Course},
	}); err != nil {
		return st, err
	}
	if err := d.Click(ctx, selRegister); err != nil {
		return st, err
	}

	want := env.Routes.Course(st.Course)
	var form formErrorWatch
	err := WaitUntil(ctx, env.Timeouts.Step, env.Timeouts.Poll, "registration redirect to "+want, func(ctx context.Context) (bool, error) {
		if strings.Contains(d.URL(), want) {
			return true, nil
		}
		return form.check(ctx, d)
	})
	if form.seen {
		return st, form.err("registration")
	}
	if err != nil {
		return st, errs.Wrap(errs.AssertionFailed,
			fmt.Sprintf("newly registered user not redirected to expected course (%s), at %s", st.Course, d.URL()), err)
	}
	return st, nil
}

// Login signs in as st.Identity and checks the user menu shows its email.
func Login(ctx context.Context, env *Env, st State) (State, error) {
	d := env.Driver
	if err := d.Goto(ctx, env.Routes.Login()); err != nil {
		return st, err
	}
	if err := fillForm(ctx, d, []field{
		{selUsername, st.Identity.Username},
		{selPassword, st.Identity.Password},
	}); err != nil {
		return st, err
	}
	if err := d.Click(ctx, selLogin); err != nil {
		return st, err
	}

	want := env.Routes.Course(st.Course)
	if err := waitForURL(ctx, env, want); err != nil {
		return st, errs.Wrap(errs.AssertionFailed,
			fmt.Sprintf("login did not redirect to course %s, at %s", st.Course, d.URL()), err)
	}

	if err := d.ClickNth(ctx, selMenuToggle, userMenuIndex); err != nil {
		return st, err
	}
	shown, err := d.Text(ctx, selLoggedInAs)
	if err != nil {
		return st, err
	}
	if got := strings.TrimSpace(shown); got != st.Identity.Email {
		return st, errs.New(errs.AssertionFailed,
			fmt.Sprintf("user menu shows %q, expected %q", got, st.Identity.Email))
	}
	return st, nil
}

// Logout ends the session and expects the confirmation flash.
func Logout(ctx context.Context, env *Env, st State) (State, error) {
	d := env.Driver
	if err := d.Goto(ctx, env.Routes.Logout()); err != nil {
		return st, err
	}
	flash, err := d.Text(ctx, selFlash)
	if err != nil {
		if errs.Is(err, errs.ElementMissing) {
			return st, errs.Wrap(errs.ElementMissing, "no logout confirmation", err)
		}
		return st, err
	}
	if !strings.Contains(flash, LoggedOutMessage) {
		return st, errs.New(errs.AssertionFailed,
			fmt.Sprintf("logout flash %q does not contain %q", strings.TrimSpace(flash), LoggedOutMessage))
	}
	return st, nil
}

// Profile checks the profile page lists the current course.
func Profile(ctx context.Context, env *Env, st State) (State, error) {
	d := env.Driver
	if err := d.Goto(ctx, env.Routes.Profile()); err != nil {
		return st, err
	}
	course, err := d.Value(ctx, selCourseID)
	if err != nil {
		return st, err
	}
	if !strings.Contains(course, st.Course) {
		return st, errs.New(errs.AssertionFailed,
			fmt.Sprintf("profile course %q does not contain %q", course, st.Course))
	}
	return st, nil
}

// CreateCourse builds a new course from env.Template and waits for it to be
// provisioned. The returned state carries the new course.
func CreateCourse(ctx context.Context, env *Env, st State) (State, error) {
	d := env.Driver
	name, err := identity.Name(env.Entropy)
	if err != nil {
		return st, errs.Wrap(errs.Internal, "generate course name", err)
	}
	obs.From(ctx).Info("course_create", "course", name, "template", env.Template)

	if err := d.Goto(ctx, env.Routes.Designer()); err != nil {
		return st, err
	}
	if err := fillForm(ctx, d, []field{
		{selProjectName, name},
		{selProjectDesc, ProjectDescription},
	}); err != nil {
		return st, err
	}
	if err := d.Click(ctx, fmt.Sprintf("input[value='%s']", env.Template)); err != nil {
		return st, err
	}
	if err := d.Click(ctx, selSubmit); err != nil {
		return st, err
	}

	var form formErrorWatch
	err = WaitUntil(ctx, env.Timeouts.Provision, env.Timeouts.Poll, fmt.Sprintf("course %s to be ready", name), func(ctx context.Context) (bool, error) {
		body, err := d.Text(ctx, "body")
		if err != nil {
			return false, err
		}
		if strings.Contains(body, CourseBuildFailedMarker) {
			return false, Permanent(errs.New(errs.FailedPrecondition, "course "+name+" build failed"))
		}
		if strings.Contains(body, CourseReadyMarker) {
			return true, nil
		}
		return form.check(ctx, d)
	})
	if form.seen {
		return st, form.err("designer")
	}
	if err != nil {
		return st, err
	}

	st.Course = name
	return st, nil
}

func editorValue(ctx context.Context, d Driver) (string, error) {
	v, err := d.Eval(ctx, editorRef+".getValue()", nil)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.New(errs.AssertionFailed, fmt.Sprintf("editor value is %T, not a string", v))
	}
	return s, nil
}

// waitForEditor waits for the activecode widget to register itself and
// returns its current value.
func waitForEditor(ctx context.Context, env *Env) (string, error) {
	var value string
	err := WaitUntil(ctx, env.Timeouts.Step, env.Timeouts.Poll, "editor "+editorRef, func(ctx context.Context) (bool, error) {
		v, err := editorValue(ctx, env.Driver)
		if err != nil {
			return false, err
		}
		value = v
		return true, nil
	})
	return value, err
}

// SaveLoadCode round-trips a program through the activecode save and load
// endpoints of the overview page.
func SaveLoadCode(ctx context.Context, env *Env, st State) (State, error) {
	d := env.Driver
	if err := d.Goto(ctx, env.Routes.Overview()); err != nil {
		return st, err
	}
	initial, err := waitForEditor(ctx, env)
	if err != nil {
		return st, err
	}
	if initial != DefaultCode {
		return st, errs.New(errs.AssertionFailed,
			fmt.Sprintf("initial editor content: expected %q, found %q", DefaultCode, initial))
	}

	if _, err := d.Eval(ctx, "code => "+editorRef+".setValue(code)", HelloWorldCode); err != nil {
		return st, err
	}
	if err := d.ClickAndWaitResponse(ctx, selSaveButton, SaveProgramGlob); err != nil {
		return st, err
	}

	if err := d.Reload(ctx); err != nil {
		return st, err
	}
	if _, err := waitForEditor(ctx, env); err != nil {
		return st, err
	}
	if err := d.ClickAndWaitResponse(ctx, selLoadButton, LoadProgramGlob); err != nil {
		return st, err
	}

	var found string
	err = WaitUntil(ctx, env.Timeouts.Step, env.Timeouts.Poll, "loaded program", func(ctx context.Context) (bool, error) {
		v, err := editorValue(ctx, d)
		if err != nil {
			return false, err
		}
		found = v
		return v == HelloWorldCode, nil
	})
	if err != nil {
		return st, errs.Wrap(errs.AssertionFailed,
			fmt.Sprintf("loading saved code failed: expected '%s', found '%s'", HelloWorldCode, found), err)
	}
	return st, nil
}
