package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/kuitang/coursewalk/internal/errs"
	"github.com/kuitang/coursewalk/internal/logutil"
	"github.com/kuitang/coursewalk/internal/obs"
)

// Step is a named entry in a Plan.
type Step struct {
	Name string
	Run  StepFunc
}

// Plan is an ordered list of steps. Each step's success is a precondition for
// the next.
type Plan []Step

// Names lists the step names in order.
func (p Plan) Names() []string {
	names := make([]string, len(p))
	for i, s := range p {
		names[i] = s.Name
	}
	return names
}

// LocalAuthPlan is the full walk for a site using local username/password
// accounts.
func LocalAuthPlan() Plan {
	return Plan{
		{Name: "register", Run: Register},
		{Name: "logout", Run: Logout},
		{Name: "login", Run: Login},
		{Name: "profile", Run: Profile},
		{Name: "create-course", Run: CreateCourse},
		{Name: "logout", Run: Logout},
		{Name: "login", Run: Login},
		{Name: "save-load-code", Run: SaveLoadCode},
		{Name: "logout", Run: Logout},
	}
}

// EvidenceSink persists the page state of a failed step.
type EvidenceSink interface {
	Save(ctx context.Context, failure *StepError) error
}

// StepError is returned by Runner.Run for the first failing step.
type StepError struct {
	RunID    string
	Index    int
	Step     string
	Err      error
	Evidence *Evidence
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index+1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepResult records one executed step.
type StepResult struct {
	Index    int
	Name     string
	Duration time.Duration
	Code     errs.Code // empty when the step passed
	Error    string
}

// Passed reports whether the step succeeded.
func (r StepResult) Passed() bool { return r.Error == "" }

// Report summarizes a run.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Steps    []StepResult
	Final    State
}

// Passed reports whether every step of the plan ran and succeeded.
func (r Report) Passed(plan Plan) bool {
	if len(r.Steps) != len(plan) {
		return false
	}
	for _, s := range r.Steps {
		if !s.Passed() {
			return false
		}
	}
	return true
}

// Runner executes a Plan against an Env.
type Runner struct {
	Env   *Env
	RunID string
	// Sink receives evidence for the failing step. Optional.
	Sink EvidenceSink
	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run executes plan in order starting from initial. It stops at the first
// failure and returns a *StepError; there are no retries.
func (r *Runner) Run(ctx context.Context, plan Plan, initial State) (Report, error) {
	ctx = obs.WithRunID(ctx, r.RunID)
	logger := obs.From(ctx)

	report := Report{RunID: r.RunID, Started: r.now(), Final: initial}
	st := initial
	logger.Info("walk_started", "steps", len(plan), "course", initial.Course, "user", initial.Identity.Username)

	for i, step := range plan {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, report, &StepError{RunID: r.RunID, Index: i, Step: step.Name, Err: err})
		}

		stepCtx := obs.WithStep(ctx, step.Name)
		start := r.now()
		next, err := step.Run(stepCtx, r.Env, st)
		dur := r.now().Sub(start)

		result := StepResult{Index: i, Name: step.Name, Duration: dur}
		if err != nil {
			result.Code = errs.CodeOf(err)
			result.Error = err.Error()
			report.Steps = append(report.Steps, result)
			report.Final = st

			failure := &StepError{RunID: r.RunID, Index: i, Step: step.Name, Err: err}
			r.collectEvidence(stepCtx, failure)
			obs.From(stepCtx).Error("step_failed",
				"index", i,
				"dur_ms", dur.Milliseconds(),
				"code", string(result.Code),
				"error", err.Error(),
			)
			return r.finish(ctx, report, failure)
		}

		report.Steps = append(report.Steps, result)
		st = next
		report.Final = st
		obs.From(stepCtx).Info("step_passed", "index", i, "dur_ms", dur.Milliseconds(), "course", st.Course)
	}

	return r.finish(ctx, report, nil)
}

func (r *Runner) finish(ctx context.Context, report Report, failure *StepError) (Report, error) {
	report.Duration = r.now().Sub(report.Started)
	logger := obs.From(ctx)
	if failure != nil {
		logger.Error("walk_failed", "step", failure.Step, "dur_ms", report.Duration.Milliseconds())
		return report, failure
	}
	logger.Info("walk_passed", "steps", len(report.Steps), "dur_ms", report.Duration.Milliseconds())
	return report, nil
}

// collectEvidence captures the page and hands it to the sink. Capture or sink
// problems are logged; they never replace the step's own error.
func (r *Runner) collectEvidence(ctx context.Context, failure *StepError) {
	logger := obs.From(ctx)
	if r.Env == nil || r.Env.Driver == nil {
		return
	}
	ev, err := r.Env.Driver.Capture(ctx)
	if err != nil {
		logger.Warn("evidence_capture_failed", "error", err)
		return
	}
	failure.Evidence = &ev
	logger.Info("evidence_captured",
		"url", ev.URL,
		"title", ev.Title,
		"screenshot_bytes", len(ev.Screenshot),
		"html_preview", logutil.TruncateForLog(ev.HTML, 500),
	)
	if r.Sink == nil {
		return
	}
	if err := r.Sink.Save(ctx, failure); err != nil {
		logger.Warn("evidence_save_failed", "error", err)
	}
}
