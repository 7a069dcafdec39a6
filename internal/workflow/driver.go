package workflow

import (
	"context"
	"time"
)

// Driver is the slice of a browser session the walk needs. Selectors are CSS.
//
// Lookups that need an element (Fill, Click, Text, Value) wait for it up to the
// driver's own step timeout and fail with errs.ElementMissing when it never
// shows up. Exists answers immediately.
type Driver interface {
	Goto(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL() string

	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// ClickNth clicks the index-th (zero based) match of selector.
	ClickNth(ctx context.Context, selector string, index int) error
	Text(ctx context.Context, selector string) (string, error)
	Value(ctx context.Context, selector string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)

	// Eval runs a JavaScript expression in the page. When arg is non-nil the
	// expression must be a function taking it.
	Eval(ctx context.Context, expression string, arg any) (any, error)

	// ClickAndWaitResponse clicks selector and returns once a response whose
	// URL matches urlGlob has arrived.
	ClickAndWaitResponse(ctx context.Context, selector, urlGlob string) error

	// Capture snapshots the current page for a failure report.
	Capture(ctx context.Context) (Evidence, error)
}

// Evidence is the page state at the moment a step failed.
type Evidence struct {
	URL        string
	Title      string
	HTML       string
	Screenshot []byte // PNG, may be empty
	CapturedAt time.Time
}
