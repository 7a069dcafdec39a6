// Package browser drives a real browser through playwright for the walk.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/coursewalk/internal/errs"
	"github.com/kuitang/coursewalk/internal/obs"
	"github.com/kuitang/coursewalk/internal/workflow"
)

// Options selects and configures the browser.
type Options struct {
	Browser     string // chromium, firefox or webkit
	Headless    bool
	StepTimeout time.Duration
}

// Session owns one playwright driver, browser, context and page.
// Close must be called on every exit path.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	stepTimeout time.Duration
}

var _ workflow.Driver = (*Session)(nil)

// Open starts playwright and launches the requested browser with a fresh page.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.StepTimeout <= 0 {
		return nil, errs.New(errs.InvalidArgument, "step timeout must be positive")
	}
	logger := obs.From(ctx).With("pkg", "browser")

	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "start playwright", err)
	}
	s := &Session{pw: pw, stepTimeout: opts.StepTimeout}

	var engine playwright.BrowserType
	switch opts.Browser {
	case "", "chromium":
		engine = pw.Chromium
	case "firefox":
		engine = pw.Firefox
	case "webkit":
		engine = pw.WebKit
	default:
		_ = s.Close()
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown browser %q", opts.Browser))
	}

	start := time.Now()
	s.browser, err = engine.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		_ = s.Close()
		return nil, errs.Wrap(errs.Unavailable, "launch "+engine.Name(), err)
	}

	s.context, err = s.browser.NewContext()
	if err != nil {
		_ = s.Close()
		return nil, errs.Wrap(errs.Unavailable, "create browser context", err)
	}
	s.context.SetDefaultTimeout(ms(opts.StepTimeout))
	s.context.SetDefaultNavigationTimeout(ms(opts.StepTimeout))

	s.page, err = s.context.NewPage()
	if err != nil {
		_ = s.Close()
		return nil, errs.Wrap(errs.Unavailable, "create page", err)
	}

	logger.Info("browser_launched",
		"browser", engine.Name(),
		"version", s.browser.Version(),
		"headless", opts.Headless,
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return s, nil
}

// Close releases the page, context, browser and driver. Safe to call more than once.
func (s *Session) Close() error {
	var errList []error
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close context: %w", err))
		}
		s.context = nil
		s.page = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close browser: %w", err))
		}
		s.browser = nil
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errList = append(errList, fmt.Errorf("stop playwright: %w", err))
		}
		s.pw = nil
	}
	return errors.Join(errList...)
}

func ms(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}

// timeout is the step timeout, shortened to whatever ctx has left.
func (s *Session) timeout(ctx context.Context) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := s.stepTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(ms(d)), nil
}

func isTimeout(err error) bool {
	return errors.Is(err, playwright.ErrTimeout)
}

func lookupError(action, selector string, err error) error {
	if isTimeout(err) {
		return errs.Wrap(errs.ElementMissing, fmt.Sprintf("%s: element %s not found", action, selector), err)
	}
	return errs.Wrap(errs.Unavailable, fmt.Sprintf("%s %s", action, selector), err)
}

func (s *Session) Goto(ctx context.Context, url string) error {
	timeout, err := s.timeout(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   timeout,
	})
	if err != nil {
		return errs.Wrap(errs.Unavailable, "navigate to "+url, err)
	}
	status := 0
	if resp != nil {
		status = resp.Status()
	}
	obs.From(ctx).Debug("navigate", "url", url, "landed", s.page.URL(), "status", status, "dur_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	timeout, err := s.timeout(ctx)
	if err != nil {
		return err
	}
	if _, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   timeout,
	}); err != nil {
		return errs.Wrap(errs.Unavailable, "reload "+s.page.URL(), err)
	}
	return nil
}

func (s *Session) URL() string {
	return s.page.URL()
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	timeout, err := s.timeout(ctx)
	if err != nil {
		return err
	}
	if err := s.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{Timeout: timeout}); err != nil {
		return lookupError("fill", selector, err)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.ClickNth(ctx, selector, 0)
}

func (s *Session) ClickNth(ctx context.Context, selector string, index int) error {
	timeout, err := s.timeout(ctx)
	if err != nil {
		return err
	}
	if err := s.page.Locator(selector).Nth(index).Click(playwright.LocatorClickOptions{Timeout: timeout}); err != nil {
		return lookupError("click", fmt.Sprintf("%s[%d]", selector, index), err)
	}
	return nil
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	timeout, err := s.timeout(ctx)
	if err != nil {
		return "", err
	}
	text, err := s.page.Locator(selector).First().InnerText(playwright.LocatorInnerTextOptions{Timeout: timeout})
	if err != nil {
		return "", lookupError("read text of", selector, err)
	}
	return text, nil
}

func (s *Session) Value(ctx context.Context, selector string) (string, error) {
	timeout, err := s.timeout(ctx)
	if err != nil {
		return "", err
	}
	value, err := s.page.Locator(selector).First().InputValue(playwright.LocatorInputValueOptions{Timeout: timeout})
	if err != nil {
		return "", lookupError("read value of", selector, err)
	}
	return value, nil
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n, err := s.page.Locator(selector).Count()
	if err != nil {
		return false, errs.Wrap(errs.Unavailable, "count "+selector, err)
	}
	return n > 0, nil
}

func (s *Session) Eval(ctx context.Context, expression string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		v   any
		err error
	)
	if arg == nil {
		v, err = s.page.Evaluate(expression)
	} else {
		v, err = s.page.Evaluate(expression, arg)
	}
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "evaluate "+expression, err)
	}
	return v, nil
}

func (s *Session) ClickAndWaitResponse(ctx context.Context, selector, urlGlob string) error {
	timeout, err := s.timeout(ctx)
	if err != nil {
		return err
	}
	resp, err := s.page.ExpectResponse(urlGlob, func() error {
		return s.page.Locator(selector).First().Click(playwright.LocatorClickOptions{Timeout: timeout})
	}, playwright.PageExpectResponseOptions{Timeout: timeout})
	if err != nil {
		if isTimeout(err) {
			return errs.Wrap(errs.DeadlineExceeded, fmt.Sprintf("no response matching %s after clicking %s", urlGlob, selector), err)
		}
		return lookupError("click", selector, err)
	}
	if resp.Status() >= 400 {
		return errs.New(errs.Unavailable, fmt.Sprintf("%s returned HTTP %d", resp.URL(), resp.Status()))
	}
	obs.From(ctx).Debug("response", "url", resp.URL(), "status", resp.Status())
	return nil
}

// Capture snapshots the page. Pieces that cannot be read are left empty.
func (s *Session) Capture(ctx context.Context) (workflow.Evidence, error) {
	if s.page == nil || s.page.IsClosed() {
		return workflow.Evidence{}, errs.New(errs.FailedPrecondition, "page is closed")
	}
	logger := obs.From(ctx)
	ev := workflow.Evidence{URL: s.page.URL(), CapturedAt: time.Now().UTC()}

	var err error
	if ev.Title, err = s.page.Title(); err != nil {
		logger.Warn("capture_title_failed", "error", err)
	}
	if ev.HTML, err = s.page.Content(); err != nil {
		logger.Warn("capture_content_failed", "error", err)
	}
	if ev.Screenshot, err = s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Timeout:  playwright.Float(ms(s.stepTimeout)),
	}); err != nil {
		logger.Warn("capture_screenshot_failed", "error", err)
	}
	ev.Title = strings.TrimSpace(ev.Title)
	return ev, nil
}
