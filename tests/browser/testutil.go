// Package browser runs the full walk in a real browser against the courseware
// replica served in-process.
package browser

import (
	"context"
	crand "crypto/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kuitang/coursewalk/internal/artifacts"
	"github.com/kuitang/coursewalk/internal/browser"
	"github.com/kuitang/coursewalk/internal/courseware"
	"github.com/kuitang/coursewalk/internal/identity"
	"github.com/kuitang/coursewalk/internal/s3client"
	"github.com/kuitang/coursewalk/internal/workflow"
)

const (
	appPath            = "/runestone"
	artifactBucketName = "walk-test-artifacts"

	// Never introduce a larger timeout anywhere in tests/browser.
	browserMaxTimeout = 5 * time.Second

	provisionDelay = 200 * time.Millisecond
	pollInterval   = 50 * time.Millisecond
)

// WalkTestEnv is a courseware server, a browser session and an artifact
// recorder writing to both a temp dir and a fake S3 bucket.
type WalkTestEnv struct {
	Server      *courseware.Server
	BaseURL     string
	Session     *browser.Session
	S3          *s3client.Client
	ArtifactDir string
	Recorder    *artifacts.Recorder
}

// SetupWalkTestEnv skips in -short mode or when no playwright browser is
// installed.
func SetupWalkTestEnv(t *testing.T) *WalkTestEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	ctx := context.Background()

	srv, err := courseware.New(ctx, courseware.Config{
		AppPath:        appPath,
		DataDir:        t.TempDir(),
		ProvisionDelay: provisionDelay,
		Hasher:         courseware.FakeInsecureHasher{},
	})
	if err != nil {
		t.Fatalf("start courseware: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})

	session, err := browser.Open(ctx, browser.Options{
		Browser:     "chromium",
		Headless:    true,
		StepTimeout: browserMaxTimeout,
	})
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	s3 := s3client.TestClient(t, artifactBucketName, "coursewalk")
	dir := t.TempDir()
	return &WalkTestEnv{
		Server:      srv,
		BaseURL:     ts.URL,
		Session:     session,
		S3:          s3,
		ArtifactDir: dir,
		Recorder: &artifacts.Recorder{Stores: []artifacts.Store{
			artifacts.DirStore{Root: dir},
			artifacts.S3Store{Client: s3},
		}},
	}
}

// Runner returns a runner for runID against the test server.
func (e *WalkTestEnv) Runner(runID string) *workflow.Runner {
	return &workflow.Runner{
		Env: &workflow.Env{
			Driver: e.Session,
			Routes: workflow.NewRoutes(e.BaseURL, appPath),
			Timeouts: workflow.Timeouts{
				Step:      browserMaxTimeout,
				Provision: browserMaxTimeout,
				Poll:      pollInterval,
			},
			Entropy:  crand.Reader,
			Template: courseware.DefaultBaseCourse,
		},
		RunID: runID,
		Sink:  e.Recorder,
	}
}

// NewState returns a fresh identity registering for devcourse.
func NewState(t *testing.T) workflow.State {
	t.Helper()
	id, err := identity.Generate(crand.Reader)
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return workflow.State{Identity: id, Course: "devcourse"}
}
