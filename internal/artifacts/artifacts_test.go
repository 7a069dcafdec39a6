package artifacts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/coursewalk/internal/errs"
	"github.com/kuitang/coursewalk/internal/s3client"
	"github.com/kuitang/coursewalk/internal/workflow"
)

func testFailure() *workflow.StepError {
	return &workflow.StepError{
		RunID: "run-abc",
		Index: 1,
		Step:  "logout",
		Err:   errs.New(errs.ElementMissing, "no logout confirmation"),
		Evidence: &workflow.Evidence{
			URL:        "http://127.0.0.1:8000/runestone/default/user/login",
			Title:      "Login",
			HTML:       "<html><body>login</body></html>",
			Screenshot: []byte{0x89, 'P', 'N', 'G'},
			CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func TestRecorder_SaveToDirAndS3(t *testing.T) {
	root := t.TempDir()
	bucket := s3client.TestClient(t, "walk-artifacts", "coursewalk")
	rec := &Recorder{Stores: []Store{DirStore{Root: root}, S3Store{Client: bucket}}}

	require.NoError(t, rec.Save(context.Background(), testFailure()))

	dir := filepath.Join(root, "run-abc", "02-logout")
	html, err := os.ReadFile(filepath.Join(dir, "page.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html><body>login</body></html>", string(html))

	png, err := os.ReadFile(filepath.Join(dir, "screenshot.png"))
	require.NoError(t, err)
	assert.Len(t, png, 4)

	raw, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, "element_missing", summary.Code)
	assert.Equal(t, "logout", summary.Step)
	assert.Equal(t, []string{"page.html", "screenshot.png"}, summary.Files)

	names, err := bucket.List(context.Background(), "run-abc/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"run-abc/02-logout/page.html",
		"run-abc/02-logout/screenshot.png",
		"run-abc/02-logout/summary.json",
	}, names)
}

func TestRecorder_SaveWithoutEvidence(t *testing.T) {
	root := t.TempDir()
	rec := &Recorder{Stores: []Store{DirStore{Root: root}}}
	failure := testFailure()
	failure.Evidence = nil

	require.NoError(t, rec.Save(context.Background(), failure))
	entries, err := os.ReadDir(filepath.Join(root, "run-abc", "02-logout"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "summary.json", entries[0].Name())
}

func TestRecorder_WriteReport(t *testing.T) {
	root := t.TempDir()
	rec := &Recorder{Stores: []Store{DirStore{Root: root}}}
	plan := workflow.LocalAuthPlan()
	report := workflow.Report{
		RunID:    "run-abc",
		Started:  time.Now(),
		Duration: 1500 * time.Millisecond,
		Steps: []workflow.StepResult{
			{Index: 0, Name: "register", Duration: time.Second},
			{Index: 1, Name: "logout", Duration: 10 * time.Millisecond, Code: errs.ElementMissing, Error: "no logout confirmation"},
		},
		Final: workflow.State{Course: "devcourse"},
	}

	require.NoError(t, rec.WriteReport(context.Background(), report, plan))

	raw, err := os.ReadFile(filepath.Join(root, "run-abc", "report.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, false, doc["passed"])
	assert.Equal(t, "devcourse", doc["final_course"])
	assert.Len(t, doc["planned"], len(plan))
	assert.Len(t, doc["steps"], 2)
}

func TestDirStore_RejectsEscape(t *testing.T) {
	err := DirStore{Root: t.TempDir()}.Put(context.Background(), "../outside.txt", []byte("x"), "text/plain")
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	a, b := NewRunID(now), NewRunID(now)
	assert.Regexp(t, regexp.MustCompile(`^20261018T093000Z-[0-9a-f]{8}$`), a)
	assert.NotEqual(t, a, b)
}
