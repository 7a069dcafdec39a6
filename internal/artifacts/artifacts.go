// Package artifacts persists what a walk leaves behind: page evidence for the
// failing step and the run report. Artifacts go to a local directory and,
// when configured, to S3.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/coursewalk/internal/errs"
	"github.com/kuitang/coursewalk/internal/obs"
	"github.com/kuitang/coursewalk/internal/s3client"
	"github.com/kuitang/coursewalk/internal/workflow"
)

// Store writes named blobs. Names use forward slashes.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	// Location describes where name ends up, for logs.
	Location(name string) string
}

// DirStore writes under a local directory.
type DirStore struct {
	Root string
}

func (d DirStore) Put(_ context.Context, name string, data []byte, _ string) error {
	path, err := d.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	return nil
}

func (d DirStore) Location(name string) string {
	path, err := d.path(name)
	if err != nil {
		return name
	}
	return path
}

func (d DirStore) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errs.New(errs.InvalidArgument, "artifact name escapes root: "+name)
	}
	return filepath.Join(d.Root, clean), nil
}

// S3Store uploads through an s3client.Client.
type S3Store struct {
	Client *s3client.Client
}

func (s S3Store) Put(ctx context.Context, name string, data []byte, contentType string) error {
	return s.Client.PutObject(ctx, name, data, contentType)
}

func (s S3Store) Location(name string) string {
	return s.Client.URI(name)
}

// NewRunID returns a sortable, unique id for one walk.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Summary is the JSON description of a failed step.
type Summary struct {
	RunID      string    `json:"run_id"`
	Step       string    `json:"step"`
	Index      int       `json:"index"`
	Code       string    `json:"code"`
	Error      string    `json:"error"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitzero"`
	Files      []string  `json:"files"`
}

// Recorder fans artifacts out to every store. It implements
// workflow.EvidenceSink.
type Recorder struct {
	Stores []Store
}

var _ workflow.EvidenceSink = (*Recorder)(nil)

// StepDir is the directory holding the artifacts of one failed step.
func StepDir(runID string, index int, step string) string {
	return fmt.Sprintf("%s/%02d-%s", runID, index+1, step)
}

// Save writes page.html, screenshot.png and summary.json for failure.
func (r *Recorder) Save(ctx context.Context, failure *workflow.StepError) error {
	dir := StepDir(failure.RunID, failure.Index, failure.Step)
	summary := Summary{
		RunID: failure.RunID,
		Step:  failure.Step,
		Index: failure.Index,
		Code:  string(errs.CodeOf(failure.Err)),
		Error: failure.Err.Error(),
	}

	type blob struct {
		name        string
		data        []byte
		contentType string
	}
	var blobs []blob
	if ev := failure.Evidence; ev != nil {
		summary.URL = ev.URL
		summary.Title = ev.Title
		summary.CapturedAt = ev.CapturedAt
		if ev.HTML != "" {
			blobs = append(blobs, blob{"page.html", []byte(ev.HTML), "text/html; charset=utf-8"})
		}
		if len(ev.Screenshot) > 0 {
			blobs = append(blobs, blob{"screenshot.png", ev.Screenshot, "image/png"})
		}
	}
	for _, b := range blobs {
		summary.Files = append(summary.Files, b.name)
	}
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	blobs = append(blobs, blob{"summary.json", summaryJSON, "application/json"})

	var errList []error
	for _, b := range blobs {
		if err := r.put(ctx, dir+"/"+b.name, b.data, b.contentType); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// ReportEntry is one step in report.json.
type ReportEntry struct {
	Index  int    `json:"index"`
	Step   string `json:"step"`
	DurMS  int64  `json:"dur_ms"`
	Passed bool   `json:"passed"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WriteReport stores report.json for the whole run.
func (r *Recorder) WriteReport(ctx context.Context, report workflow.Report, plan workflow.Plan) error {
	doc := struct {
		RunID   string        `json:"run_id"`
		Started time.Time     `json:"started"`
		DurMS   int64         `json:"dur_ms"`
		Passed  bool          `json:"passed"`
		Planned []string      `json:"planned"`
		Steps   []ReportEntry `json:"steps"`
		Course  string        `json:"final_course"`
	}{
		RunID:   report.RunID,
		Started: report.Started.UTC(),
		DurMS:   report.Duration.Milliseconds(),
		Passed:  report.Passed(plan),
		Planned: plan.Names(),
		Course:  report.Final.Course,
	}
	for _, s := range report.Steps {
		doc.Steps = append(doc.Steps, ReportEntry{
			Index:  s.Index,
			Step:   s.Name,
			DurMS:  s.Duration.Milliseconds(),
			Passed: s.Passed(),
			Code:   string(s.Code),
			Error:  s.Error,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return r.put(ctx, report.RunID+"/report.json", data, "application/json")
}

func (r *Recorder) put(ctx context.Context, name string, data []byte, contentType string) error {
	logger := obs.From(ctx)
	var errList []error
	for _, store := range r.Stores {
		if err := store.Put(ctx, name, data, contentType); err != nil {
			logger.Warn("artifact_write_failed", "location", store.Location(name), "error", err)
			errList = append(errList, err)
			continue
		}
		logger.Info("artifact_written", "location", store.Location(name), "bytes", len(data))
	}
	return errors.Join(errList...)
}
