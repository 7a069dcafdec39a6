package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/coursewalk/internal/artifacts"
	"github.com/kuitang/coursewalk/internal/browser"
	"github.com/kuitang/coursewalk/internal/config"
	"github.com/kuitang/coursewalk/internal/errs"
	"github.com/kuitang/coursewalk/internal/identity"
	"github.com/kuitang/coursewalk/internal/obs"
	"github.com/kuitang/coursewalk/internal/s3client"
	"github.com/kuitang/coursewalk/internal/workflow"
)

// artifactPrefix namespaces uploads inside a shared bucket.
const artifactPrefix = "coursewalk"

func runWalk(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(overrides)
	if err != nil {
		return err
	}
	cfg.PrintStartupSummary()

	runID := artifacts.NewRunID(time.Now())
	ctx := obs.WithRunID(cmd.Context(), runID)
	logger := obs.From(ctx)

	recorder, err := newRecorder(cmd, cfg)
	if err != nil {
		return err
	}

	id, err := identity.Generate(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	id.Password = cfg.Password

	session, err := browser.Open(ctx, browser.Options{
		Browser:     cfg.Browser,
		Headless:    cfg.Headless,
		StepTimeout: cfg.StepTimeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("browser_close_failed", "error", err)
		}
	}()

	runner := &workflow.Runner{
		Env: &workflow.Env{
			Driver: session,
			Routes: workflow.NewRoutes(cfg.BaseURL, cfg.AppPath),
			Timeouts: workflow.Timeouts{
				Step:      cfg.StepTimeout,
				Provision: cfg.ProvisionTimeout,
				Poll:      cfg.PollInterval,
			},
			Entropy:  rand.Reader,
			Template: cfg.CourseTemplate,
		},
		RunID: runID,
		Sink:  recorder,
	}
	plan := workflow.LocalAuthPlan()
	report, runErr := runner.Run(ctx, plan, workflow.State{Identity: id, Course: cfg.InitialCourse})

	if err := recorder.WriteReport(ctx, report, plan); err != nil {
		logger.Warn("report_write_failed", "error", err)
	}
	printReport(cmd.OutOrStdout(), report, plan)
	return runErr
}

func newRecorder(cmd *cobra.Command, cfg *config.Config) (*artifacts.Recorder, error) {
	stores := []artifacts.Store{artifacts.DirStore{Root: cfg.ArtifactsDir}}
	if cfg.UploadArtifactsToS3() {
		client, err := s3client.New(cmd.Context(), s3client.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.ArtifactsBucket,
			Prefix:          artifactPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("artifact bucket: %w", err)
		}
		stores = append(stores, artifacts.S3Store{Client: client})
		obs.From(cmd.Context()).Info("artifact_upload_enabled", "bucket", client.BucketName(), "prefix", artifactPrefix)
	}
	return &artifacts.Recorder{Stores: stores}, nil
}

func printReport(w io.Writer, report workflow.Report, plan workflow.Plan) {
	for _, s := range report.Steps {
		if s.Passed() {
			fmt.Fprintf(w, "  ok    %2d. %-14s %s\n", s.Index+1, s.Name, s.Duration.Round(time.Millisecond))
			continue
		}
		fmt.Fprintf(w, "  FAIL  %2d. %-14s %s [%s] %s\n", s.Index+1, s.Name, s.Duration.Round(time.Millisecond), s.Code, s.Error)
	}
	for i := len(report.Steps); i < len(plan); i++ {
		fmt.Fprintf(w, "  skip  %2d. %s\n", i+1, plan[i].Name)
	}
	status := "PASS"
	if !report.Passed(plan) {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%s)\n", status, report.RunID, report.Duration.Round(time.Millisecond))
}

// exitCode maps a command error to a process exit status: 2 for bad
// configuration, 1 for anything else.
func exitCode(err error) int {
	var invalid *config.ValidationError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &invalid), errs.Is(err, errs.InvalidArgument):
		return 2
	default:
		return 1
	}
}
