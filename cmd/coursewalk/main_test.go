package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/coursewalk/internal/config"
	"github.com/kuitang/coursewalk/internal/errs"
	"github.com/kuitang/coursewalk/internal/workflow"
)

func TestPlanCommand_ListsSteps(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"plan"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, len(workflow.LocalAuthPlan()))
	assert.Equal(t, " 1. register", lines[0])
	assert.Equal(t, " 9. logout", lines[8])
}

func TestPrintReport(t *testing.T) {
	plan := workflow.LocalAuthPlan()
	report := workflow.Report{
		RunID:    "20260301T120000Z-abcd1234",
		Duration: 3 * time.Second,
		Steps: []workflow.StepResult{
			{Index: 0, Name: "register", Duration: time.Second},
			{Index: 1, Name: "logout", Duration: time.Second, Code: errs.ElementMissing, Error: "no logout confirmation"},
		},
	}

	var out bytes.Buffer
	printReport(&out, report, plan)
	text := out.String()

	assert.Contains(t, text, "ok     1. register")
	assert.Contains(t, text, "FAIL   2. logout")
	assert.Contains(t, text, "[element_missing] no logout confirmation")
	assert.Equal(t, len(plan)-2, strings.Count(text, "skip"))
	assert.True(t, strings.HasSuffix(text, "FAIL 20260301T120000Z-abcd1234 (3s)\n"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(&config.ValidationError{Errors: []string{"BASE_URL"}}))
	assert.Equal(t, 2, exitCode(fmt.Errorf("wrapped: %w", errs.New(errs.InvalidArgument, "bad"))))
	assert.Equal(t, 1, exitCode(errs.New(errs.AssertionFailed, "walk failed")))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}
