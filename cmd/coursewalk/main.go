// Command coursewalk drives a real browser through the course platform's
// account and activecode workflow, and can serve a local replica of the
// platform to walk against.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuitang/coursewalk/internal/config"
	"github.com/kuitang/coursewalk/internal/obs"
	"github.com/kuitang/coursewalk/internal/workflow"
)

var overrides config.Overrides

var rootCmd = &cobra.Command{
	Use:   "coursewalk",
	Short: "End-to-end browser walk of the course platform",
	Long: `coursewalk registers a fresh user, logs out and back in, checks the
profile, creates a course, and saves and reloads an activecode program,
failing at the first step that does not behave.

Configuration comes from the environment (BASE_URL, BROWSER, STEP_TIMEOUT,
ARTIFACTS_BUCKET, ...); flags override it.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Walk the site once and exit non-zero on failure",
	Args:  cobra.NoArgs,
	RunE:  runWalk,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local courseware replica",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the steps a run performs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printPlan(cmd.OutOrStdout(), workflow.LocalAuthPlan())
	},
}

func init() {
	runCmd.Flags().StringVar(&overrides.BaseURL, "base-url", "", "site root, e.g. http://127.0.0.1:8000 (BASE_URL)")
	runCmd.Flags().StringVar(&overrides.Browser, "browser", "", "chromium, firefox or webkit (BROWSER)")
	runCmd.Flags().BoolVar(&overrides.Headed, "headed", false, "show the browser window")
	runCmd.Flags().BoolVar(&overrides.NoS3, "no-s3", false, "never upload failure artifacts to S3")
	runCmd.Flags().StringVar(&overrides.Artifact, "artifacts", "", "failure artifact directory (ARTIFACTS_DIR)")

	serveCmd.Flags().StringVar(&overrides.Addr, "addr", "", "listen address (LISTEN_ADDR)")
	serveCmd.Flags().StringVar(&overrides.DataDir, "data-dir", "", "database directory (DATA_DIR)")

	rootCmd.AddCommand(runCmd, serveCmd, planCmd)
}

func printPlan(w io.Writer, plan workflow.Plan) {
	for i, name := range plan.Names() {
		fmt.Fprintf(w, "%2d. %s\n", i+1, name)
	}
}

func main() {
	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}
