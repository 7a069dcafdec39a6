// Package config loads coursewalk configuration from environment variables and
// CLI flag overrides, validates it, and provides sensible defaults.
//
// The walk settings describe the site under test and how patiently to wait for it.
// The server settings configure the in-process courseware fixture (coursewalk serve).
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/coursewalk/internal/urlutil"
)

const (
	DefaultBaseURL          = "http://127.0.0.1:8000"
	DefaultAppPath          = "/runestone"
	DefaultInitialCourse    = "devcourse"
	DefaultPassword         = "t3stp4ssword"
	DefaultCourseTemplate   = "thinkcspy"
	DefaultStepTimeout      = 10 * time.Second
	DefaultProvisionTimeout = 60 * time.Second
	DefaultPollInterval     = 250 * time.Millisecond
)

// Browsers lists the engines playwright can launch.
var Browsers = []string{"chromium", "firefox", "webkit"}

// Config holds all coursewalk configuration.
type Config struct {
	// Site under test
	BaseURL        string
	AppPath        string
	InitialCourse  string
	Password       string
	CourseTemplate string

	// Browser
	Browser  string
	Headless bool

	// Waits
	StepTimeout      time.Duration
	ProvisionTimeout time.Duration
	PollInterval     time.Duration

	// Failure artifacts
	ArtifactsDir string
	NoS3         bool // If true, never upload artifacts to S3 (--no-s3)

	// S3 artifact upload (enabled when ARTIFACTS_BUCKET is set)
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	ArtifactsBucket    string // ARTIFACTS_BUCKET

	// Courseware fixture
	ListenAddr     string
	DataDir        string
	DBKey          string // optional, 64 hex characters
	ProvisionDelay time.Duration
	AuthRPS        float64
	AuthBurst      int
}

// Overrides carries CLI flag values. Zero values leave the environment's choice in place.
type Overrides struct {
	BaseURL  string
	Browser  string
	Headed   bool
	NoS3     bool
	Addr     string
	DataDir  string
	Artifact string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// LoadConfig loads configuration from environment variables and applies flag overrides.
func LoadConfig(o Overrides) (*Config, error) {
	cfg := &Config{}

	// Site under test
	cfg.BaseURL = urlutil.NormalizeBase(getEnvOrDefault("BASE_URL", DefaultBaseURL))
	if o.BaseURL != "" {
		cfg.BaseURL = urlutil.NormalizeBase(o.BaseURL)
	}
	cfg.AppPath = urlutil.NormalizeMountPath(getEnvOrDefault("APP_PATH", DefaultAppPath))
	cfg.InitialCourse = getEnvOrDefault("INITIAL_COURSE", DefaultInitialCourse)
	cfg.Password = getEnvOrDefault("TEST_PASSWORD", DefaultPassword)
	cfg.CourseTemplate = getEnvOrDefault("COURSE_TEMPLATE", DefaultCourseTemplate)

	// Browser
	cfg.Browser = strings.ToLower(getEnvOrDefault("BROWSER", "chromium"))
	if o.Browser != "" {
		cfg.Browser = strings.ToLower(o.Browser)
	}
	cfg.Headless = os.Getenv("HEADLESS") != "false"
	if o.Headed {
		cfg.Headless = false
	}

	// Waits
	cfg.StepTimeout = parseDurationOrDefault("STEP_TIMEOUT", DefaultStepTimeout)
	cfg.ProvisionTimeout = parseDurationOrDefault("PROVISION_TIMEOUT", DefaultProvisionTimeout)
	cfg.PollInterval = parseDurationOrDefault("POLL_INTERVAL", DefaultPollInterval)

	// Artifacts
	cfg.ArtifactsDir = getEnvOrDefault("ARTIFACTS_DIR", "./test-results")
	if o.Artifact != "" {
		cfg.ArtifactsDir = o.Artifact
	}
	cfg.NoS3 = o.NoS3
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", "us-east-1")
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.ArtifactsBucket = strings.TrimSpace(os.Getenv("ARTIFACTS_BUCKET"))

	// Courseware fixture
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8000")
	if o.Addr != "" {
		cfg.ListenAddr = o.Addr
	}
	cfg.DataDir = getEnvOrDefault("DATA_DIR", "./data")
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	cfg.DBKey = strings.TrimSpace(os.Getenv("DB_KEY"))
	cfg.ProvisionDelay = parseDurationOrDefault("PROVISION_DELAY", 2*time.Second)
	cfg.AuthRPS = parseFloat64OrDefault("AUTH_RPS", 20)
	cfg.AuthBurst = parseIntOrDefault("AUTH_BURST", 40)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all configuration is present and coherent.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "BASE_URL must be an absolute http(s) URL")
	}
	if c.AppPath != "" && !strings.HasPrefix(c.AppPath, "/") {
		errs = append(errs, "APP_PATH must start with /")
	}
	if strings.TrimSpace(c.InitialCourse) == "" {
		errs = append(errs, "INITIAL_COURSE is required")
	}
	if c.Password == "" {
		errs = append(errs, "TEST_PASSWORD is required")
	}
	if strings.TrimSpace(c.CourseTemplate) == "" {
		errs = append(errs, "COURSE_TEMPLATE is required")
	}
	if !isKnownBrowser(c.Browser) {
		errs = append(errs, fmt.Sprintf("BROWSER must be one of %s", strings.Join(Browsers, ", ")))
	}

	if c.StepTimeout <= 0 {
		errs = append(errs, "STEP_TIMEOUT must be positive")
	}
	if c.ProvisionTimeout <= 0 {
		errs = append(errs, "PROVISION_TIMEOUT must be positive")
	}
	if c.PollInterval <= 0 {
		errs = append(errs, "POLL_INTERVAL must be positive")
	} else if c.StepTimeout > 0 && c.PollInterval >= c.StepTimeout {
		errs = append(errs, "POLL_INTERVAL must be shorter than STEP_TIMEOUT")
	}

	if c.UploadArtifactsToS3() && c.AWSRegion == "" {
		errs = append(errs, "AWS_REGION is required when ARTIFACTS_BUCKET is set (or use --no-s3)")
	}

	if c.DBKey != "" {
		if len(c.DBKey) != 64 {
			errs = append(errs, "DB_KEY must be 64 hex characters (32 bytes)")
		} else if _, err := hex.DecodeString(c.DBKey); err != nil {
			errs = append(errs, "DB_KEY must be hex encoded")
		}
	}
	if c.ProvisionDelay < 0 {
		errs = append(errs, "PROVISION_DELAY must not be negative")
	}
	if c.AuthRPS <= 0 {
		errs = append(errs, "AUTH_RPS must be positive")
	}
	if c.AuthBurst <= 0 {
		errs = append(errs, "AUTH_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// UploadArtifactsToS3 reports whether failure artifacts should also go to S3.
func (c *Config) UploadArtifactsToS3() bool {
	return !c.NoS3 && c.ArtifactsBucket != ""
}

// PrintStartupSummary prints a human-readable summary of the walk configuration to stderr.
func (c *Config) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "coursewalk starting...")
	fmt.Fprintf(os.Stderr, "  Site:      %s%s\n", c.BaseURL, c.AppPath)
	fmt.Fprintf(os.Stderr, "  Course:    %s (template %s)\n", c.InitialCourse, c.CourseTemplate)
	mode := "headless"
	if !c.Headless {
		mode = "headed"
	}
	fmt.Fprintf(os.Stderr, "  Browser:   %s (%s)\n", c.Browser, mode)
	fmt.Fprintf(os.Stderr, "  Waits:     step %s, provision %s, poll %s\n", c.StepTimeout, c.ProvisionTimeout, c.PollInterval)
	if c.UploadArtifactsToS3() {
		fmt.Fprintf(os.Stderr, "  Artifacts: %s + s3://%s\n", c.ArtifactsDir, c.ArtifactsBucket)
	} else {
		fmt.Fprintf(os.Stderr, "  Artifacts: %s\n", c.ArtifactsDir)
	}
	fmt.Fprintln(os.Stderr, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func isKnownBrowser(name string) bool {
	for _, b := range Browsers {
		if b == name {
			return true
		}
	}
	return false
}
