// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrComputeURLRequired is returned when COMPUTE_URL is not set.
	ErrComputeURLRequired = errors.New("config: COMPUTE_URL is required")
	// ErrWorkflowTemplateRequired is returned when WORKFLOW_TEMPLATE is not set.
	ErrWorkflowTemplateRequired = errors.New("config: WORKFLOW_TEMPLATE is required")
	// ErrInvalidAttempts is returned when a retry budget is below one.
	ErrInvalidAttempts = errors.New("config: retry attempts must be at least 1")
	// ErrInvalidRateLimit is returned for a negative rate or a burst below one.
	ErrInvalidRateLimit = errors.New("config: COMPUTE_RATE_LIMIT must be >= 0 with COMPUTE_RATE_BURST >= 1")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Compute service settings
	ComputeURL        string `env:"COMPUTE_URL, required" json:"compute_url"`
	ComputeAPIKey     string `env:"COMPUTE_API_KEY" json:"-"` // Masked in JSON
	WorkflowTemplate  string `env:"WORKFLOW_TEMPLATE, required" json:"workflow_template"`
	DefaultOutputNode string `env:"DEFAULT_OUTPUT_NODE" json:"default_output_node,omitempty"`
	// ComputeRateLimit caps requests per second to the compute service; 0 disables.
	ComputeRateLimit float64 `env:"COMPUTE_RATE_LIMIT, default=0" json:"compute_rate_limit"`
	ComputeRateBurst int     `env:"COMPUTE_RATE_BURST, default=4" json:"compute_rate_burst"`

	// Directory layout
	ProjectsDir   string `env:"PROJECTS_DIR, default=./projects" json:"projects_dir"`
	CharactersDir string `env:"CHARACTERS_DIR, default=./characters" json:"characters_dir"`
	MasksDir      string `env:"MASKS_DIR, default=./masks" json:"masks_dir"`
	OutputDir     string `env:"OUTPUT_DIR, default=./output" json:"output_dir"`
	WorkDir       string `env:"WORK_DIR, default=/tmp/charswap" json:"work_dir"`
	FFmpegPath    string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Remote generation settings
	PollInterval     time.Duration `env:"POLL_INTERVAL, default=5s" json:"poll_interval"`
	TrackingTimeout  time.Duration `env:"TRACKING_TIMEOUT, default=30m" json:"tracking_timeout"`
	UploadAttempts   int           `env:"UPLOAD_ATTEMPTS, default=5" json:"upload_attempts"`
	SubmitAttempts   int           `env:"SUBMIT_ATTEMPTS, default=3" json:"submit_attempts"`
	DownloadAttempts int           `env:"DOWNLOAD_ATTEMPTS, default=6" json:"download_attempts"`
	RetryBaseBackoff time.Duration `env:"RETRY_BASE_BACKOFF, default=2s" json:"retry_base_backoff"`
	RetryMaxBackoff  time.Duration `env:"RETRY_MAX_BACKOFF, default=30s" json:"retry_max_backoff"`

	// Unit history
	UnitRetention int `env:"UNIT_RETENTION, default=200" json:"unit_retention"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3KeyPrefix        string `env:"S3_KEY_PREFIX" json:"s3_key_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	})
	if err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "COMPUTE_URL") {
			return nil, ErrComputeURLRequired
		}
		if strings.Contains(err.Error(), "WORKFLOW_TEMPLATE") {
			return nil, ErrWorkflowTemplateRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.ComputeURL == "" {
		return ErrComputeURLRequired
	}
	if c.WorkflowTemplate == "" {
		return ErrWorkflowTemplateRequired
	}
	if c.UploadAttempts < 1 || c.SubmitAttempts < 1 || c.DownloadAttempts < 1 {
		return ErrInvalidAttempts
	}
	if c.ComputeRateLimit < 0 || (c.ComputeRateLimit > 0 && c.ComputeRateBurst < 1) {
		return ErrInvalidRateLimit
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, ComputeURL: %s, WorkflowTemplate: %s, ProjectsDir: %s, OutputDir: %s, WorkDir: %s, PollInterval: %s, TrackingTimeout: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.ComputeURL,
		c.WorkflowTemplate,
		c.ProjectsDir,
		c.OutputDir,
		c.WorkDir,
		c.PollInterval,
		c.TrackingTimeout,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
