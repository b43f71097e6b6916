package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8000"`

	// Inbound
	SharedSecret   string `envconfig:"SHARED_SECRET"`
	MgmtAPIKey     string `envconfig:"MGMT_API_KEY"` // run status API is disabled when empty
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"40"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`

	// Engine
	Workers        int           `envconfig:"WORKERS" default:"4"`
	QueueSize      int           `envconfig:"QUEUE_SIZE" default:"100"`
	RunTimeout     time.Duration `envconfig:"RUN_TIMEOUT" default:"15m"`
	RunHistorySize int           `envconfig:"RUN_HISTORY_SIZE" default:"256"`

	// GitHub: a personal access token, or a GitHub App installation.
	GitHubUsername       string `envconfig:"GITHUB_USERNAME"`
	GitHubToken          string `envconfig:"GITHUB_TOKEN"`
	GitHubAppID          int64  `envconfig:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `envconfig:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string `envconfig:"GITHUB_PRIVATE_KEY_PATH"`
	GitHubAPIURL         string `envconfig:"GITHUB_API_URL"`
	GitHubBranch         string `envconfig:"GITHUB_BRANCH" default:"main"`
	GitHubOrg            bool   `envconfig:"GITHUB_ORG" default:"false"`     // owner is an organization
	GitHubDryRun         bool   `envconfig:"GITHUB_DRY_RUN" default:"false"` // publish to an in-memory store
	PagesPath            string `envconfig:"PAGES_PATH" default:"/"`
	PagesDomain          string `envconfig:"PAGES_DOMAIN" default:"github.io"`

	// Generation
	LLMProvider string        `envconfig:"LLM_PROVIDER" default:"openai"`
	LLMAPIKey   string        `envconfig:"LLM_API_KEY"`
	LLMBaseURL  string        `envconfig:"LLM_BASE_URL"`
	LLMModel    string        `envconfig:"LLM_MODEL"`
	LLMTimeout  time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`
	PromptsFile string        `envconfig:"PROMPTS_FILE"`

	// Resilience
	PollInterval       time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	PollMax            time.Duration `envconfig:"POLL_MAX" default:"60s"`
	ReportAttempts     int           `envconfig:"REPORT_ATTEMPTS" default:"5"`
	ReportInitialDelay time.Duration `envconfig:"REPORT_INITIAL_DELAY" default:"1s"`
	ReportMultiplier   float64       `envconfig:"REPORT_MULTIPLIER" default:"2"`
	CallbackTimeout    time.Duration `envconfig:"CALLBACK_TIMEOUT" default:"30s"`
	ReportFailures     bool          `envconfig:"REPORT_FAILURES" default:"false"`

	// Slack (optional)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel  string `envconfig:"SLACK_CHANNEL"`
	SlackAPIURL   string `envconfig:"SLACK_API_URL"`

	// Artifact archive (optional, S3 compatible)
	ArchiveEndpoint  string `envconfig:"ARCHIVE_ENDPOINT"`
	ArchiveRegion    string `envconfig:"ARCHIVE_REGION"`
	ArchiveBucket    string `envconfig:"ARCHIVE_BUCKET" default:"pagesmith-artifacts"`
	ArchiveAccessKey string `envconfig:"ARCHIVE_ACCESS_KEY"`
	ArchiveSecretKey string `envconfig:"ARCHIVE_SECRET_KEY"`
	ArchiveUseSSL    bool   `envconfig:"ARCHIVE_USE_SSL" default:"true"`
}

// IsDevelopment reports whether ENVIRONMENT is development.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// GitHubAppEnabled returns true if GitHub App credentials are configured.
func (c *Config) GitHubAppEnabled() bool {
	return c.GitHubAppID > 0 && c.GitHubInstallationID > 0 && c.GitHubPrivateKeyPath != ""
}

// SlackEnabled returns true if run notices should be posted to Slack.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// ArchiveEnabled returns true if an archive endpoint and credentials are configured.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveEndpoint != "" && c.ArchiveAccessKey != "" && c.ArchiveSecretKey != ""
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SharedSecret == "" {
		errs = append(errs, errors.New("SHARED_SECRET is required"))
	}
	if c.GitHubUsername == "" {
		errs = append(errs, errors.New("GITHUB_USERNAME is required"))
	}
	if !c.GitHubDryRun && c.GitHubToken == "" && !c.GitHubAppEnabled() {
		errs = append(errs, errors.New("GITHUB_TOKEN or GITHUB_APP_ID, GITHUB_INSTALLATION_ID and GITHUB_PRIVATE_KEY_PATH are required"))
	}
	switch strings.ToLower(c.LLMProvider) {
	case "", "openai", "anthropic", "gemini":
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is not one of openai, anthropic, gemini", c.LLMProvider))
	}
	if c.LLMAPIKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY is required"))
	}
	if c.Workers <= 0 || c.QueueSize <= 0 {
		errs = append(errs, errors.New("WORKERS and QUEUE_SIZE must be positive"))
	}
	if c.PollInterval <= 0 || c.PollMax <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL and POLL_MAX must be positive"))
	}
	if c.ReportAttempts <= 0 {
		errs = append(errs, errors.New("REPORT_ATTEMPTS must be positive"))
	}
	if c.SlackBotToken != "" && c.SlackChannel == "" {
		errs = append(errs, errors.New("SLACK_CHANNEL is required with SLACK_BOT_TOKEN"))
	}
	return errors.Join(errs...)
}

// Load reads an optional .env file, then configuration from environment
// variables. Variables already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
