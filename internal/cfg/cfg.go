// Package cfg holds PR Copilot's application configuration.
package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// DispatchMode values accepted by -dispatch-mode.
const (
	DispatchInline = "inline"
	DispatchQueued = "queued"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DispatchMode string
	KafkaBrokers string
	KafkaTopic   string
	KafkaGroup   string

	DatabaseURL string

	ClaudeAPIKey string
	ClaudeModel  string

	GitHubAppID          string
	GitHubPrivateKeyPath string
	GitHubWebhookSecret  string
	GitHubAPIBase        string

	RetryMaxAttempts  int
	RetryDelaySeconds int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DispatchMode, "dispatch-mode", DispatchQueued, "task dispatch mode: inline or queued")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "Kafka bootstrap servers for queued dispatch (required in queued mode)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "prcopilot.tasks", "Kafka topic for dispatch tasks")
	fs.StringVar(&c.KafkaGroup, "kafka-group", "prcopilot-worker", "Kafka consumer group for workers")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.GitHubAppID, "github-app-id", "", "GitHub App id for installation-token exchange")
	fs.StringVar(&c.GitHubPrivateKeyPath, "github-private-key-path", "", "path to the GitHub App RSA private key (PEM)")
	fs.StringVar(&c.GitHubWebhookSecret, "github-webhook-secret", "", "shared secret for webhook signature verification (empty = verification DISABLED)")
	fs.StringVar(&c.GitHubAPIBase, "github-api-base", "", "GitHub API base URL override (empty = api.github.com)")
	fs.IntVar(&c.RetryMaxAttempts, "retry-max-attempts", 3, "total task attempts before permanent failure (1..10)")
	fs.IntVar(&c.RetryDelaySeconds, "retry-delay-seconds", 60, "fixed delay between task attempts (1..600)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.DispatchMode {
	case DispatchInline:
	case DispatchQueued:
		if c.KafkaBrokers == "" {
			errs = append(errs, errors.New("KAFKA_BROKERS is required in queued dispatch mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid DISPATCH_MODE %q (must be inline or queued)", c.DispatchMode))
	}

	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	// App credentials travel together: both or neither.
	if (c.GitHubAppID == "") != (c.GitHubPrivateKeyPath == "") {
		errs = append(errs, errors.New("GITHUB_APP_ID and GITHUB_PRIVATE_KEY_PATH must be set together"))
	}

	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid RETRY_MAX_ATTEMPTS %d (must be 1..10)", c.RetryMaxAttempts))
	}
	if c.RetryDelaySeconds < 1 || c.RetryDelaySeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid RETRY_DELAY_SECONDS %d (must be 1..600)", c.RetryDelaySeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
