package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	PollIntervalSeconds   int
	PollLookbackSeconds   int
	PollServices          string
	LokiEndpoint          string
	LokiTenantID          string
	LokiErrorQuery        string
	TempoEndpoint         string
	ClaudeAPIKey          string
	ClaudeModel           string
	MaxDiagnosisCost      float64
	DatabaseURL           string
	SQLitePath            string
	SlackWebhookURL       string
	ManagementToken       string
	TriagePolicyFile      string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.IntVar(&c.PollIntervalSeconds, "poll-interval-seconds", 60, "seconds between polling cycles (1..3600)")
	fs.IntVar(&c.PollLookbackSeconds, "poll-lookback-seconds", 300, "window of error history each poll fetches, in seconds (1..86400)")
	fs.StringVar(&c.PollServices, "poll-services", "", "comma-separated service names to poll (empty = all)")
	fs.StringVar(&c.LokiEndpoint, "loki-endpoint", "", "Loki endpoint for error and log collection")
	fs.StringVar(&c.LokiTenantID, "loki-tenant-id", "", "Loki tenant ID for multi-tenant setups")
	fs.StringVar(&c.LokiErrorQuery, "loki-error-query", "", "LogQL selector for error streams (empty = built-in default)")
	fs.StringVar(&c.TempoEndpoint, "tempo-endpoint", "", "Tempo endpoint for trace collection")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.Float64Var(&c.MaxDiagnosisCost, "max-diagnosis-cost", 0.50, "estimated USD ceiling per diagnosis (0 = unlimited)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = SQLite or in-memory store)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database path (used when no database URL is set; empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.ManagementToken, "management-token", "", "bearer token protecting the management API (empty = unauthenticated)")
	fs.StringVar(&c.TriagePolicyFile, "triage-policy-file", "", "YAML file overriding the default triage policy")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.PollIntervalSeconds <= 0 || c.PollIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %d (must be 1..3600)", c.PollIntervalSeconds))
	}
	if c.PollLookbackSeconds <= 0 || c.PollLookbackSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid POLL_LOOKBACK_SECONDS %d (must be 1..86400)", c.PollLookbackSeconds))
	}

	// Loki is the only error source, so it has to be there
	if c.LokiEndpoint == "" {
		errs = append(errs, errors.New("LOKI_ENDPOINT is required"))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.MaxDiagnosisCost < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_DIAGNOSIS_COST %f (must be >= 0)", c.MaxDiagnosisCost))
	}

	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
