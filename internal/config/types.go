// Package config defines and loads Nexus's resolved configuration object.
//
// Precedence (outside the core, per the gateway's external CLI collaborator)
// is CLI > env > file > defaults; this package implements the inner three
// layers: DefaultConfig() provides the bottom layer, Loader.Load() overlays a
// YAML file and then environment variables on top of it.
package config

import "time"

// Config is the fully resolved configuration the core server is constructed from.
type Config struct {
	Server      ServerConfig      `yaml:"server" env:"SERVER"`
	Discovery   DiscoveryConfig   `yaml:"discovery" env:"DISCOVERY"`
	HealthCheck HealthCheckConfig `yaml:"health_check" env:"HEALTH_CHECK"`
	Routing     RoutingConfig     `yaml:"routing" env:"ROUTING"`
	Backends    []BackendConfig   `yaml:"backends" env:"-"`
	Logging     LoggingConfig     `yaml:"logging" env:"LOGGING"`
	Queue       QueueConfig       `yaml:"queue" env:"QUEUE"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host                  string        `yaml:"host" env:"HOST"`
	Port                  int           `yaml:"port" env:"PORT"`
	RequestTimeoutSeconds int           `yaml:"request_timeout_seconds" env:"REQUEST_TIMEOUT_SECONDS"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	BackendRateLimitRPS   float64       `yaml:"backend_rate_limit_rps" env:"BACKEND_RATE_LIMIT_RPS"`
	BackendRateLimitBurst int           `yaml:"backend_rate_limit_burst" env:"BACKEND_RATE_LIMIT_BURST"`
}

// DiscoveryConfig controls mDNS backend auto-discovery.
type DiscoveryConfig struct {
	Enabled            bool     `yaml:"enabled" env:"ENABLED"`
	ServiceTypes       []string `yaml:"service_types" env:"SERVICE_TYPES"`
	GracePeriodSeconds int      `yaml:"grace_period_seconds" env:"GRACE_PERIOD_SECONDS"`
}

// HealthCheckConfig controls the background health-probe loop.
type HealthCheckConfig struct {
	Enabled           bool `yaml:"enabled" env:"ENABLED"`
	IntervalSeconds   int  `yaml:"interval_seconds" env:"INTERVAL_SECONDS"`
	TimeoutSeconds    int  `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	FailureThreshold  int  `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	RecoveryThreshold int  `yaml:"recovery_threshold" env:"RECOVERY_THRESHOLD"`
}

// ScoreWeights weights the three factors in the smart scoring formula.
type ScoreWeights struct {
	Priority int `yaml:"priority" env:"PRIORITY"`
	Load     int `yaml:"load" env:"LOAD"`
	Latency  int `yaml:"latency" env:"LATENCY"`
}

// BudgetAction is the action BudgetReconciler takes once the hard limit is hit.
type BudgetAction string

const (
	BudgetActionWarn       BudgetAction = "warn"
	BudgetActionBlockCloud BudgetAction = "block_cloud"
	BudgetActionBlockAll   BudgetAction = "block_all"
)

// BudgetConfig configures cost estimation and the hard/soft thresholds.
type BudgetConfig struct {
	Enabled         bool         `yaml:"enabled" env:"ENABLED"`
	SoftLimitUSD    float64      `yaml:"soft_limit_usd" env:"SOFT_LIMIT_USD"`
	HardLimitUSD    float64      `yaml:"hard_limit_usd" env:"HARD_LIMIT_USD"`
	HardLimitAction BudgetAction `yaml:"hard_limit_action" env:"HARD_LIMIT_ACTION"`
}

// PrivacyPolicy pattern-matches a resolved model to a required zone and,
// optionally, a minimum capability tier floor enforced by TierReconciler.
type PrivacyPolicy struct {
	ModelPattern string `yaml:"model_pattern"`
	RequireZone  string `yaml:"require_zone"`
	MinTier      int    `yaml:"min_tier"`
}

// RoutingConfig controls alias/fallback resolution, selection strategy, and policy.
type RoutingConfig struct {
	Strategy   string              `yaml:"strategy" env:"STRATEGY"`
	MaxRetries int                 `yaml:"max_retries" env:"MAX_RETRIES"`
	Weights    ScoreWeights        `yaml:"weights" env:"WEIGHTS"`
	Aliases    map[string]string   `yaml:"aliases" env:"-"`
	Fallbacks  map[string][]string `yaml:"fallbacks" env:"-"`
	Policies   []PrivacyPolicy     `yaml:"policies" env:"-"`
	Budget     BudgetConfig        `yaml:"budget" env:"BUDGET"`
}

// BackendConfig describes one statically configured backend.
type BackendConfig struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Type      string `yaml:"type"`
	Priority  int    `yaml:"priority"`
	APIKeyEnv string `yaml:"api_key_env"`
	Zone      string `yaml:"zone"`
	Tier      int    `yaml:"tier"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level                 string            `yaml:"level" env:"LEVEL"`
	Format                string            `yaml:"format" env:"FORMAT"`
	ComponentLevels        map[string]string `yaml:"component_levels" env:"-"`
	EnableContentLogging   bool              `yaml:"enable_content_logging" env:"ENABLE_CONTENT_LOGGING"`
}

// QueueConfig controls the bounded priority queue.
type QueueConfig struct {
	Enabled        bool `yaml:"enabled" env:"ENABLED"`
	MaxSize        int  `yaml:"max_size" env:"MAX_SIZE"`
	MaxWaitSeconds int  `yaml:"max_wait_seconds" env:"MAX_WAIT_SECONDS"`
}

// TelemetryConfig controls optional OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName    string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate     float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}
