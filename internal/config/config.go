// Package config loads and validates the gateway's runtime configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable of the resilience core, grouped the way the
// specification groups them: timeouts, transport, metrics, breaker,
// continuation, conversation queue, provider rate limiting, cache tokens,
// and ambient concerns (logging, NATS, auth, HTTP).
type Config struct {
	// Timeout hierarchy (§7/§8: tool < daemon < shim < client, strictly increasing).
	SimpleToolTimeout    time.Duration `env:"SIMPLE_TOOL_TIMEOUT" envDefault:"30s"`
	WorkflowToolTimeout  time.Duration `env:"WORKFLOW_TOOL_TIMEOUT" envDefault:"45s"`
	ExpertAnalysisTimeout time.Duration `env:"EXPERT_ANALYSIS_TIMEOUT" envDefault:"60s"`
	GLMTimeout           time.Duration `env:"GLM_TIMEOUT" envDefault:"30s"`
	KimiTimeout          time.Duration `env:"KIMI_TIMEOUT" envDefault:"40s"`
	KimiWebSearchTimeout time.Duration `env:"KIMI_WEB_SEARCH_TIMEOUT" envDefault:"30s"`
	KimiSessionTimeout   time.Duration `env:"KIMI_SESSION_TIMEOUT" envDefault:"25s"`

	// Per-model timeout multipliers, supplemented from the original
	// implementation's adaptive-timeout table. Format: "model=mult,model=mult".
	ModelTimeoutMultipliers map[string]float64 `env:"MODEL_TIMEOUT_MULTIPLIERS" envSeparator:"," envKeyValSeparator:"="`

	// Transport (§4.2, §4.5).
	MaxQueueSize        int           `env:"MAX_QUEUE_SIZE" envDefault:"1000"`
	MessageTTL          time.Duration `env:"MESSAGE_TTL" envDefault:"300s"`
	ConnectionTimeout   time.Duration `env:"CONNECTION_TIMEOUT" envDefault:"120s"`
	MaxRetryAttempts    int           `env:"MAX_RETRY_ATTEMPTS" envDefault:"5"`
	BaseRetryDelay      time.Duration `env:"BASE_RETRY_DELAY" envDefault:"1s"`
	MaxRetryDelay       time.Duration `env:"MAX_RETRY_DELAY" envDefault:"60s"`
	RetryCheckInterval  time.Duration `env:"RETRY_CHECK_INTERVAL" envDefault:"5s"`
	CleanupInterval     time.Duration `env:"CLEANUP_INTERVAL" envDefault:"60s"`
	DedupTTL            time.Duration `env:"DEDUP_TTL" envDefault:"300s"`

	// Metrics (§4.4).
	MetricsSampleRate       float64       `env:"METRICS_SAMPLE_RATE" envDefault:"0.03"`
	MetricsMinSampleRate    float64       `env:"METRICS_MIN_SAMPLE_RATE" envDefault:"0.01"`
	MetricsMaxSampleRate    float64       `env:"METRICS_MAX_SAMPLE_RATE" envDefault:"0.15"`
	MetricsBufferSize       int           `env:"METRICS_BUFFER_SIZE" envDefault:"2000"`
	MetricsFlushInterval    time.Duration `env:"METRICS_FLUSH_INTERVAL" envDefault:"2s"`
	MetricsAdaptiveSampling bool          `env:"METRICS_ADAPTIVE_SAMPLING" envDefault:"true"`

	// Circuit breaker (§4.1).
	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerSuccessThreshold int           `env:"BREAKER_SUCCESS_THRESHOLD" envDefault:"2"`
	BreakerTimeout          time.Duration `env:"BREAKER_TIMEOUT" envDefault:"60s"`
	BreakerHalfOpenMaxCalls int           `env:"BREAKER_HALF_OPEN_MAX_CALLS" envDefault:"3"`

	// Continuation engine (§4.6).
	ContinuationMaxAttempts   int             `env:"CONTINUATION_MAX_ATTEMPTS" envDefault:"3"`
	ContinuationMaxTotalTokens int            `env:"CONTINUATION_MAX_TOTAL_TOKENS" envDefault:"32000"`
	ContinuationBackoffDelays []time.Duration `env:"CONTINUATION_BACKOFF_DELAYS" envDefault:"0s,1s,2s" envSeparator:","`

	// Conversation queue (§4.8).
	ConversationQueueSize           int `env:"CONVERSATION_QUEUE_SIZE" envDefault:"1000"`
	ConversationQueueWarnThreshold  int `env:"CONVERSATION_QUEUE_WARN_THRESHOLD" envDefault:"500"`

	// Provider rate limiting, an addition over the distilled spec (§1B).
	ProviderRateLimitRPS   float64 `env:"PROVIDER_RATE_LIMIT_RPS" envDefault:"10"`
	ProviderRateLimitBurst int     `env:"PROVIDER_RATE_LIMIT_BURST" envDefault:"20"`

	// Context-cache tokens (§4.9/§6).
	CacheTokenTTL    time.Duration `env:"KIMI_CACHE_TOKEN_TTL_SECS" envDefault:"1800s"`
	CacheTokenLRUMax int           `env:"KIMI_CACHE_TOKEN_LRU_MAX" envDefault:"256"`

	// Header byte-length cap (§6).
	MaxHeaderValueBytes int `env:"MAX_HEADER_VALUE_BYTES" envDefault:"4096"`

	// Ambient.
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json"`
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	NATSURL       string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:""`
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads a .env file (if present) and environment variables, applies
// defaults, and validates the result. Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Info().Msg("no .env file found, using environment variables only")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate enforces the timeout hierarchy and numeric-range invariants of
// §7/§8. A process MUST NOT start with a configuration that fails this.
func (c *Config) Validate() error {
	if c.WorkflowToolTimeout <= c.SimpleToolTimeout {
		return fmt.Errorf("WORKFLOW_TOOL_TIMEOUT (%s) must exceed SIMPLE_TOOL_TIMEOUT (%s)", c.WorkflowToolTimeout, c.SimpleToolTimeout)
	}

	daemon := time.Duration(float64(c.WorkflowToolTimeout) * 1.5)
	shim := time.Duration(float64(c.WorkflowToolTimeout) * 2.0)
	client := time.Duration(float64(c.WorkflowToolTimeout) * 2.5)

	if !(c.WorkflowToolTimeout < daemon && daemon < shim && shim < client) {
		return fmt.Errorf("timeout hierarchy violated: workflow=%s daemon=%s shim=%s client=%s", c.WorkflowToolTimeout, daemon, shim, client)
	}

	for name, d := range map[string]time.Duration{
		"SIMPLE_TOOL_TIMEOUT":     c.SimpleToolTimeout,
		"WORKFLOW_TOOL_TIMEOUT":   c.WorkflowToolTimeout,
		"EXPERT_ANALYSIS_TIMEOUT": c.ExpertAnalysisTimeout,
		"GLM_TIMEOUT":             c.GLMTimeout,
		"KIMI_TIMEOUT":            c.KimiTimeout,
		"KIMI_WEB_SEARCH_TIMEOUT": c.KimiWebSearchTimeout,
		"KIMI_SESSION_TIMEOUT":    c.KimiSessionTimeout,
	} {
		if d <= 0 || d > time.Hour {
			return fmt.Errorf("%s must be in (0, 3600s], got %s", name, d)
		}
	}

	if c.MaxQueueSize < 1 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be > 0, got %d", c.MaxQueueSize)
	}
	if c.MaxRetryAttempts < 0 {
		return fmt.Errorf("MAX_RETRY_ATTEMPTS must be >= 0, got %d", c.MaxRetryAttempts)
	}
	if c.MetricsSampleRate < c.MetricsMinSampleRate || c.MetricsSampleRate > c.MetricsMaxSampleRate {
		return fmt.Errorf("METRICS_SAMPLE_RATE (%.4f) must be within [%.4f, %.4f]", c.MetricsSampleRate, c.MetricsMinSampleRate, c.MetricsMaxSampleRate)
	}
	if c.MetricsBufferSize < 1 {
		return fmt.Errorf("METRICS_BUFFER_SIZE must be > 0, got %d", c.MetricsBufferSize)
	}
	if c.BreakerFailureThreshold < 1 || c.BreakerSuccessThreshold < 1 || c.BreakerHalfOpenMaxCalls < 1 {
		return fmt.Errorf("breaker thresholds must all be >= 1")
	}
	if c.ContinuationMaxAttempts < 0 {
		return fmt.Errorf("CONTINUATION_MAX_ATTEMPTS must be >= 0, got %d", c.ContinuationMaxAttempts)
	}
	if c.ConversationQueueWarnThreshold > c.ConversationQueueSize {
		return fmt.Errorf("CONVERSATION_QUEUE_WARN_THRESHOLD (%d) must be <= CONVERSATION_QUEUE_SIZE (%d)", c.ConversationQueueWarnThreshold, c.ConversationQueueSize)
	}
	if c.ProviderRateLimitRPS <= 0 {
		return fmt.Errorf("PROVIDER_RATE_LIMIT_RPS must be > 0, got %.2f", c.ProviderRateLimitRPS)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of console/json, got %q", c.LogFormat)
	}

	return nil
}

// LogFields emits the configuration as structured fields for startup logging.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("http_addr", c.HTTPAddr).
		Dur("workflow_timeout", c.WorkflowToolTimeout).
		Int("max_queue_size", c.MaxQueueSize).
		Float64("metrics_sample_rate", c.MetricsSampleRate).
		Int("breaker_failure_threshold", c.BreakerFailureThreshold).
		Int("continuation_max_attempts", c.ContinuationMaxAttempts).
		Int("conversation_queue_size", c.ConversationQueueSize).
		Float64("provider_rate_limit_rps", c.ProviderRateLimitRPS).
		Msg("configuration loaded")
}
