package config

import (
	"testing"
	"time"
)

// validConfig returns a Config satisfying every Validate() rule, as a
// baseline for tests that tweak one field at a time.
func validConfig() Config {
	return Config{
		SimpleToolTimeout:       30 * time.Second,
		WorkflowToolTimeout:     45 * time.Second,
		ExpertAnalysisTimeout:   60 * time.Second,
		GLMTimeout:              30 * time.Second,
		KimiTimeout:             40 * time.Second,
		KimiWebSearchTimeout:    30 * time.Second,
		KimiSessionTimeout:      25 * time.Second,
		MaxQueueSize:            1000,
		MaxRetryAttempts:        5,
		MetricsSampleRate:       0.03,
		MetricsMinSampleRate:    0.01,
		MetricsMaxSampleRate:    0.15,
		MetricsBufferSize:       2000,
		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 2,
		BreakerHalfOpenMaxCalls: 3,
		ContinuationMaxAttempts: 3,
		ConversationQueueSize:   1000,
		ConversationQueueWarnThreshold: 500,
		ProviderRateLimitRPS:    10,
		LogLevel:                "info",
		LogFormat:               "json",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected baseline config to validate, got %v", err)
	}
}

func TestValidateRejectsWorkflowNotExceedingSimple(t *testing.T) {
	c := validConfig()
	c.WorkflowToolTimeout = c.SimpleToolTimeout
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when workflow timeout does not exceed simple timeout")
	}
}

func TestValidateEnforcesStrictlyIncreasingHierarchy(t *testing.T) {
	c := validConfig()
	// workflow=45s -> daemon=67.5s, shim=90s, client=112.5s; all strictly increasing.
	if err := c.Validate(); err != nil {
		t.Fatalf("expected hierarchy to hold for default multipliers, got %v", err)
	}
}

func TestValidateRejectsOutOfRangeTimeout(t *testing.T) {
	c := validConfig()
	c.KimiTimeout = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for a zero-valued timeout")
	}
}

func TestValidateRejectsSampleRateOutsideBounds(t *testing.T) {
	c := validConfig()
	c.MetricsSampleRate = 0.5
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when sample rate exceeds its max bound")
	}
}

func TestValidateRejectsWarnThresholdAboveQueueSize(t *testing.T) {
	c := validConfig()
	c.ConversationQueueWarnThreshold = c.ConversationQueueSize + 1
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when warn threshold exceeds queue size")
	}
}

func TestValidateRejectsInvalidLogLevel(t *testing.T) {
	c := validConfig()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for an unrecognized log level")
	}
}

func TestValidateRejectsNonPositiveRateLimit(t *testing.T) {
	c := validConfig()
	c.ProviderRateLimitRPS = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for a non-positive provider rate limit")
	}
}

func TestValidateRejectsBreakerThresholdBelowOne(t *testing.T) {
	c := validConfig()
	c.BreakerSuccessThreshold = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for a breaker success threshold below 1")
	}
}
