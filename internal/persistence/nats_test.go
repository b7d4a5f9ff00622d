package persistence

import "testing"

func TestConfigDefaultsAreApplicableByCaller(t *testing.T) {
	// NewNatsSink requires a live NATS server to dial, so the connection
	// path itself is exercised via manual/integration testing rather than
	// a unit test here. This guards the one pure piece: that a zero-value
	// Config is a valid literal to build on top of before filling in URL.
	var cfg Config
	if cfg.MaxReconnects != 0 || cfg.ReconnectWait != 0 {
		t.Fatalf("expected zero-value Config to have zero defaults, got %+v", cfg)
	}
}
