package breaker

import (
	"errors"
	"testing"
	"time"

	"gatewaycore/internal/model"
)

func testConfig() model.CircuitBreakerConfig {
	return model.CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
		HalfOpenMaxCalls: 3,
	}
}

func TestClosedOpensAfterThreshold(t *testing.T) {
	b := New("t", testConfig(), nil)
	failing := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := b.Call(func() error { return failing }); !errors.Is(err, failing) {
			t.Fatalf("expected wrapped failure, got %v", err)
		}
		if b.State() != model.StateClosed {
			t.Fatalf("expected still closed after %d failures", i+1)
		}
	}

	if err := b.Call(func() error { return failing }); !errors.Is(err, failing) {
		t.Fatalf("expected wrapped failure on 3rd call, got %v", err)
	}
	if b.State() != model.StateOpen {
		t.Fatalf("expected open after reaching failure threshold, got %s", b.State())
	}
}

func TestOpenRejectsImmediately(t *testing.T) {
	b := New("t", testConfig(), nil)
	for i := 0; i < 3; i++ {
		_ = b.Call(func() error { return errors.New("boom") })
	}
	if b.State() != model.StateOpen {
		t.Fatalf("setup: expected open")
	}

	called := false
	err := b.Call(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatalf("wrapped fn must not run while open")
	}
}

func TestHalfOpenRecoversToClosed(t *testing.T) {
	cfg := testConfig()
	b := New("t", cfg, nil)
	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = b.Call(func() error { return errors.New("boom") })
	}

	time.Sleep(cfg.Timeout + 10*time.Millisecond)

	for i := 0; i < cfg.SuccessThreshold; i++ {
		if err := b.Call(func() error { return nil }); err != nil {
			t.Fatalf("expected success call %d to pass, got %v", i, err)
		}
	}

	if b.State() != model.StateClosed {
		t.Fatalf("expected closed after success threshold in half-open, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	b := New("t", cfg, nil)
	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = b.Call(func() error { return errors.New("boom") })
	}
	time.Sleep(cfg.Timeout + 10*time.Millisecond)

	_ = b.Call(func() error { return errors.New("still failing") })

	if b.State() != model.StateOpen {
		t.Fatalf("expected re-open on half-open failure, got %s", b.State())
	}
}

func TestSuccessResetsFailureCountInClosed(t *testing.T) {
	cfg := testConfig()
	b := New("t", cfg, nil)
	_ = b.Call(func() error { return errors.New("boom") })
	_ = b.Call(func() error { return nil })
	stats := b.Stats()
	if stats.FailureCount != 0 {
		t.Fatalf("expected failure count reset to 0 after success, got %d", stats.FailureCount)
	}
}

func TestManagerSharesBreakerByName(t *testing.T) {
	m := NewManager(nil)
	a := m.GetOrCreate("kimi", testConfig())
	b := m.GetOrCreate("kimi", testConfig())
	if a != b {
		t.Fatalf("expected GetOrCreate to return the same instance for the same name")
	}
	other := m.GetOrCreate("glm", testConfig())
	if other == a {
		t.Fatalf("expected a distinct breaker for a different name")
	}
}
