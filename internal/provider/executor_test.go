package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gatewaycore/internal/breaker"
	"gatewaycore/internal/model"
)

func TestExecuteInjectsSessionMetadataOnSuccess(t *testing.T) {
	exec := NewExecutor(time.Second, breaker.NewManager(nil), model.CircuitBreakerConfig{}, zerolog.Nop())

	call := func(ctx context.Context) (*model.ProviderResponse, error) {
		return &model.ProviderResponse{Choices: []model.ProviderChoice{{FinishReason: "stop"}}}, nil
	}

	resp, err := exec.Execute(context.Background(), "kimi", "kimi-k2", call, ExecuteOptions{AddSessionContext: true, EnforceTimeout: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	session, ok := resp.Metadata["session"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected session metadata to be injected, got %+v", resp.Metadata)
	}
	if session["sessionId"] == "" {
		t.Fatalf("expected a non-empty session id")
	}
}

func TestExecuteReturnsTimeoutErrorOnDeadlineExceeded(t *testing.T) {
	exec := NewExecutor(time.Second, breaker.NewManager(nil), model.CircuitBreakerConfig{}, zerolog.Nop())

	call := func(ctx context.Context) (*model.ProviderResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := exec.Execute(context.Background(), "kimi", "kimi-k2", call, ExecuteOptions{TimeoutSeconds: 0.01, EnforceTimeout: true})
	var timeoutErr *ErrSessionTimeout
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected ErrSessionTimeout, got %v", err)
	}
}

func TestExecuteWrapsNonTimeoutErrors(t *testing.T) {
	exec := NewExecutor(time.Second, breaker.NewManager(nil), model.CircuitBreakerConfig{}, zerolog.Nop())
	wantErr := errors.New("boom")

	call := func(ctx context.Context) (*model.ProviderResponse, error) {
		return nil, wantErr
	}

	_, err := exec.Execute(context.Background(), "kimi", "kimi-k2", call, ExecuteOptions{EnforceTimeout: true})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped original error, got %v", err)
	}
}

func TestExecuteAppliesPerProviderRateLimit(t *testing.T) {
	exec := NewExecutor(time.Second, breaker.NewManager(nil), model.CircuitBreakerConfig{}, zerolog.Nop())
	exec.SetRateLimit("kimi", 1000, 1)

	calls := 0
	call := func(ctx context.Context) (*model.ProviderResponse, error) {
		calls++
		return &model.ProviderResponse{}, nil
	}

	for i := 0; i < 3; i++ {
		if _, err := exec.Execute(context.Background(), "kimi", "m", call, ExecuteOptions{}); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected all 3 calls to eventually go through, got %d", calls)
	}
}

func TestExecuteTripsPerProviderBreakerAfterRepeatedFailures(t *testing.T) {
	breakers := breaker.NewManager(nil)
	cfg := model.CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour, HalfOpenMaxCalls: 1}
	exec := NewExecutor(time.Second, breakers, cfg, zerolog.Nop())

	failing := func(ctx context.Context) (*model.ProviderResponse, error) {
		return nil, errors.New("upstream down")
	}

	for i := 0; i < 2; i++ {
		if _, err := exec.Execute(context.Background(), "kimi", "m", failing, ExecuteOptions{}); err == nil {
			t.Fatalf("expected call %d to fail", i)
		}
	}

	calls := 0
	ok := func(ctx context.Context) (*model.ProviderResponse, error) {
		calls++
		return &model.ProviderResponse{}, nil
	}
	_, err := exec.Execute(context.Background(), "kimi", "m", ok, ExecuteOptions{})
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen once the kimi breaker trips, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected the wrapped call to be skipped while the breaker is open, got %d invocations", calls)
	}

	// A different provider's breaker is unaffected.
	if _, err := exec.Execute(context.Background(), "glm", "m", ok, ExecuteOptions{}); err != nil {
		t.Fatalf("unexpected error for an independent provider: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected glm's call to go through, got %d invocations", calls)
	}
}
