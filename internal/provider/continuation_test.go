package provider

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gatewaycore/internal/model"
)

func noSleep(time.Duration) {}

func TestRunReturnsImmediatelyWhenNotTruncated(t *testing.T) {
	mgr := NewManager(noSleep, zerolog.Nop())
	resp := &model.ProviderResponse{Choices: []model.ProviderChoice{{FinishReason: "stop"}}}
	resp.Choices[0].Message.Content = "hello"

	result := mgr.Run(context.Background(), nil, resp, nil, Options{})
	if !result.IsComplete || result.WasTruncated {
		t.Fatalf("expected immediate completion, got %+v", result)
	}
	if result.CompleteResponse != "hello" {
		t.Fatalf("expected content 'hello', got %q", result.CompleteResponse)
	}
}

// TestContinuationHappyPath mirrors spec scenario S4: a truncated initial
// response followed by one completing continuation call.
func TestContinuationHappyPath(t *testing.T) {
	mgr := NewManager(noSleep, zerolog.Nop())

	initial := &model.ProviderResponse{Choices: []model.ProviderChoice{{FinishReason: "length"}}, Usage: &model.ProviderUsage{TotalTokens: 1000}}
	initial.Choices[0].Message.Content = "Part A"

	call := func(messages []model.ProviderMessage) (*model.ProviderResponse, error) {
		resp := &model.ProviderResponse{Choices: []model.ProviderChoice{{FinishReason: "stop"}}, Usage: &model.ProviderUsage{TotalTokens: 500}}
		resp.Choices[0].Message.Content = " and Part B"
		return resp, nil
	}

	result := mgr.Run(context.Background(), []model.ProviderMessage{{Role: "user", Content: "write something"}}, initial, call, Options{})

	if result.CompleteResponse != "Part A and Part B" {
		t.Fatalf("expected merged content, got %q", result.CompleteResponse)
	}
	if !result.IsComplete || result.AttemptsMade != 1 || result.TotalTokensUsed != 1500 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

// TestContinuationBudgetExhaustion mirrors spec scenario S5: every response
// (initial + two follow-ups) is truncated, and maxAttempts=2 caps the loop.
func TestContinuationBudgetExhaustion(t *testing.T) {
	mgr := NewManager(noSleep, zerolog.Nop())

	initial := &model.ProviderResponse{Choices: []model.ProviderChoice{{FinishReason: "length"}}, Usage: &model.ProviderUsage{TotalTokens: 100}}
	initial.Choices[0].Message.Content = "chunk0"

	calls := 0
	call := func(messages []model.ProviderMessage) (*model.ProviderResponse, error) {
		calls++
		resp := &model.ProviderResponse{Choices: []model.ProviderChoice{{FinishReason: "length"}}, Usage: &model.ProviderUsage{TotalTokens: 100}}
		resp.Choices[0].Message.Content = "chunk" + string(rune('0'+calls))
		return resp, nil
	}

	result := mgr.Run(context.Background(), []model.ProviderMessage{{Role: "user", Content: "go"}}, initial, call, Options{MaxAttempts: 2})

	if result.IsComplete {
		t.Fatalf("expected incomplete result on budget exhaustion")
	}
	if result.AttemptsMade != 2 {
		t.Fatalf("expected 2 attempts, got %d", result.AttemptsMade)
	}
	if result.CompleteResponse != "chunk0chunk1chunk2" {
		t.Fatalf("expected concatenation of all three chunks, got %q", result.CompleteResponse)
	}
}

func TestShouldContinueStopsOnNoProgress(t *testing.T) {
	s := NewSession("s1", 0, 0, nil)
	s.LastChunk = "same"
	if ok, reason := ShouldContinue(s, "same", 10); ok {
		t.Fatalf("expected no-progress guard to stop, reason=%q", reason)
	}
}

func TestShouldContinueStopsOnEmptyChunk(t *testing.T) {
	s := NewSession("s1", 0, 0, nil)
	if ok, _ := ShouldContinue(s, "   ", 10); ok {
		t.Fatalf("expected empty-chunk guard to stop")
	}
}

func TestSessionNotRegisteredAfterRun(t *testing.T) {
	mgr := NewManager(noSleep, zerolog.Nop())
	resp := &model.ProviderResponse{Choices: []model.ProviderChoice{{FinishReason: "stop"}}}
	result := mgr.Run(context.Background(), nil, resp, nil, Options{SessionID: "fixed-id"})

	if _, ok := mgr.Session(result.SessionID); ok {
		t.Fatalf("expected session to be removed from the manager after Run returns")
	}
}
