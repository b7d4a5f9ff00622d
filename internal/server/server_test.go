package server

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gatewaycore/internal/breaker"
	"gatewaycore/internal/model"
	"gatewaycore/internal/provider"
)

func testCore() *Core {
	logger := zerolog.Nop()
	return &Core{
		logger:     logger,
		cacheStore: provider.NewCacheTokenStore(8, 0),
		contMgr:    provider.NewManager(func(time.Duration) {}, logger),
		executor:   provider.NewExecutor(0, breaker.NewManager(nil), model.CircuitBreakerConfig{}, logger),
		ctx:        context.Background(),
	}
}

func TestHashMessagePrefixIsDeterministic(t *testing.T) {
	messages := []model.ProviderMessage{{Role: "user", Content: "hello there"}}
	a := hashMessagePrefix(messages)
	b := hashMessagePrefix(messages)
	if a != b {
		t.Fatalf("expected stable hash, got %q then %q", a, b)
	}
}

func TestHashMessagePrefixDiffersOnContent(t *testing.T) {
	a := hashMessagePrefix([]model.ProviderMessage{{Role: "user", Content: "one"}})
	b := hashMessagePrefix([]model.ProviderMessage{{Role: "user", Content: "two"}})
	if a == b {
		t.Fatalf("expected different hashes for different content, both got %q", a)
	}
}

func TestCallProviderBackendEchoesLastMessage(t *testing.T) {
	c := testCore()
	resp, err := c.callProviderBackend(context.Background(), "kimi", []model.ProviderMessage{
		{Role: "user", Content: "first"},
		{Role: "user", Content: "second"},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content() != "second" {
		t.Fatalf("expected echo of last message, got %q", resp.Content())
	}
	if resp.FinishReason() != "stop" {
		t.Fatalf("expected finish_reason stop, got %q", resp.FinishReason())
	}
	if resp.Headers["context-cache-token"] == "" {
		t.Fatalf("expected a cache token header to be minted when none was supplied")
	}
}

func TestCallProviderBackendSkipsTokenMintWhenCached(t *testing.T) {
	c := testCore()
	resp, err := c.callProviderBackend(context.Background(), "kimi", []model.ProviderMessage{{Role: "user", Content: "x"}}, "already-cached")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := resp.Headers["context-cache-token"]; ok {
		t.Fatalf("expected no new cache token header when a cached token was already supplied")
	}
}

func TestRunChatRequestRoundTripsThroughExecutorAndContinuation(t *testing.T) {
	c := testCore()
	resp := c.runChatRequest("client-1", chatRequest{
		Provider: "kimi",
		Model:    "kimi-k2",
		ToolName: "chat",
		Messages: []model.ProviderMessage{{Role: "user", Content: "hello"}},
	})
	if resp.Error != "" {
		t.Fatalf("unexpected error in response: %s", resp.Error)
	}
	if resp.Content != "hello" {
		t.Fatalf("expected echoed content %q, got %q", "hello", resp.Content)
	}
	if !resp.IsComplete {
		t.Fatalf("expected a non-truncated echo response to be complete")
	}
}
