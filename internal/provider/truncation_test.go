package provider

import (
	"testing"

	"gatewaycore/internal/model"
)

func TestTruncationDetectorFlagsLength(t *testing.T) {
	resp := &model.ProviderResponse{
		Choices: []model.ProviderChoice{{FinishReason: "length"}},
		Usage:   &model.ProviderUsage{TotalTokens: 1000},
	}
	v := TruncationDetector{}.Check(resp)
	if !v.Truncated || v.TotalTokens != 1000 {
		t.Fatalf("expected truncated=true totalTokens=1000, got %+v", v)
	}
}

func TestTruncationDetectorTreatsOtherReasonsAsComplete(t *testing.T) {
	for _, reason := range []string{"stop", "tool_calls", "content_filter", ""} {
		resp := &model.ProviderResponse{Choices: []model.ProviderChoice{{FinishReason: reason}}}
		if reason == "" {
			resp.Choices = nil
		}
		if v := (TruncationDetector{}).Check(resp); v.Truncated {
			t.Fatalf("expected finish_reason %q to be treated as complete", reason)
		}
	}
}

func TestTotalTokensFallsBackToPromptPlusCompletion(t *testing.T) {
	resp := &model.ProviderResponse{Usage: &model.ProviderUsage{PromptTokens: 10, CompletionTokens: 5}}
	if got := resp.TotalTokens(); got != 15 {
		t.Fatalf("expected fallback sum 15, got %d", got)
	}
}
