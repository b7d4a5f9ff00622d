package provider

import "gatewaycore/internal/model"

// TruncationDetector classifies a provider response as truncated or
// complete from the continuation engine's perspective (§4.6), grounded on
// truncation_detector.py's check_truncation but narrowed to the tagged
// result the spec calls for rather than a free-form dict (§9:
// "exception-for-control-flow in truncation detection -> return a tagged
// result from the detector").
type TruncationDetector struct{}

// Verdict is the tagged result of a truncation check.
type Verdict struct {
	Truncated   bool
	FinishReason string
	TotalTokens int
}

// Check reads choices[0].finish_reason: "length" is truncated; "stop",
// "tool_calls", "content_filter", or a missing/invalid structure are all
// treated as complete (§4.6).
func (TruncationDetector) Check(resp *model.ProviderResponse) Verdict {
	reason := resp.FinishReason()
	return Verdict{
		Truncated:    reason == "length",
		FinishReason: reason,
		TotalTokens:  resp.TotalTokens(),
	}
}
