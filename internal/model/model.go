// Package model holds the data types shared across the resilience core:
// the message envelope, connection/queue state, circuit-breaker config, and
// the provider session/continuation types.
package model

import (
	"encoding/json"
	"time"
)

// Envelope is the typed wire format for outbound/inbound messages: a small
// set of known fields (id, type) plus a raw JSON tail for the payload body.
// This replaces the reference implementation's dynamic dict-based payloads
// (§9 re-architecture note) while staying forward compatible with unknown
// fields, since Raw is preserved verbatim.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// MarshalJSON merges the typed fields with the raw payload tail so callers
// can attach arbitrary body fields without the envelope needing to know
// about them.
func (e Envelope) MarshalJSON() ([]byte, error) {
	var body map[string]json.RawMessage
	if len(e.Raw) > 0 {
		if err := json.Unmarshal(e.Raw, &body); err != nil {
			return nil, err
		}
	}
	if body == nil {
		body = make(map[string]json.RawMessage, 3)
	}
	if e.ID != "" {
		idBytes, _ := json.Marshal(e.ID)
		body["id"] = idBytes
	}
	if e.Type != "" {
		typeBytes, _ := json.Marshal(e.Type)
		body["type"] = typeBytes
	}
	if e.Timestamp != 0 {
		tsBytes, _ := json.Marshal(e.Timestamp)
		body["timestamp"] = tsBytes
	}
	return json.Marshal(body)
}

// UnmarshalJSON extracts the known fields and retains the full document as
// Raw so canonical-hash dedup (§4.3) can operate over the whole payload.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	e.ID = a.ID
	e.Type = a.Type
	e.Timestamp = a.Timestamp
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// QueuedMessage is a pending outbound payload awaiting delivery or retry (§3).
type QueuedMessage struct {
	Payload    Envelope
	EnqueuedAt time.Time
	RetryCount int
}

// Expired reports whether the message has aged past ttl (§3: "expired iff
// now - enqueuedAt > MESSAGE_TTL").
func (m QueuedMessage) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(m.EnqueuedAt) > ttl
}

// CircuitBreakerState is one of the three states of C1's state machine.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds the thresholds of §3/§4.1.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

// CircuitBreakerStats is a point-in-time snapshot for observability endpoints.
type CircuitBreakerStats struct {
	Name            string              `json:"name"`
	State           CircuitBreakerState `json:"-"`
	StateName       string              `json:"state"`
	FailureCount    int                 `json:"failureCount"`
	SuccessCount    int                 `json:"successCount"`
	LastFailureTime time.Time           `json:"lastFailureTime,omitempty"`
}

// ProviderCallContext is the ephemeral context of one provider call (§3).
type ProviderCallContext struct {
	Provider  string
	Model     string
	RequestID string
	SessionID string
	StartTime time.Time
	Timeout   time.Duration
	Headers   map[string]string
}

// ProviderMessage is one OpenAI-compatible chat message.
type ProviderMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProviderChoice mirrors the `choices[0]` shape consumed from a provider
// response (§6).
type ProviderChoice struct {
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Content          string          `json:"content"`
		ReasoningContent *string         `json:"reasoning_content,omitempty"`
		ToolCalls        json.RawMessage `json:"tool_calls,omitempty"`
	} `json:"message"`
}

// ProviderUsage mirrors the optional `usage` object.
type ProviderUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderResponse is the response shape the core consumes from a provider
// HTTP call, along with the headers needed for cache-token capture (§6).
type ProviderResponse struct {
	Choices []ProviderChoice  `json:"choices"`
	Usage   *ProviderUsage    `json:"usage,omitempty"`
	Headers map[string]string `json:"-"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TotalTokens returns usage.total_tokens, falling back to
// prompt_tokens+completion_tokens, else 0 (§4.6 TruncationDetector).
func (r *ProviderResponse) TotalTokens() int {
	if r.Usage == nil {
		return 0
	}
	if r.Usage.TotalTokens > 0 {
		return r.Usage.TotalTokens
	}
	return r.Usage.PromptTokens + r.Usage.CompletionTokens
}

// Content returns the first choice's content, or "" if there are no choices.
func (r *ProviderResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// FinishReason returns the first choice's finish_reason, or "" if there are
// no choices (treated as complete by the TruncationDetector).
func (r *ProviderResponse) FinishReason() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].FinishReason
}

// MetricType classifies a CompactMetric's value field (§3).
type MetricType uint8

const (
	MetricMessageLatency MetricType = iota
	MetricConnectionDuration
	MetricMessageSize
	MetricProviderLatency
	MetricQueueDepth
	MetricPersistenceLatency
)

// CompactMetric is a single sampled event, sized to stay cheap on the hot
// path: a timestamp, a type tag, a value, and the client it came from (§3,
// "a 32-byte-ish sampled event"). Created under the sampler, appended to the
// ring buffer, consumed exactly once by the flush worker, then discarded.
type CompactMetric struct {
	Timestamp float64
	Type      MetricType
	Value     float64
	ClientID  string
}

// SamplingState is the adaptive sampler's adjustable rate, adjusted only by
// the sampler itself; the hot path reads it under the sampler's mutex (§3).
type SamplingState struct {
	CurrentRate    float64
	MinRate        float64
	MaxRate        float64
	LastAdjustment time.Time
	EventsInWindow int64
}

// ContinuationSession accumulates state across a chain of truncation-driven
// follow-up calls (§3/§4.6). Created at the start of every Manager.Run,
// before the initial response is checked for truncation, and discarded once
// Run returns, whether complete or budget-exhausted.
type ContinuationSession struct {
	SessionID        string
	MaxTotalTokens   int
	MaxAttempts      int
	BackoffDelays    []time.Duration
	CumulativeTokens int
	AttemptCount     int
	Chunks           []string
	LastChunk        string
}

// ContinuationResult is the outcome of a ContinuationManager.run (§4.6).
type ContinuationResult struct {
	CompleteResponse string
	IsComplete       bool
	AttemptsMade     int
	TotalTokensUsed  int
	WasTruncated     bool
	SessionID        string
}

// ConversationPersistItem is the payload handed to the conversation
// persistence sink (§6: `persist(item)`).
type ConversationPersistItem struct {
	ConversationID string                 `json:"conversationId"`
	UpdateData     map[string]interface{} `json:"updateData"`
	Timestamp      time.Time              `json:"timestamp"`
}
