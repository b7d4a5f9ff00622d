package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gatewaycore/internal/model"
)

const (
	defaultMaxAttempts    = 3
	defaultMaxTotalTokens = 32000
)

var defaultBackoffDelays = []time.Duration{0, time.Second, 2 * time.Second}

// NewSession builds a ContinuationSession with spec defaults substituted
// for non-positive/nil arguments (§6: "max attempts 3, max total tokens
// 32 000, backoff delays [0, 1, 2] s").
func NewSession(sessionID string, maxTotalTokens, maxAttempts int, backoffDelays []time.Duration) *model.ContinuationSession {
	if maxTotalTokens <= 0 {
		maxTotalTokens = defaultMaxTotalTokens
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if len(backoffDelays) == 0 {
		backoffDelays = defaultBackoffDelays
	}
	return &model.ContinuationSession{
		SessionID:      sessionID,
		MaxTotalTokens: maxTotalTokens,
		MaxAttempts:    maxAttempts,
		BackoffDelays:  backoffDelays,
	}
}

// ShouldContinue implements §4.6's ContinuationSession.shouldContinue: the
// four stop conditions in order, then true.
func ShouldContinue(s *model.ContinuationSession, newChunk string, newTokens int) (bool, string) {
	if s.AttemptCount >= s.MaxAttempts {
		return false, fmt.Sprintf("max attempts reached (%d)", s.MaxAttempts)
	}
	if s.CumulativeTokens+newTokens >= s.MaxTotalTokens {
		return false, fmt.Sprintf("max total tokens reached (%d)", s.MaxTotalTokens)
	}
	trimmed := strings.TrimSpace(newChunk)
	if trimmed == strings.TrimSpace(s.LastChunk) {
		return false, "no progress: identical to previous chunk"
	}
	if trimmed == "" {
		return false, "empty response"
	}
	return true, ""
}

func backoffDelay(s *model.ContinuationSession) time.Duration {
	if s.AttemptCount < len(s.BackoffDelays) {
		return s.BackoffDelays[s.AttemptCount]
	}
	return s.BackoffDelays[len(s.BackoffDelays)-1]
}

// seedChunk folds the initial (pre-continuation) response into the
// accumulator without counting it as a continuation attempt: §4.6/§8's S4
// scenario expects attemptsMade to count continuation calls only, not the
// initial response extraction.
func seedChunk(s *model.ContinuationSession, chunk string, tokens int) {
	s.Chunks = append(s.Chunks, chunk)
	s.LastChunk = chunk
	s.CumulativeTokens += tokens
}

// addChunk folds a continuation response's chunk/token count into the
// session's accumulator and counts it as one attempt.
func addChunk(s *model.ContinuationSession, chunk string, tokens int) {
	s.Chunks = append(s.Chunks, chunk)
	s.LastChunk = chunk
	s.CumulativeTokens += tokens
	s.AttemptCount++
}

// ProviderCallable invokes a provider with a continuation message chain and
// returns its response.
type ProviderCallable func(messages []model.ProviderMessage) (*model.ProviderResponse, error)

// SleepFunc lets tests substitute a no-op sleep for the real backoff delay.
type SleepFunc func(time.Duration)

// Manager is the ContinuationManager (C9): owns in-flight sessions keyed by
// session id and drives the continuation loop of §4.6.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*model.ContinuationSession

	detector TruncationDetector
	sleep    SleepFunc
	logger   zerolog.Logger
	tracer   trace.Tracer

	nowMonotonicMs func() int64
}

// NewManager builds a Manager. sleep defaults to time.Sleep; pass a no-op
// in tests to skip real backoff delays.
func NewManager(sleep SleepFunc, logger zerolog.Logger) *Manager {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Manager{
		sessions:       make(map[string]*model.ContinuationSession),
		sleep:          sleep,
		logger:         logger,
		tracer:         otel.Tracer("gatewaycore/provider"),
		nowMonotonicMs: func() int64 { return time.Now().UnixMilli() },
	}
}

// Options configures a single Run call; zero values fall back to spec
// defaults inside NewSession.
type Options struct {
	SessionID      string
	MaxTotalTokens int
	MaxAttempts    int
	BackoffDelays  []time.Duration
}

// Run implements Manager.run of §4.6: extract content/tokens from the
// initial response, and if truncated, drive the continuation loop until
// completion or budget exhaustion. The whole invocation is wrapped in a
// "continuation.run" span carrying sessionId and attemptsMade, closed on
// every return path including error paths (§4.6).
func (m *Manager) Run(ctx context.Context, originalMessages []model.ProviderMessage, initialResponse *model.ProviderResponse, call ProviderCallable, opts Options) model.ContinuationResult {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("cont_%d", m.nowMonotonicMs())
	}

	_, span := m.tracer.Start(ctx, "continuation.run", trace.WithAttributes(attribute.String("sessionId", sessionID)))
	defer span.End()

	session := NewSession(sessionID, opts.MaxTotalTokens, opts.MaxAttempts, opts.BackoffDelays)
	m.register(session)
	defer m.unregister(sessionID)

	verdict := m.detector.Check(initialResponse)
	content := initialResponse.Content()
	seedChunk(session, content, verdict.TotalTokens)

	if !verdict.Truncated {
		span.SetAttributes(attribute.Int("attemptsMade", session.AttemptCount))
		span.SetStatus(codes.Ok, "")
		return model.ContinuationResult{
			CompleteResponse: content,
			IsComplete:       true,
			AttemptsMade:     0,
			TotalTokensUsed:  session.CumulativeTokens,
			WasTruncated:     false,
			SessionID:        sessionID,
		}
	}

	lastUserMessage := lastUserContent(originalMessages)
	isComplete := false

	for session.AttemptCount < session.MaxAttempts {
		m.sleep(backoffDelay(session))

		prompt := continuationPrompt(lastUserMessage, session.LastChunk)
		messages := buildContinuationMessages(originalMessages, session.LastChunk, prompt)

		resp, err := call(messages)
		if err != nil {
			span.RecordError(err)
			m.logger.Warn().Err(err).Str("sessionId", sessionID).Msg("continuation call failed")
			break
		}

		chunk := resp.Content()
		tokens := m.detector.Check(resp).TotalTokens

		ok, reason := ShouldContinue(session, chunk, tokens)
		if !ok {
			m.logger.Debug().Str("sessionId", sessionID).Str("reason", reason).Msg("continuation stopped")
			break
		}
		addChunk(session, chunk, tokens)

		if !m.detector.Check(resp).Truncated {
			isComplete = true
			break
		}
	}

	span.SetAttributes(attribute.Int("attemptsMade", session.AttemptCount))
	if isComplete {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "continuation ended without completion")
	}

	return model.ContinuationResult{
		CompleteResponse: strings.Join(session.Chunks, ""),
		IsComplete:       isComplete,
		AttemptsMade:     session.AttemptCount,
		TotalTokensUsed:  session.CumulativeTokens,
		WasTruncated:     true,
		SessionID:        sessionID,
	}
}

func (m *Manager) register(s *model.ContinuationSession) {
	m.mu.Lock()
	m.sessions[s.SessionID] = s
	m.mu.Unlock()
}

func (m *Manager) unregister(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Session returns the in-flight session for id, if any.
func (m *Manager) Session(sessionID string) (*model.ContinuationSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

func lastUserContent(messages []model.ProviderMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func truncateHead(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func truncateTail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// continuationPrompt reproduces §4.6's exact prompt template.
func continuationPrompt(lastUserMessage, lastChunk string) string {
	return fmt.Sprintf(
		"Please continue your previous response. Context: you were responding to '%s'. Your last response was truncated at '…%s'. Continue from where you left off.",
		truncateHead(lastUserMessage, 200),
		truncateTail(lastChunk, 100),
	)
}

func buildContinuationMessages(original []model.ProviderMessage, lastChunk, prompt string) []model.ProviderMessage {
	out := make([]model.ProviderMessage, 0, len(original)+2)
	out = append(out, original...)
	out = append(out, model.ProviderMessage{Role: "assistant", Content: lastChunk})
	out = append(out, model.ProviderMessage{Role: "user", Content: prompt})
	return out
}
