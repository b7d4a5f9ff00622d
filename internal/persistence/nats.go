// Package persistence adapts the transport layer's NATS client (grounded on
// pkg/nats/client.go) into a conversation-persistence sink: the
// `persist(item)` async function the ConversationQueue consumer calls for
// every dequeued item (§6 "Persistence sink").
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"gatewaycore/internal/metrics"
	"gatewaycore/internal/model"
)

// Config mirrors pkg/nats/client.go's connection-tuning knobs.
type Config struct {
	URL             string
	Subject         string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// NatsSink publishes ConversationPersistItem values to a single NATS
// subject, grounded on pkg/nats/client.go's Client but narrowed to the one
// operation the core actually needs (publish), dropping the subscribe/
// request-reply/market-data-subject-builder surface that has no caller in
// this domain.
type NatsSink struct {
	conn    *nats.Conn
	subject string
	wrap    *metrics.Wrapper
	logger  zerolog.Logger
}

// NewNatsSink connects to cfg.URL and returns a sink publishing to
// cfg.Subject. Connection-event handlers log through the same zerolog
// logger the rest of the core uses, replacing the teacher's *log.Logger.
func NewNatsSink(cfg Config, wrap *metrics.Wrapper, logger zerolog.Logger) (*NatsSink, error) {
	sink := &NatsSink{subject: cfg.Subject, wrap: wrap, logger: logger}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("connected to NATS")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.ErrorHandler(func(c *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("NATS error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	sink.conn = conn
	return sink, nil
}

// Persist implements the ConversationQueue's ConsumerFunc contract: publish
// item as JSON to the configured subject. The core never inspects a
// persistence sink's return value beyond logging it (§6), so Persist
// returning an error only causes ConversationQueue to log and continue.
func (s *NatsSink) Persist(item model.ConversationPersistItem) error {
	start := time.Now()
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal conversation persist item: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		s.wrap.MessageFailed(item.ConversationID)
		return fmt.Errorf("publish to %s: %w", s.subject, err)
	}
	s.wrap.RecordPersistenceLatency(time.Since(start).Seconds())
	return nil
}

// IsConnected reports the underlying NATS connection's state, for
// readiness probes.
func (s *NatsSink) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// WaitForConnection blocks until the connection is established or ctx is
// cancelled, grounded on the teacher's WaitForConnection polling loop.
func (s *NatsSink) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.IsConnected() {
				return nil
			}
		}
	}
}

// Close closes the NATS connection without draining it first.
func (s *NatsSink) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
