package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"go.outboxrelay.dev/internal/common/metrics"
)

// NATSConfig holds configuration for publishing operational warnings to NATS.
type NATSConfig struct {
	URL     string
	Subject string
	Enabled bool
}

// DefaultNATSConfig returns sensible defaults for the NATS notifier.
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		URL:     "nats://localhost:4222",
		Subject: "outboxrelay.warnings",
	}
}

// NATSService publishes warnings and system events as JSON messages on a
// JetStream subject, for operators who want to fan alerts out to their own
// consumers instead of relying on a fixed webhook or email integration.
type NATSService struct {
	config *NATSConfig
	conn   *nats.Conn
	js     jetstream.JetStream
}

// NewNATSService connects to NATS and returns a Service that publishes to
// config.Subject.
func NewNATSService(config *NATSConfig) (*NATSService, error) {
	if config == nil {
		config = DefaultNATSConfig()
	}

	conn, err := nats.Connect(config.URL,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("notify: NATS disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: failed to create JetStream context: %w", err)
	}

	slog.Info("NATSNotificationService initialized", "enabled", config.Enabled, "subject", config.Subject)

	return &NATSService{config: config, conn: conn, js: js}, nil
}

// NotifyWarning publishes a warning to the configured subject.
func (s *NATSService) NotifyWarning(warning *Warning) {
	s.publish(warning)
}

// NotifyCriticalError publishes a synthetic CRITICAL warning.
func (s *NATSService) NotifyCriticalError(message, source string) {
	s.publish(&Warning{
		Category:  "CRITICAL_ERROR",
		Severity:  "CRITICAL",
		Message:   message,
		Timestamp: time.Now(),
		Source:    source,
	})
}

// NotifySystemEvent publishes a synthetic INFO warning.
func (s *NATSService) NotifySystemEvent(eventType, message string) {
	s.publish(&Warning{
		Category:  "SYSTEM_EVENT_" + eventType,
		Severity:  "INFO",
		Message:   message,
		Timestamp: time.Now(),
		Source:    "outbox-dispatcher",
	})
}

// IsEnabled reports whether this notifier is active.
func (s *NATSService) IsEnabled() bool {
	return s.config.Enabled
}

func (s *NATSService) publish(warning *Warning) {
	if !s.config.Enabled {
		return
	}

	data, err := json.Marshal(warning)
	if err != nil {
		slog.Error("notify: failed to marshal warning", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.js.Publish(ctx, s.config.Subject, data); err != nil {
		metrics.NotifyPublishErrors.WithLabelValues("nats").Inc()
		slog.Error("notify: failed to publish warning to NATS", "error", err, "subject", s.config.Subject)
		return
	}
	metrics.NotifyMessagesPublished.WithLabelValues("nats").Inc()
}

// Close closes the NATS connection without draining it first.
func (s *NATSService) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
