package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ap-budgets/internal/service"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "notifications.procurement"

// NotificationPublisher publishes procurement events to NATS for
// consumption by the be-plt-notifications service.
//
// Subject convention: <prefix>.<template>, e.g.
// notifications.procurement.po_approved
type NotificationPublisher struct {
	conn   Publisher
	prefix string
	log    zerolog.Logger
}

// Publisher is the part of *nats.Conn the notification publisher uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id,omitempty"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Connect opens a NATS connection that reconnects indefinitely.
func Connect(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// NewNotificationPublisher creates a publisher backed by the given connection.
func NewNotificationPublisher(conn Publisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NotificationPublisher{conn: conn, prefix: prefix, log: log}
}

// Send publishes n without waiting for the server. The connection flushes
// buffered messages in the background.
func (p *NotificationPublisher) Send(_ context.Context, n service.Notification) error {
	if p.conn == nil {
		return fmt.Errorf("notification: no NATS connection")
	}

	data, err := encodeEvent(n, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("notification: marshal event: %w", err)
	}

	subject := p.subject(n.Template)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("notification: publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", n.EntityID).
		Str("recipient", n.Recipient).
		Msg("notification: event published")
	return nil
}

func (p *NotificationPublisher) subject(template string) string {
	return p.prefix + "." + template
}

func encodeEvent(n service.Notification, at time.Time) ([]byte, error) {
	var recipients []string
	if n.Recipient != "" {
		recipients = []string{n.Recipient}
	}
	return json.Marshal(&NotificationEvent{
		EventType:    n.Template,
		ActorID:      n.ActorID,
		Recipients:   recipients,
		ResourceType: n.EntityType,
		ResourceID:   n.EntityID,
		Severity:     "info",
		Category:     "procurement",
		OccurredAt:   at,
		Payload:      n.Payload,
	})
}

// LogNotifier writes notifications to the log. It stands in for the
// publisher when no broker is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Send(_ context.Context, n service.Notification) error {
	l.log.Info().
		Str("template", n.Template).
		Str("recipient", n.Recipient).
		Str("resource_type", n.EntityType).
		Str("resource_id", n.EntityID).
		Str("actor_id", n.ActorID).
		Msg("notification (no broker configured)")
	return nil
}

var (
	_ service.Notifier = (*NotificationPublisher)(nil)
	_ service.Notifier = (*LogNotifier)(nil)
	_ Publisher        = (*nats.Conn)(nil)
)
