package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
)

// Subject convention: notifications.procurement.<event_type>
const subjectPrefix = "notifications.procurement."

// Event types published for letter transitions.
const (
	EventLetterSubmitted         = "letter_submitted"
	EventLetterApprovalRequired  = "letter_approval_required"
	EventLetterApproved          = "letter_approved"
	EventLetterRejected          = "letter_rejected"
	EventLetterRevisionRequested = "letter_revision_requested"
)

// StreamPublisher is the subset of jetstream.JetStream the publisher needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NotificationPublisher publishes letter workflow events to NATS JetStream
// for the notifications service.
//
// All publish operations are non-fatal: errors are logged and never returned,
// so a notification failure never undoes a committed transition.
type NotificationPublisher struct {
	js  StreamPublisher
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil js disables publishing.
func NewNotificationPublisher(js StreamPublisher, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{js: js, log: log}
}

// ConnectJetStream dials NATS and makes sure the notification stream exists.
// The returned connection must be drained by the caller on shutdown.
func ConnectJetStream(ctx context.Context, url, stream string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("be-procurement-letters"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{subjectPrefix + ">"},
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}
	return nc, js, nil
}

// PublishLetterEvent publishes a letter workflow event.
// Subject: notifications.procurement.<eventType>
func (p *NotificationPublisher) PublishLetterEvent(ctx context.Context, eventType string, letter *repository.Letter, actorID repository.UserID, recipients []repository.UserID) {
	if p == nil || p.js == nil || letter == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := BuildLetterEvent(eventType, letter, actorID, recipients)
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := subjectPrefix + eventType
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("letter_id", string(letter.ID)).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("letter_id", string(letter.ID)).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

// BuildLetterEvent assembles the event body for a letter.
func BuildLetterEvent(eventType string, letter *repository.Letter, actorID repository.UserID, recipients []repository.UserID) *NotificationEvent {
	to := make([]string, 0, len(recipients))
	for _, r := range recipients {
		to = append(to, string(r))
	}

	actionable := eventType == EventLetterApprovalRequired ||
		eventType == EventLetterSubmitted ||
		eventType == EventLetterRevisionRequested

	severity := "info"
	if eventType == EventLetterRejected {
		severity = "warning"
	}

	return &NotificationEvent{
		EventType:    eventType,
		ActorID:      string(actorID),
		Recipients:   to,
		ResourceType: "procurement_letter",
		ResourceID:   string(letter.ID),
		IsActionable: actionable,
		Severity:     severity,
		Category:     "procurement_approval",
		Payload: map[string]any{
			"letter_number": letter.LetterNumber,
			"subject":       letter.Subject,
			"amount":        letter.Amount,
			"status":        string(letter.Status),
		},
	}
}
