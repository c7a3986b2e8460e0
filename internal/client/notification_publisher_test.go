package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
)

type recordingStream struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (r *recordingStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, payload)
	if r.err != nil {
		return nil, r.err
	}
	return &jetstream.PubAck{Stream: "NOTIFICATIONS", Sequence: uint64(len(r.subjects))}, nil
}

func testLetter() *repository.Letter {
	return &repository.Letter{
		ID:           "letter-1",
		LetterNumber: "SP/001",
		Subject:      "Laptop purchase",
		Amount:       1_500_000,
		Status:       repository.StatusPendingReview,
	}
}

func TestPublishLetterEvent(t *testing.T) {
	stream := &recordingStream{}
	p := NewNotificationPublisher(stream, zerolog.Nop())

	p.PublishLetterEvent(context.Background(), EventLetterSubmitted, testLetter(), "staff-1", []repository.UserID{"mk-1"})

	if len(stream.subjects) != 1 {
		t.Fatalf("published %d events, want 1", len(stream.subjects))
	}
	if stream.subjects[0] != "notifications.procurement.letter_submitted" {
		t.Errorf("subject = %q", stream.subjects[0])
	}

	var got NotificationEvent
	if err := json.Unmarshal(stream.payloads[0], &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.ResourceID != "letter-1" || got.ActorID != "staff-1" {
		t.Errorf("event = %+v", got)
	}
	if len(got.Recipients) != 1 || got.Recipients[0] != "mk-1" {
		t.Errorf("recipients = %v", got.Recipients)
	}
	if !got.IsActionable {
		t.Error("submitted event should be actionable")
	}
}

func TestPublishLetterEventSkips(t *testing.T) {
	stream := &recordingStream{}
	p := NewNotificationPublisher(stream, zerolog.Nop())

	p.PublishLetterEvent(context.Background(), EventLetterApproved, testLetter(), "gm-1", nil)
	if len(stream.subjects) != 0 {
		t.Error("event without recipients should not be published")
	}

	var nilPublisher *NotificationPublisher
	nilPublisher.PublishLetterEvent(context.Background(), EventLetterApproved, testLetter(), "gm-1", []repository.UserID{"staff-1"})

	disabled := NewNotificationPublisher(nil, zerolog.Nop())
	disabled.PublishLetterEvent(context.Background(), EventLetterApproved, testLetter(), "gm-1", []repository.UserID{"staff-1"})
}

func TestPublishLetterEventFailureIsSwallowed(t *testing.T) {
	stream := &recordingStream{err: stderrors.New("no responders")}
	p := NewNotificationPublisher(stream, zerolog.Nop())

	p.PublishLetterEvent(context.Background(), EventLetterRejected, testLetter(), "gm-1", []repository.UserID{"staff-1"})

	if len(stream.subjects) != 1 {
		t.Fatalf("publish attempts = %d, want 1", len(stream.subjects))
	}
}

func TestBuildLetterEventSeverity(t *testing.T) {
	ev := BuildLetterEvent(EventLetterRejected, testLetter(), "gm-1", []repository.UserID{"staff-1"})
	if ev.Severity != "warning" || ev.IsActionable {
		t.Errorf("rejected event = %+v", ev)
	}
	if ev.Payload["amount"] != int64(1_500_000) {
		t.Errorf("payload amount = %v", ev.Payload["amount"])
	}
}
