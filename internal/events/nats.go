package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream holding lifecycle events.
	StreamName = "UPDOWN_ROUND_EVENTS"

	// SubjectPrefix prefixes every event subject.
	SubjectPrefix = "updown.events"
)

// NATSPublisher publishes events to JetStream under
// updown.events.{type}[.{round_id}], with the event id as message id so
// redelivered publishes are deduplicated by the server.
type NATSPublisher struct {
	js jetstream.JetStream
}

func NewNATSPublisher(js jetstream.JetStream) *NATSPublisher {
	return &NATSPublisher{js: js}
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(e), data, jetstream.WithMsgID(e.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Subject returns the subject an event is published on.
func Subject(e Event) string {
	subject := SubjectPrefix + "." + strings.ReplaceAll(string(e.Type), ".", "_")
	if e.RoundID != nil {
		subject = fmt.Sprintf("%s.%d", subject, *e.RoundID)
	}
	return subject
}

// EnsureStream creates or updates the lifecycle event stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	slog.Info("ensured event stream", "stream", StreamName)
	return nil
}
