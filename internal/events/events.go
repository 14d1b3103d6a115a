// Package events carries round lifecycle notifications to downstream
// consumers. Events are published after the state change is committed;
// a failed publish never rolls anything back.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/updown/round-engine/internal/model"
)

// Type names an event.
type Type string

const (
	ConfigInitialized     Type = "config.initialized"
	ParticipantRegistered Type = "participant.registered"
	RoundOpened           Type = "round.opened"
	RoundHandedOff        Type = "round.handed_off"
	RoundHandedBack       Type = "round.handed_back"
	RoundLocked           Type = "round.locked"
	RoundSettled          Type = "round.settled"
	WagerPlaced           Type = "wager.placed"
	PayoutClaimed         Type = "payout.claimed"
)

// Event is one committed state change.
type Event struct {
	ID        string       `json:"id"`
	Type      Type         `json:"type"`
	RoundID   *uint64      `json:"round_id,omitempty"`
	Owner     string       `json:"owner,omitempty"`
	Round     *model.Round `json:"round,omitempty"`
	Payload   any          `json:"payload,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// New builds an event about r (which may be nil).
func New(t Type, r *model.Round, owner string, payload any) Event {
	e := Event{
		ID:        uuid.New().String(),
		Type:      t,
		Owner:     owner,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if r != nil {
		id := r.ID
		e.RoundID = &id
		e.Round = r.Clone()
	}
	return e
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Fanout publishes to every member and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]Type, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}
