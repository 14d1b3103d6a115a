package events

import (
	"context"
	"errors"
	"testing"

	"github.com/updown/round-engine/internal/model"
)

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestNew_SnapshotsRound(t *testing.T) {
	r := &model.Round{ID: 7, TotalUp: 10}
	e := New(RoundOpened, r, "", nil)

	if e.ID == "" {
		t.Error("expected an event id")
	}
	if e.RoundID == nil || *e.RoundID != 7 {
		t.Fatalf("expected round id 7, got %v", e.RoundID)
	}
	r.TotalUp = 99
	if e.Round.TotalUp != 10 {
		t.Error("event round must be a snapshot, not an alias")
	}
}

func TestSubject(t *testing.T) {
	id := uint64(42)
	tests := []struct {
		event Event
		want  string
	}{
		{Event{Type: RoundSettled, RoundID: &id}, "updown.events.round_settled.42"},
		{Event{Type: ParticipantRegistered}, "updown.events.participant_registered"},
	}
	for _, tt := range tests {
		if got := Subject(tt.event); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	rec1, rec2 := &Recorder{}, &Recorder{}
	boom := errors.New("boom")
	f := Fanout{rec1, failing{boom}, rec2}

	err := f.Publish(context.Background(), New(WagerPlaced, nil, "alice", nil))
	if !errors.Is(err, boom) {
		t.Errorf("expected joined boom, got %v", err)
	}
	if len(rec1.Events()) != 1 || len(rec2.Events()) != 1 {
		t.Error("every member should receive the event despite one failing")
	}
	if got := rec2.Types(); got[0] != WagerPlaced {
		t.Errorf("expected %s, got %s", WagerPlaced, got[0])
	}
}
