package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/oracle"
	"github.com/updown/round-engine/internal/payout"
	"github.com/updown/round-engine/internal/round"
	"github.com/updown/round-engine/internal/store"
)

var t0 = time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Router, *store.MemoryStore, *model.Round) {
	t.Helper()
	ctx := context.Background()
	base := store.NewMemoryStore()
	base.InitConfig(ctx, &model.Config{Authority: "op"})
	base.CreateParticipant(ctx, &model.Participant{Owner: "alice", Credits: 1000})

	rt := NewRouter(base, store.NewMemoryStore())
	r, err := rt.OpenRound(ctx, func(cfg *model.Config) (*model.Round, error) {
		return round.Open(cfg, oracle.Price{Price: 100, Exponent: -2}, t0)
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return rt, base, r
}

func wager(amount uint64) store.PairFunc {
	return func(r *model.Round, p *model.Participant) error {
		return round.PlaceWager(r, p, model.Up, amount, t0)
	}
}

func TestRouter_HandoffRoutesToAccelerated(t *testing.T) {
	ctx := context.Background()
	rt, base, r := setup(t)

	if env := rt.Environment(r.ID); env != Base {
		t.Fatalf("expected base, got %s", env)
	}
	if _, err := rt.Handoff(ctx, r.ID); err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if env := rt.Environment(r.ID); env != Accelerated {
		t.Fatalf("expected accelerated, got %s", env)
	}

	if _, _, err := rt.UpdateRoundAndParticipant(ctx, r.ID, "alice", wager(40)); err != nil {
		t.Fatalf("wager: %v", err)
	}

	got, _ := rt.GetRound(ctx, r.ID)
	if got.TotalUp != 40 {
		t.Errorf("router read should see accelerated copy, got total %d", got.TotalUp)
	}
	stale, _ := base.GetRound(ctx, r.ID)
	if stale.TotalUp != 0 {
		t.Errorf("base copy should not change while delegated, got %d", stale.TotalUp)
	}
	p, _ := base.GetParticipant(ctx, "alice")
	if p.Credits != 960 {
		t.Errorf("participant debit should land in base, got %d", p.Credits)
	}

	rounds, _ := rt.ListRounds(ctx, 10)
	if len(rounds) != 1 || rounds[0].TotalUp != 40 {
		t.Errorf("list should substitute the accelerated copy: %+v", rounds)
	}
}

func TestRouter_HandbackCommitsToBase(t *testing.T) {
	ctx := context.Background()
	rt, base, r := setup(t)

	rt.Handoff(ctx, r.ID)
	rt.UpdateRoundAndParticipant(ctx, r.ID, "alice", wager(25))
	rt.UpdateRound(ctx, r.ID, round.Lock)

	if _, err := rt.Handback(ctx, r.ID); err != nil {
		t.Fatalf("handback: %v", err)
	}
	if env := rt.Environment(r.ID); env != Base {
		t.Errorf("expected base after handback, got %s", env)
	}
	got, _ := base.GetRound(ctx, r.ID)
	if got.TotalUp != 25 || got.Status != model.StatusLocked {
		t.Errorf("base should hold committed state, got %+v", got)
	}
	if len(rt.Delegated()) != 0 {
		t.Errorf("no rounds should remain delegated: %v", rt.Delegated())
	}
}

func TestRouter_HandoffTwice(t *testing.T) {
	ctx := context.Background()
	rt, _, r := setup(t)

	rt.Handoff(ctx, r.ID)
	if _, err := rt.Handoff(ctx, r.ID); !errors.Is(err, ErrAlreadyDelegated) {
		t.Errorf("expected ErrAlreadyDelegated, got %v", err)
	}
	rt.Handback(ctx, r.ID)
	if _, err := rt.Handback(ctx, r.ID); !errors.Is(err, ErrNotDelegated) {
		t.Errorf("expected ErrNotDelegated, got %v", err)
	}
}

func TestRouter_HandoffMissingRound(t *testing.T) {
	rt, _, _ := setup(t)
	if _, err := rt.Handoff(context.Background(), 42); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if rt.Environment(42) != Base {
		t.Error("failed handoff must not delegate")
	}
}

func TestRouter_FailedCrossEnvironmentUnitLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	rt, base, r := setup(t)
	rt.Handoff(ctx, r.ID)

	_, _, err := rt.UpdateRoundAndParticipant(ctx, r.ID, "alice", wager(5000))
	if !errors.Is(err, round.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	got, _ := rt.GetRound(ctx, r.ID)
	if got.NumBets != 0 {
		t.Error("round changed by failed unit")
	}
	p, _ := base.GetParticipant(ctx, "alice")
	if p.Credits != 1000 {
		t.Error("credits changed by failed unit")
	}

	// Invalid round state is caught before the participant commits.
	_, _, err = rt.UpdateRoundAndParticipant(ctx, r.ID, "alice", func(r *model.Round, p *model.Participant) error {
		p.Credits = 1
		r.TotalDown = 7
		return nil
	})
	if !errors.Is(err, round.ErrCorruptRound) {
		t.Fatalf("expected ErrCorruptRound, got %v", err)
	}
	p, _ = base.GetParticipant(ctx, "alice")
	if p.Credits != 1000 {
		t.Errorf("credits committed despite invalid round: %d", p.Credits)
	}
}

func TestRouter_ClaimWhileDelegated(t *testing.T) {
	ctx := context.Background()
	rt, base, r := setup(t)

	rt.UpdateRoundAndParticipant(ctx, r.ID, "alice", wager(50))
	rt.UpdateRound(ctx, r.ID, func(r *model.Round) error {
		round.Lock(r)
		return round.Settle(r, oracle.Price{Price: 100, Exponent: -2})
	})
	rt.Handoff(ctx, r.ID)

	claimable, _ := rt.ClaimableRounds(ctx, "alice")
	if len(claimable) != 1 {
		t.Fatalf("expected 1 claimable round, got %d", len(claimable))
	}

	_, p, err := rt.UpdateRoundAndParticipant(ctx, r.ID, "alice", func(r *model.Round, p *model.Participant) error {
		_, err := payout.Claim(r, p, 0)
		return err
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if p.Credits != 1000 {
		t.Errorf("tie refund should restore credits, got %d", p.Credits)
	}
	stored, _ := base.GetParticipant(ctx, "alice")
	if stored.Credits != 1000 {
		t.Errorf("base participant not credited: %d", stored.Credits)
	}

	claimable, _ = rt.ClaimableRounds(ctx, "alice")
	if len(claimable) != 0 {
		t.Errorf("stale base copy must not be listed as claimable: %+v", claimable)
	}
}

// laggingStore serves GetRound from a snapshot taken earlier, the way a
// read-through cache can trail the committed row.
type laggingStore struct {
	store.Store
	snapshot map[uint64]*model.Round
}

func (s *laggingStore) GetRound(ctx context.Context, id uint64) (*model.Round, error) {
	if r, ok := s.snapshot[id]; ok {
		return r.Clone(), nil
	}
	return s.Store.GetRound(ctx, id)
}

func TestRouter_HandoffIgnoresLaggingReads(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	mem.InitConfig(ctx, &model.Config{Authority: "op"})
	mem.CreateParticipant(ctx, &model.Participant{Owner: "alice", Credits: 1000})
	base := &laggingStore{Store: mem, snapshot: map[uint64]*model.Round{}}

	rt := NewRouter(base, store.NewMemoryStore())
	r, err := rt.OpenRound(ctx, func(cfg *model.Config) (*model.Round, error) {
		return round.Open(cfg, oracle.Price{Price: 100, Exponent: -2}, t0)
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	base.snapshot[r.ID] = r.Clone()

	if _, _, err := rt.UpdateRoundAndParticipant(ctx, r.ID, "alice", wager(40)); err != nil {
		t.Fatalf("wager: %v", err)
	}

	moved, err := rt.Handoff(ctx, r.ID)
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if moved.TotalUp != 40 || moved.NumBets != 1 {
		t.Errorf("handoff copied a lagging round: total_up %d, bets %d", moved.TotalUp, moved.NumBets)
	}

	if _, _, err := rt.UpdateRoundAndParticipant(ctx, r.ID, "alice", wager(10)); err != nil {
		t.Fatalf("delegated wager: %v", err)
	}
	if _, err := rt.Handback(ctx, r.ID); err != nil {
		t.Fatalf("handback: %v", err)
	}

	got, err := mem.GetRound(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalUp != 50 || got.NumBets != 1 {
		t.Errorf("expected both wagers committed, got total_up %d, bets %d", got.TotalUp, got.NumBets)
	}
	p, _ := mem.GetParticipant(ctx, "alice")
	if p.Credits != 950 {
		t.Errorf("expected 950 credits, got %d", p.Credits)
	}
}
