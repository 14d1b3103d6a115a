package payout

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/oracle"
	"github.com/updown/round-engine/internal/round"
)

var t0 = time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)

type bet struct {
	owner string
	dir   model.Direction
	amt   uint64
}

// settled builds a round with the given bets, settled from 100 to end.
func settled(t *testing.T, end int64, bets ...bet) (*model.Round, map[string]*model.Participant) {
	t.Helper()
	cfg, _ := round.NewConfig("op", 0)
	r, err := round.Open(cfg, oracle.Price{Price: 100, Exponent: -2}, t0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	players := map[string]*model.Participant{}
	for _, b := range bets {
		p, ok := players[b.owner]
		if !ok {
			p = &model.Participant{Owner: b.owner, Credits: model.StartingCredits}
			players[b.owner] = p
		}
		if err := round.PlaceWager(r, p, b.dir, b.amt, t0); err != nil {
			t.Fatalf("wager: %v", err)
		}
	}
	round.Lock(r)
	if err := round.Settle(r, oracle.Price{Price: end, Exponent: -2}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	return r, players
}

func TestClaim_UpWinnerWithFee(t *testing.T) {
	r, players := settled(t, 101,
		bet{"a", model.Up, 350},
		bet{"b", model.Up, 350},
		bet{"c", model.Down, 300},
	)
	if r.Result != model.ResultUp {
		t.Fatalf("expected up, got %s", r.Result)
	}

	a := players["a"]
	before := a.Credits
	rc, err := Claim(r, a, 500)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	// floor((1000 - 50) * 350 / 700)
	if rc.Payout != 475 {
		t.Errorf("expected payout 475, got %d", rc.Payout)
	}
	if a.Credits != before+475 {
		t.Errorf("expected credits +475, got %d", a.Credits-before)
	}

	rc, err = Claim(r, players["c"], 500)
	if err != nil {
		t.Fatalf("loser claim: %v", err)
	}
	if rc.Payout != 0 {
		t.Errorf("down-only bettor should receive 0, got %d", rc.Payout)
	}
}

func TestClaim_DownIsSymmetric(t *testing.T) {
	r, players := settled(t, 99,
		bet{"a", model.Down, 350},
		bet{"b", model.Down, 350},
		bet{"c", model.Up, 300},
	)
	rc, err := Claim(r, players["a"], 500)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if rc.Payout != 475 {
		t.Errorf("expected payout 475, got %d", rc.Payout)
	}
}

func TestClaim_TieRefundsEverything(t *testing.T) {
	r, players := settled(t, 100,
		bet{"a", model.Up, 123},
		bet{"a", model.Down, 77},
		bet{"b", model.Down, 300},
		bet{"c", model.Up, 1},
	)
	if r.Result != model.ResultTie {
		t.Fatalf("expected tie, got %s", r.Result)
	}

	var sum uint64
	for _, e := range r.Entries() {
		rc, err := Claim(r, players[e.Player], 9_999)
		if err != nil {
			t.Fatalf("claim %s: %v", e.Player, err)
		}
		if rc.Payout != e.UpAmount+e.DownAmount {
			t.Errorf("%s: expected refund %d, got %d", e.Player, e.UpAmount+e.DownAmount, rc.Payout)
		}
		sum += rc.Payout
	}
	if sum != r.TotalUp+r.TotalDown {
		t.Errorf("refunds %d should equal pool %d", sum, r.TotalUp+r.TotalDown)
	}
	for _, p := range players {
		if p.Credits != model.StartingCredits {
			t.Errorf("%s: tie should restore starting balance, got %d", p.Owner, p.Credits)
		}
	}
	if !FullyClaimed(r) {
		t.Error("round should be fully claimed")
	}
}

func TestClaim_Replay(t *testing.T) {
	r, players := settled(t, 101, bet{"a", model.Up, 10}, bet{"b", model.Down, 10})
	a := players["a"]

	if _, err := Claim(r, a, 0); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	credits := a.Credits
	if _, err := Claim(r, a, 0); !errors.Is(err, round.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if a.Credits != credits {
		t.Error("second claim must not credit")
	}
	if r.Bets[0].Player != "a" {
		t.Error("claimed entry keeps its player for audit")
	}
	if FullyClaimed(r) {
		t.Error("b has not claimed yet")
	}
}

func TestClaim_Rejections(t *testing.T) {
	r, _ := settled(t, 101, bet{"a", model.Up, 10})
	stranger := &model.Participant{Owner: "z", Credits: 1}
	if _, err := Claim(r, stranger, 0); !errors.Is(err, round.ErrNoBetFound) {
		t.Errorf("expected ErrNoBetFound, got %v", err)
	}

	cfg, _ := round.NewConfig("op", 0)
	open, _ := round.Open(cfg, oracle.Price{Price: 1}, t0)
	p := &model.Participant{Owner: "a", Credits: 100}
	round.PlaceWager(open, p, model.Up, 10, t0)
	if _, err := Claim(open, p, 0); !errors.Is(err, round.ErrRoundNotSettled) {
		t.Errorf("expected ErrRoundNotSettled, got %v", err)
	}
	if open.Bets[0].Claimed {
		t.Error("failed claim must not consume the entry")
	}
}

func TestClaim_CreditOverflowLeavesEntry(t *testing.T) {
	r, players := settled(t, 100, bet{"a", model.Up, 10})
	a := players["a"]
	a.Credits = math.MaxUint64 - 5

	if _, err := Claim(r, a, 0); !errors.Is(err, round.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if r.Bets[0].Claimed {
		t.Error("entry must stay claimable after a failed claim")
	}
	if a.Credits != math.MaxUint64-5 {
		t.Error("credits must not change after a failed claim")
	}
}

func TestAmount_LargePoolUsesWideIntermediate(t *testing.T) {
	r := &model.Round{
		Status:    model.StatusSettled,
		Result:    model.ResultUp,
		TotalUp:   math.MaxUint64 / 2,
		TotalDown: math.MaxUint64 / 4,
		NumBets:   2,
	}
	entry := model.BetEntry{Player: "a", UpAmount: math.MaxUint64 / 2}

	got, err := Amount(r, entry, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := r.TotalUp + r.TotalDown; got != want {
		t.Errorf("sole winner should take the whole pool: want %d, got %d", want, got)
	}
}

func TestAmount_FeeProductOverflow(t *testing.T) {
	r := &model.Round{
		Status:    model.StatusSettled,
		Result:    model.ResultUp,
		TotalUp:   1 << 62,
		TotalDown: 1 << 62,
		NumBets:   2,
	}
	entry := model.BetEntry{Player: "a", UpAmount: 1 << 62}

	if _, err := Amount(r, entry, 500); !errors.Is(err, round.ErrOverflow) {
		t.Errorf("expected ErrOverflow for pool * fee_bps past 64 bits, got %v", err)
	}

	// The same pool without a fee pays out in full.
	got, err := Amount(r, entry, 0)
	if err != nil {
		t.Fatalf("unexpected error without fee: %v", err)
	}
	if got != 1<<63 {
		t.Errorf("expected %d, got %d", uint64(1<<63), got)
	}

	// Losers are never charged, so the fee is not computed for them.
	if got, err := Amount(r, model.BetEntry{Player: "b", DownAmount: 1 << 62}, 500); err != nil || got != 0 {
		t.Errorf("expected 0 for the losing side, got %d (%v)", got, err)
	}
}

func TestAmount_LargePoolWithFee(t *testing.T) {
	r := &model.Round{
		Status:    model.StatusSettled,
		Result:    model.ResultUp,
		TotalUp:   math.MaxUint64 / 2,
		TotalDown: math.MaxUint64 / 4,
		NumBets:   2,
	}
	entry := model.BetEntry{Player: "a", UpAmount: math.MaxUint64 / 2}
	if _, err := Amount(r, entry, 500); !errors.Is(err, round.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestAmount_PoolOverflow(t *testing.T) {
	r := &model.Round{
		Status:    model.StatusSettled,
		Result:    model.ResultTie,
		TotalUp:   math.MaxUint64,
		TotalDown: 1,
	}
	if _, err := Amount(r, model.BetEntry{UpAmount: 1}, 0); !errors.Is(err, round.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestAmount_PendingIsIntegrityError(t *testing.T) {
	r := &model.Round{Status: model.StatusSettled, Result: model.ResultPending}
	if _, err := Amount(r, model.BetEntry{}, 0); !errors.Is(err, round.ErrInvalidResult) {
		t.Errorf("expected ErrInvalidResult, got %v", err)
	}
}

func TestAmount_FullFeeLeavesNothing(t *testing.T) {
	r, _ := settled(t, 101, bet{"a", model.Up, 10}, bet{"b", model.Down, 10})
	got, err := Amount(r, r.Bets[0], model.MaxFeeBps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("100%% fee should leave 0, got %d", got)
	}
}

func TestMulDiv(t *testing.T) {
	if _, err := mulDiv(1, 1, 0); !errors.Is(err, round.ErrOverflow) {
		t.Errorf("division by zero: expected ErrOverflow, got %v", err)
	}
	if _, err := mulDiv(math.MaxUint64, 2, 1); !errors.Is(err, round.ErrOverflow) {
		t.Errorf("wide quotient: expected ErrOverflow, got %v", err)
	}
	q, err := mulDiv(math.MaxUint64, math.MaxUint64, math.MaxUint64)
	if err != nil || q != math.MaxUint64 {
		t.Errorf("expected MaxUint64, got %d (%v)", q, err)
	}
}
