// Package round implements the round lifecycle state machine
// (Open → Locked → Settled) and its fixed-capacity wagering ledger.
//
// Every operation validates all preconditions and computes every checked
// sum before it writes anything, so a failed call leaves its arguments
// untouched.
package round

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/oracle"
)

// NewConfig creates the protocol singleton.
func NewConfig(authority string, feeBps uint16) (*model.Config, error) {
	if feeBps > model.MaxFeeBps {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidFee, feeBps, model.MaxFeeBps)
	}
	return &model.Config{Authority: authority, FeeBps: feeBps}, nil
}

// Authorize checks that caller is the operator stored in cfg.
func Authorize(cfg *model.Config, caller string) error {
	if caller == "" || caller != cfg.Authority {
		return ErrUnauthorized
	}
	return nil
}

// Open allocates round number cfg.RoundCount, advances the counter and
// snapshots the start price.
func Open(cfg *model.Config, price oracle.Price, now time.Time) (*model.Round, error) {
	next, carry := bits.Add64(cfg.RoundCount, 1, 0)
	if carry != 0 {
		return nil, fmt.Errorf("%w: round counter", ErrOverflow)
	}

	start := now.UTC().Truncate(time.Second)
	r := &model.Round{
		ID:            cfg.RoundCount,
		StartTS:       start,
		LockTS:        start.Add(model.RoundDuration - model.LockMargin),
		EndTS:         start.Add(model.RoundDuration),
		StartPrice:    price.Price,
		PriceExponent: price.Exponent,
		Status:        model.StatusOpen,
		Result:        model.ResultPending,
	}
	cfg.RoundCount = next
	return r, nil
}

// Lock closes an open round. The lock deadline is not enforced here; the
// operator may lock early or late.
func Lock(r *model.Round) error {
	if r.Status != model.StatusOpen {
		return fmt.Errorf("%w: round %d is %s", ErrRoundNotOpen, r.ID, r.Status)
	}
	r.Status = model.StatusLocked
	return nil
}

// Settle records the end price and derives the result. Prices are compared
// after scaling by their own exponents, so a changed exponent between the
// two reads still compares correctly.
func Settle(r *model.Round, price oracle.Price) error {
	if r.Status != model.StatusLocked {
		return fmt.Errorf("%w: round %d is %s", ErrRoundNotLocked, r.ID, r.Status)
	}

	r.EndPrice = price.Price
	r.EndExponent = price.Exponent
	r.Status = model.StatusSettled

	switch r.EndPriceDecimal().Cmp(r.StartPriceDecimal()) {
	case 1:
		r.Result = model.ResultUp
	case -1:
		r.Result = model.ResultDown
	default:
		r.Result = model.ResultTie
	}
	return nil
}

// PlaceWager adds amount on dir to p's entry in r and debits p.
// A participant may wager repeatedly, on both sides; all of it accumulates
// into one entry.
func PlaceWager(r *model.Round, p *model.Participant, dir model.Direction, amount uint64, now time.Time) error {
	if r.Status != model.StatusOpen {
		return fmt.Errorf("%w: round %d is %s", ErrRoundNotOpen, r.ID, r.Status)
	}
	if !now.Before(r.LockTS) {
		return ErrBettingClosed
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if p.Credits < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientCredits, p.Credits, amount)
	}

	idx := r.FindBet(p.Owner)
	entry := model.BetEntry{Player: p.Owner}
	if idx >= 0 {
		entry = r.Bets[idx]
	} else if int(r.NumBets) >= model.MaxPlayers {
		return ErrRoundFull
	}

	totalUp, totalDown := r.TotalUp, r.TotalDown
	var carry uint64
	switch dir {
	case model.Up:
		if entry.UpAmount, carry = bits.Add64(entry.UpAmount, amount, 0); carry != 0 {
			return fmt.Errorf("%w: entry up amount", ErrOverflow)
		}
		if totalUp, carry = bits.Add64(totalUp, amount, 0); carry != 0 {
			return fmt.Errorf("%w: total up", ErrOverflow)
		}
	case model.Down:
		if entry.DownAmount, carry = bits.Add64(entry.DownAmount, amount, 0); carry != 0 {
			return fmt.Errorf("%w: entry down amount", ErrOverflow)
		}
		if totalDown, carry = bits.Add64(totalDown, amount, 0); carry != 0 {
			return fmt.Errorf("%w: total down", ErrOverflow)
		}
	default:
		return fmt.Errorf("%w: direction %d", model.ErrInvalidTag, dir)
	}

	if idx < 0 {
		idx = int(r.NumBets)
		r.NumBets++
	}
	r.Bets[idx] = entry
	r.TotalUp, r.TotalDown = totalUp, totalDown
	p.Credits -= amount
	return nil
}

// Validate checks a round's structural invariants. Stores call it when
// decoding records so a corrupt row never reaches application logic.
func Validate(r *model.Round) error {
	if int(r.NumBets) > model.MaxPlayers {
		return fmt.Errorf("%w: %d bets", ErrCorruptRound, r.NumBets)
	}
	if _, err := model.ParseStatus(uint8(r.Status)); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRound, err)
	}
	if _, err := model.ParseResult(uint8(r.Result)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	if (r.Status == model.StatusSettled) == (r.Result == model.ResultPending) {
		return fmt.Errorf("%w: status %s with result %s", ErrCorruptRound, r.Status, r.Result)
	}

	var up, down, carry uint64
	seen := make(map[string]bool, r.NumBets)
	for _, b := range r.Entries() {
		if b.Player == "" || seen[b.Player] {
			return fmt.Errorf("%w: duplicate or empty player %q", ErrCorruptRound, b.Player)
		}
		seen[b.Player] = true
		if up, carry = bits.Add64(up, b.UpAmount, 0); carry != 0 {
			return fmt.Errorf("%w: up sum", ErrCorruptRound)
		}
		if down, carry = bits.Add64(down, b.DownAmount, 0); carry != 0 {
			return fmt.Errorf("%w: down sum", ErrCorruptRound)
		}
	}
	if up != r.TotalUp || down != r.TotalDown {
		return fmt.Errorf("%w: totals %d/%d, entries sum to %d/%d",
			ErrCorruptRound, r.TotalUp, r.TotalDown, up, down)
	}
	return nil
}
