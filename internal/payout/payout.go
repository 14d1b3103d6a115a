// Package payout computes what a settled round owes each bettor and applies
// one-shot claims.
//
// All amounts are uint64 base units. The share product uses a 128-bit
// intermediate (math/bits) so pool * stake never overflows before the
// division; the fee product pool * fee_bps is checked in 64 bits.
package payout

import (
	"fmt"
	"math/bits"

	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/round"
)

// Receipt describes one applied claim.
type Receipt struct {
	RoundID    uint64 `json:"round_id"`
	Owner      string `json:"owner"`
	EntryIndex int    `json:"entry_index"`
	Result     string `json:"result"`
	Payout     uint64 `json:"payout"`
	Credits    uint64 `json:"credits"`
}

// Amount computes the payout owed to entry under r's result.
//
//	Tie:  up + down, no fee
//	Up:   floor((pool - fee) * up / totalUp) if up > 0, else 0
//	Down: symmetric
//
// with fee = floor(pool * feeBps / 10000). The fee product must fit in 64
// bits; the share product is computed at 128 bits.
func Amount(r *model.Round, entry model.BetEntry, feeBps uint16) (uint64, error) {
	if r.Status != model.StatusSettled {
		return 0, round.ErrRoundNotSettled
	}

	pool, carry := bits.Add64(r.TotalUp, r.TotalDown, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: total pool", round.ErrOverflow)
	}

	switch r.Result {
	case model.ResultTie:
		refund, ok := entry.Stake()
		if !ok {
			return 0, fmt.Errorf("%w: refund", round.ErrOverflow)
		}
		return refund, nil
	case model.ResultUp:
		return winnings(pool, entry.UpAmount, r.TotalUp, feeBps)
	case model.ResultDown:
		return winnings(pool, entry.DownAmount, r.TotalDown, feeBps)
	case model.ResultPending:
		return 0, fmt.Errorf("%w: settled round %d has pending result", round.ErrInvalidResult, r.ID)
	}
	return 0, fmt.Errorf("%w: %d", round.ErrInvalidResult, uint8(r.Result))
}

func winnings(pool, stake, sideTotal uint64, feeBps uint16) (uint64, error) {
	if stake == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(pool, uint64(feeBps))
	if hi != 0 {
		return 0, fmt.Errorf("%w: fee", round.ErrOverflow)
	}
	fee := lo / model.MaxFeeBps
	share, err := mulDiv(pool-fee, stake, sideTotal)
	if err != nil {
		return 0, fmt.Errorf("share: %w", err)
	}
	return share, nil
}

// mulDiv returns floor(a * b / d) or ErrOverflow when d is zero or the
// quotient does not fit in 64 bits.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("%w: division by zero", round.ErrOverflow)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, fmt.Errorf("%w: quotient exceeds 64 bits", round.ErrOverflow)
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// Claim resolves p's entry in r, credits the payout to p and marks the entry
// claimed. Nothing is written unless every step succeeds.
func Claim(r *model.Round, p *model.Participant, feeBps uint16) (Receipt, error) {
	if r.Status != model.StatusSettled {
		return Receipt{}, fmt.Errorf("%w: round %d is %s", round.ErrRoundNotSettled, r.ID, r.Status)
	}

	idx := r.FindBet(p.Owner)
	if idx < 0 {
		return Receipt{}, fmt.Errorf("%w: %s in round %d", round.ErrNoBetFound, p.Owner, r.ID)
	}
	entry := r.Bets[idx]
	if entry.Claimed {
		return Receipt{}, fmt.Errorf("%w: %s in round %d", round.ErrAlreadyClaimed, p.Owner, r.ID)
	}

	amount, err := Amount(r, entry, feeBps)
	if err != nil {
		return Receipt{}, err
	}
	credits, carry := bits.Add64(p.Credits, amount, 0)
	if carry != 0 {
		return Receipt{}, fmt.Errorf("%w: participant credits", round.ErrOverflow)
	}

	p.Credits = credits
	r.Bets[idx].Claimed = true

	return Receipt{
		RoundID:    r.ID,
		Owner:      p.Owner,
		EntryIndex: idx,
		Result:     r.Result.String(),
		Payout:     amount,
		Credits:    credits,
	}, nil
}

// FullyClaimed reports whether every entry of r has been consumed, at which
// point the round is inert and kept only for audit.
func FullyClaimed(r *model.Round) bool {
	if r.Status != model.StatusSettled {
		return false
	}
	for _, b := range r.Entries() {
		if !b.Claimed {
			return false
		}
	}
	return true
}
