// Package model defines the core domain types shared across the round engine.
// All monetary values are unsigned base units (9 decimals), never float64.
package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Protocol constants.
const (
	// RoundDuration is the length of one round from open to end.
	RoundDuration = 120 * time.Second

	// LockMargin is how long before the end the betting window closes.
	LockMargin = 5 * time.Second

	// MaxPlayers is the fixed capacity of a round's wagering ledger.
	// Lookups scan linearly, which is only acceptable because this is small.
	MaxPlayers = 8

	// StartingCredits is the balance a participant receives on registration
	// (1000 credits at 9 decimals).
	StartingCredits uint64 = 1_000_000_000_000

	// CreditDecimals is the number of decimals in one credit.
	CreditDecimals = 9

	// MaxFeeBps is 100% expressed in basis points.
	MaxFeeBps = 10_000

	// MaxPriceAge is the freshness bound for oracle reads at open and settle.
	MaxPriceAge = 600 * time.Second

	// MinSignatures is the verification threshold for oracle reads.
	MinSignatures = 5
)

// Config is the protocol singleton. RoundCount only ever increases.
type Config struct {
	Authority  string `json:"authority"`
	FeeBps     uint16 `json:"fee_bps"`
	RoundCount uint64 `json:"round_count"`
}

// Participant is one ledger record per identity.
type Participant struct {
	Owner   string `json:"owner"`
	Credits uint64 `json:"credits"`
}

// BetEntry is a participant's accumulated stake within one round.
// Claimed marks one-shot consumption; the Player field is never erased.
type BetEntry struct {
	Player     string `json:"player"`
	UpAmount   uint64 `json:"up_amount"`
	DownAmount uint64 `json:"down_amount"`
	Claimed    bool   `json:"claimed"`
}

// Stake returns the entry's total contribution, reporting overflow.
func (b BetEntry) Stake() (uint64, bool) {
	sum := b.UpAmount + b.DownAmount
	return sum, sum >= b.UpAmount
}

// Round is one time-boxed betting epoch. Bets is a fixed-capacity arena:
// only the first NumBets slots are in use, in insertion order.
type Round struct {
	ID            uint64               `json:"round_id"`
	StartTS       time.Time            `json:"start_ts"`
	LockTS        time.Time            `json:"lock_ts"`
	EndTS         time.Time            `json:"end_ts"`
	StartPrice    int64                `json:"start_price"`
	EndPrice      int64                `json:"end_price"`
	PriceExponent int32                `json:"price_exponent"`
	EndExponent   int32                `json:"end_exponent"`
	TotalUp       uint64               `json:"total_up"`
	TotalDown     uint64               `json:"total_down"`
	Status        RoundStatus          `json:"status"`
	Result        RoundResult          `json:"result"`
	NumBets       uint8                `json:"num_bets"`
	Bets          [MaxPlayers]BetEntry `json:"bets"`
}

// Entries returns the in-use slots of the ledger.
func (r *Round) Entries() []BetEntry {
	return r.Bets[:r.NumBets]
}

// FindBet returns the slot index holding player's entry, or -1.
func (r *Round) FindBet(player string) int {
	for i := 0; i < int(r.NumBets); i++ {
		if r.Bets[i].Player == player {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy. Bets is an array so a value copy suffices.
func (r *Round) Clone() *Round {
	c := *r
	return &c
}

// StartPriceDecimal is the start price scaled by its exponent.
func (r *Round) StartPriceDecimal() decimal.Decimal {
	return decimal.New(r.StartPrice, r.PriceExponent)
}

// EndPriceDecimal is the end price scaled by its exponent.
func (r *Round) EndPriceDecimal() decimal.Decimal {
	return decimal.New(r.EndPrice, r.EndExponent)
}

// Credits renders base units as whole credits.
func Credits(units uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -CreditDecimals)
}
