package round

import "errors"

var (
	// ErrInvalidFee is returned when fee basis points exceed 10000.
	ErrInvalidFee = errors.New("round: invalid fee basis points")

	// ErrUnauthorized is returned when the caller is not the stored authority.
	ErrUnauthorized = errors.New("round: caller is not the operator")

	// ErrRoundNotOpen is returned when a round is not open for betting.
	ErrRoundNotOpen = errors.New("round: round is not open")

	// ErrRoundNotLocked is returned when settling a round that is not locked.
	ErrRoundNotLocked = errors.New("round: round is not locked")

	// ErrRoundNotSettled is returned when claiming against an unsettled round.
	ErrRoundNotSettled = errors.New("round: round is not settled")

	// ErrBettingClosed is returned for wagers at or after the lock deadline.
	ErrBettingClosed = errors.New("round: betting window has closed")

	// ErrInvalidAmount is returned for a zero wager.
	ErrInvalidAmount = errors.New("round: invalid wager amount")

	// ErrInsufficientCredits is returned when a balance cannot cover a wager.
	ErrInsufficientCredits = errors.New("round: insufficient credits")

	// ErrRoundFull is returned when a new bettor arrives at a full ledger.
	ErrRoundFull = errors.New("round: round is full")

	// ErrOverflow is returned when checked arithmetic leaves the 64-bit range
	// or would divide by zero.
	ErrOverflow = errors.New("round: arithmetic overflow")

	// ErrNoBetFound is returned when the claimant has no entry in the round.
	ErrNoBetFound = errors.New("round: no bet found for participant")

	// ErrAlreadyClaimed is returned for a second claim on the same entry.
	ErrAlreadyClaimed = errors.New("round: already claimed")

	// ErrInvalidResult is returned when a settled round carries no usable result.
	ErrInvalidResult = errors.New("round: invalid result")

	// ErrCorruptRound is returned when a stored round violates its invariants.
	ErrCorruptRound = errors.New("round: round record violates invariants")
)
