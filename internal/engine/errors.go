package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/updown/round-engine/internal/migration"
	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/oracle"
	"github.com/updown/round-engine/internal/round"
	"github.com/updown/round-engine/internal/store"
)

var (
	// ErrAlreadyInitialized is returned when the config singleton exists.
	ErrAlreadyInitialized = errors.New("engine: config already initialized")

	// ErrNotInitialized is returned for commands that need the config first.
	ErrNotInitialized = errors.New("engine: config not initialized")

	// ErrAlreadyRegistered is returned for a second registration of one owner.
	ErrAlreadyRegistered = errors.New("engine: participant already registered")

	// ErrNotRegistered is returned when the participant record does not exist.
	ErrNotRegistered = errors.New("engine: participant not registered")

	// ErrRoundNotFound is returned for an unknown round number.
	ErrRoundNotFound = errors.New("engine: round not found")

	// ErrInvalidOwner is returned for an empty participant identity.
	ErrInvalidOwner = errors.New("engine: invalid owner identity")
)

// Kind is the error taxonomy surfaced to callers.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindTiming        Kind = "timing"
	KindValidation    Kind = "validation"
	KindArithmetic    Kind = "arithmetic"
	KindLookup        Kind = "lookup"
	KindReplay        Kind = "replay"
	KindOracle        Kind = "oracle"
	KindIntegrity     Kind = "integrity"
	KindConflict      Kind = "conflict"
	KindMigration     Kind = "migration"
	KindInternal      Kind = "internal"
)

// Classification describes an error for clients: a stable code, its kind,
// and whether the same request may succeed later.
type Classification struct {
	Code      string `json:"code"`
	Kind      Kind   `json:"kind"`
	Retryable bool   `json:"retryable"`
}

var classes = []struct {
	err error
	Classification
}{
	{round.ErrInvalidFee, Classification{"invalid_fee", KindConfiguration, false}},
	{ErrNotInitialized, Classification{"not_initialized", KindConfiguration, true}},
	{round.ErrUnauthorized, Classification{"unauthorized", KindAuthorization, false}},
	{round.ErrRoundNotOpen, Classification{"round_not_open", KindState, false}},
	{round.ErrRoundNotLocked, Classification{"round_not_locked", KindState, false}},
	{round.ErrRoundNotSettled, Classification{"round_not_settled", KindState, true}},
	{round.ErrBettingClosed, Classification{"betting_closed", KindTiming, true}},
	{round.ErrInvalidAmount, Classification{"invalid_amount", KindValidation, false}},
	{round.ErrInsufficientCredits, Classification{"insufficient_credits", KindValidation, false}},
	{round.ErrRoundFull, Classification{"round_full", KindValidation, false}},
	{ErrInvalidOwner, Classification{"invalid_owner", KindValidation, false}},
	{round.ErrOverflow, Classification{"arithmetic_overflow", KindArithmetic, false}},
	{round.ErrNoBetFound, Classification{"no_bet_found", KindLookup, false}},
	{ErrRoundNotFound, Classification{"round_not_found", KindLookup, false}},
	{ErrNotRegistered, Classification{"not_registered", KindLookup, false}},
	{round.ErrAlreadyClaimed, Classification{"already_claimed", KindReplay, false}},
	{oracle.ErrStalePrice, Classification{"stale_price", KindOracle, true}},
	{oracle.ErrInsufficientVerification, Classification{"insufficient_verification", KindOracle, true}},
	{oracle.ErrPriceUnavailable, Classification{"price_unavailable", KindOracle, true}},
	{oracle.ErrFeedMismatch, Classification{"feed_mismatch", KindOracle, false}},
	{round.ErrInvalidResult, Classification{"invalid_result", KindIntegrity, false}},
	{round.ErrCorruptRound, Classification{"corrupt_round", KindIntegrity, false}},
	{model.ErrInvalidTag, Classification{"invalid_tag", KindIntegrity, false}},
	{ErrAlreadyInitialized, Classification{"already_initialized", KindConflict, false}},
	{ErrAlreadyRegistered, Classification{"already_registered", KindConflict, false}},
	{migration.ErrAlreadyDelegated, Classification{"already_delegated", KindMigration, false}},
	{migration.ErrNotDelegated, Classification{"not_delegated", KindMigration, false}},
	{context.DeadlineExceeded, Classification{"timeout", KindInternal, true}},
	{context.Canceled, Classification{"canceled", KindInternal, true}},
}

// Classify maps err onto the taxonomy. Unrecognised errors are internal
// and retryable: they come from infrastructure, not from the request.
func Classify(err error) Classification {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.Classification
		}
	}
	return Classification{Code: "internal", Kind: KindInternal, Retryable: true}
}

// mapStoreErr turns generic store errors into engine errors for the record kind.
func mapStoreErr(err, notFound, exists error) error {
	switch {
	case err == nil:
		return nil
	case notFound != nil && errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", notFound, err)
	case exists != nil && errors.Is(err, store.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", exists, err)
	}
	return err
}

// mapPairErr maps errors from a round+participant unit, where either record
// can be the missing one.
func mapPairErr(err error) error {
	if errors.Is(err, store.ErrParticipantNotFound) {
		return fmt.Errorf("%w: %w", ErrNotRegistered, err)
	}
	return mapStoreErr(err, ErrRoundNotFound, nil)
}
