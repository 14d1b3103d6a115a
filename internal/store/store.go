// Package store defines the persistence interface for the round engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and the accelerated environment).
//
// Mutations are expressed as read-modify-write callbacks: the store hands the
// callback a private copy of the record(s), and commits the copy only when the
// callback returns nil. A failed callback therefore leaves no trace.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/updown/round-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrAlreadyExists is returned when creating a record whose address is taken.
	ErrAlreadyExists = errors.New("store: record already exists")

	// ErrRoundNotFound and ErrParticipantNotFound narrow ErrNotFound to the
	// missing record kind, so a unit touching both can say which one.
	ErrRoundNotFound       = fmt.Errorf("%w: round", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("%w: participant", ErrNotFound)
)

// RoundFunc mutates a round copy in place.
type RoundFunc func(r *model.Round) error

// ParticipantFunc mutates a participant copy in place.
type ParticipantFunc func(p *model.Participant) error

// PairFunc mutates a round and a participant as one unit.
type PairFunc func(r *model.Round, p *model.Participant) error

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Config singleton ---

	// InitConfig persists the singleton. ErrAlreadyExists if present.
	InitConfig(ctx context.Context, cfg *model.Config) error

	// GetConfig returns the singleton or ErrNotFound.
	GetConfig(ctx context.Context) (*model.Config, error)

	// --- Rounds ---

	// OpenRound runs fn against the config and inserts the round fn returns,
	// committing the advanced counter and the new round together.
	OpenRound(ctx context.Context, fn func(cfg *model.Config) (*model.Round, error)) (*model.Round, error)

	// GetRound retrieves a round by number.
	GetRound(ctx context.Context, id uint64) (*model.Round, error)

	// ListRounds returns up to limit rounds, newest first.
	ListRounds(ctx context.Context, limit int) ([]model.Round, error)

	// ClaimableRounds returns settled rounds holding an unclaimed entry for owner.
	ClaimableRounds(ctx context.Context, owner string) ([]model.Round, error)

	// UpdateRound applies fn to round id.
	UpdateRound(ctx context.Context, id uint64, fn RoundFunc) (*model.Round, error)

	// PutRound inserts or replaces a round wholesale. Used when a round's
	// authoritative copy moves between environments.
	PutRound(ctx context.Context, r *model.Round) error

	// DeleteRound drops a round. Used by the accelerated environment on handback.
	DeleteRound(ctx context.Context, id uint64) error

	// --- Participants ---

	// CreateParticipant persists a new participant. ErrAlreadyExists if present.
	CreateParticipant(ctx context.Context, p *model.Participant) error

	// GetParticipant retrieves a participant by owner identity.
	GetParticipant(ctx context.Context, owner string) (*model.Participant, error)

	// UpdateParticipant applies fn to owner's record.
	UpdateParticipant(ctx context.Context, owner string, fn ParticipantFunc) (*model.Participant, error)

	// UpdateRoundAndParticipant applies fn to both records and commits them
	// together. The round is always locked before the participant.
	UpdateRoundAndParticipant(ctx context.Context, id uint64, owner string, fn PairFunc) (*model.Round, *model.Participant, error)
}
