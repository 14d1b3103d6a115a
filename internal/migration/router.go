// Package migration moves a round's authoritative copy between the durable
// base environment and a fast in-memory accelerated environment.
//
// Router implements store.Store, so the engine is unaware of where a round
// currently lives. Config and participants always stay in the base store.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/round"
	"github.com/updown/round-engine/internal/store"
)

var (
	// ErrAlreadyDelegated is returned when handing off a round that is
	// already in the accelerated environment.
	ErrAlreadyDelegated = errors.New("migration: round already delegated")

	// ErrNotDelegated is returned when handing back a round that is not delegated.
	ErrNotDelegated = errors.New("migration: round not delegated")
)

// Environment names where a round's mutable copy lives.
type Environment uint8

const (
	Base Environment = iota
	Accelerated
)

func (e Environment) String() string {
	if e == Accelerated {
		return "accelerated"
	}
	return "base"
}

func (e Environment) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *Environment) UnmarshalText(b []byte) error {
	switch string(b) {
	case "base":
		*e = Base
	case "accelerated":
		*e = Accelerated
	default:
		return fmt.Errorf("migration: unknown environment %q", b)
	}
	return nil
}

// Router dispatches round access to the environment that owns the round.
// Round operations hold a read lock for their whole duration, so a handoff
// or handback never interleaves with a mutation of the same round.
type Router struct {
	mu        sync.RWMutex
	base      store.Store
	accel     *store.MemoryStore
	delegated map[uint64]bool
}

// NewRouter creates a router over base. The accelerated environment is a
// MemoryStore, whose commits cannot fail once the callback has validated.
func NewRouter(base store.Store, accel *store.MemoryStore) *Router {
	return &Router{
		base:      base,
		accel:     accel,
		delegated: make(map[uint64]bool),
	}
}

// Environment reports where round id currently lives.
func (rt *Router) Environment(id uint64) Environment {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.delegated[id] {
		return Accelerated
	}
	return Base
}

// Handoff copies round id into the accelerated environment and routes all
// further access there.
func (rt *Router) Handoff(ctx context.Context, id uint64) (*model.Round, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.delegated[id] {
		return nil, fmt.Errorf("%w: round %d", ErrAlreadyDelegated, id)
	}
	// Read through the locked update path: a cached GetRound may lag the
	// committed row, and handback would write that lag back.
	r, err := rt.base.UpdateRound(ctx, id, func(*model.Round) error { return nil })
	if err != nil {
		return nil, err
	}
	if err := rt.accel.PutRound(ctx, r); err != nil {
		return nil, err
	}
	rt.delegated[id] = true
	return r, nil
}

// Handback commits the accelerated copy of round id to the base store and
// resumes base routing.
func (rt *Router) Handback(ctx context.Context, id uint64) (*model.Round, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.delegated[id] {
		return nil, fmt.Errorf("%w: round %d", ErrNotDelegated, id)
	}
	r, err := rt.accel.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rt.base.PutRound(ctx, r); err != nil {
		return nil, fmt.Errorf("commit round %d: %w", id, err)
	}
	if err := rt.accel.DeleteRound(ctx, id); err != nil {
		return nil, err
	}
	delete(rt.delegated, id)
	return r, nil
}

// Delegated returns the ids of all rounds currently in the accelerated environment.
func (rt *Router) Delegated() []uint64 {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	ids := make([]uint64, 0, len(rt.delegated))
	for id := range rt.delegated {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var _ store.Store = (*Router)(nil)

// rounds returns the store owning id. Callers hold rt.mu.
func (rt *Router) rounds(id uint64) store.Store {
	if rt.delegated[id] {
		return rt.accel
	}
	return rt.base
}

// --- store.Store ---

func (rt *Router) InitConfig(ctx context.Context, cfg *model.Config) error {
	return rt.base.InitConfig(ctx, cfg)
}

func (rt *Router) GetConfig(ctx context.Context) (*model.Config, error) {
	return rt.base.GetConfig(ctx)
}

func (rt *Router) OpenRound(ctx context.Context, fn func(cfg *model.Config) (*model.Round, error)) (*model.Round, error) {
	return rt.base.OpenRound(ctx, fn)
}

func (rt *Router) GetRound(ctx context.Context, id uint64) (*model.Round, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.rounds(id).GetRound(ctx, id)
}

func (rt *Router) ListRounds(ctx context.Context, limit int) ([]model.Round, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	rounds, err := rt.base.ListRounds(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range rounds {
		if rt.delegated[rounds[i].ID] {
			r, err := rt.accel.GetRound(ctx, rounds[i].ID)
			if err != nil {
				return nil, err
			}
			rounds[i] = *r
		}
	}
	return rounds, nil
}

func (rt *Router) ClaimableRounds(ctx context.Context, owner string) ([]model.Round, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	base, err := rt.base.ClaimableRounds(ctx, owner)
	if err != nil {
		return nil, err
	}
	rounds, err := rt.accel.ClaimableRounds(ctx, owner)
	if err != nil {
		return nil, err
	}
	// Base copies of delegated rounds are stale.
	for _, r := range base {
		if !rt.delegated[r.ID] {
			rounds = append(rounds, r)
		}
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].ID > rounds[j].ID })
	return rounds, nil
}

func (rt *Router) UpdateRound(ctx context.Context, id uint64, fn store.RoundFunc) (*model.Round, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.rounds(id).UpdateRound(ctx, id, fn)
}

func (rt *Router) PutRound(ctx context.Context, r *model.Round) error {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.rounds(r.ID).PutRound(ctx, r)
}

func (rt *Router) DeleteRound(ctx context.Context, id uint64) error {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.rounds(id).DeleteRound(ctx, id)
}

func (rt *Router) CreateParticipant(ctx context.Context, p *model.Participant) error {
	return rt.base.CreateParticipant(ctx, p)
}

func (rt *Router) GetParticipant(ctx context.Context, owner string) (*model.Participant, error) {
	return rt.base.GetParticipant(ctx, owner)
}

func (rt *Router) UpdateParticipant(ctx context.Context, owner string, fn store.ParticipantFunc) (*model.Participant, error) {
	return rt.base.UpdateParticipant(ctx, owner, fn)
}

// UpdateRoundAndParticipant spans both environments when the round is
// delegated: the participant commit in the base store nests inside the
// round update in the accelerated store. The round is validated before the
// participant commits, so the outer MemoryStore commit cannot fail after it.
func (rt *Router) UpdateRoundAndParticipant(ctx context.Context, id uint64, owner string, fn store.PairFunc) (*model.Round, *model.Participant, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if !rt.delegated[id] {
		return rt.base.UpdateRoundAndParticipant(ctx, id, owner, fn)
	}

	var p *model.Participant
	r, err := rt.accel.UpdateRound(ctx, id, func(r *model.Round) error {
		var err error
		p, err = rt.base.UpdateParticipant(ctx, owner, func(p *model.Participant) error {
			if err := fn(r, p); err != nil {
				return err
			}
			return round.Validate(r)
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return r, p, nil
}
