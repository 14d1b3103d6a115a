package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/round"
)

// MemoryStore implements Store with in-memory maps. Used for testing,
// development, and as the accelerated environment's working set.
// Not durable.
type MemoryStore struct {
	mu           sync.RWMutex
	config       *model.Config
	rounds       map[uint64]*model.Round
	participants map[string]*model.Participant
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:       make(map[uint64]*model.Round),
		participants: make(map[string]*model.Participant),
	}
}

func (s *MemoryStore) InitConfig(_ context.Context, cfg *model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config != nil {
		return fmt.Errorf("config: %w", ErrAlreadyExists)
	}
	c := *cfg
	s.config = &c
	return nil
}

func (s *MemoryStore) GetConfig(_ context.Context) (*model.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, fmt.Errorf("config: %w", ErrNotFound)
	}
	c := *s.config
	return &c, nil
}

func (s *MemoryStore) OpenRound(_ context.Context, fn func(cfg *model.Config) (*model.Round, error)) (*model.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return nil, fmt.Errorf("config: %w", ErrNotFound)
	}
	cfg := *s.config
	r, err := fn(&cfg)
	if err != nil {
		return nil, err
	}
	if _, ok := s.rounds[r.ID]; ok {
		return nil, fmt.Errorf("round %d: %w", r.ID, ErrAlreadyExists)
	}

	s.config = &cfg
	s.rounds[r.ID] = r.Clone()
	return r.Clone(), nil
}

func (s *MemoryStore) GetRound(_ context.Context, id uint64) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %d: %w", id, ErrRoundNotFound)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) ListRounds(_ context.Context, limit int) ([]model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := make([]model.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		rounds = append(rounds, *r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].ID > rounds[j].ID })
	if limit > 0 && len(rounds) > limit {
		rounds = rounds[:limit]
	}
	return rounds, nil
}

func (s *MemoryStore) ClaimableRounds(_ context.Context, owner string) ([]model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rounds []model.Round
	for _, r := range s.rounds {
		if claimable(r, owner) {
			rounds = append(rounds, *r)
		}
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].ID > rounds[j].ID })
	return rounds, nil
}

func claimable(r *model.Round, owner string) bool {
	if r.Status != model.StatusSettled {
		return false
	}
	idx := r.FindBet(owner)
	return idx >= 0 && !r.Bets[idx].Claimed
}

func (s *MemoryStore) UpdateRound(_ context.Context, id uint64, fn RoundFunc) (*model.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %d: %w", id, ErrRoundNotFound)
	}
	r := cur.Clone()
	if err := fn(r); err != nil {
		return nil, err
	}
	if err := round.Validate(r); err != nil {
		return nil, err
	}
	s.rounds[id] = r
	return r.Clone(), nil
}

func (s *MemoryStore) PutRound(_ context.Context, r *model.Round) error {
	if err := round.Validate(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rounds[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) DeleteRound(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[id]; !ok {
		return fmt.Errorf("round %d: %w", id, ErrRoundNotFound)
	}
	delete(s.rounds, id)
	return nil
}

func (s *MemoryStore) CreateParticipant(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.Owner]; ok {
		return fmt.Errorf("participant %s: %w", p.Owner, ErrAlreadyExists)
	}
	c := *p
	s.participants[p.Owner] = &c
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, owner string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[owner]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", owner, ErrParticipantNotFound)
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) UpdateParticipant(_ context.Context, owner string, fn ParticipantFunc) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.participants[owner]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", owner, ErrParticipantNotFound)
	}
	p := *cur
	if err := fn(&p); err != nil {
		return nil, err
	}
	s.participants[owner] = &p
	c := p
	return &c, nil
}

func (s *MemoryStore) UpdateRoundAndParticipant(_ context.Context, id uint64, owner string, fn PairFunc) (*model.Round, *model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rounds[id]
	if !ok {
		return nil, nil, fmt.Errorf("round %d: %w", id, ErrRoundNotFound)
	}
	curP, ok := s.participants[owner]
	if !ok {
		return nil, nil, fmt.Errorf("participant %s: %w", owner, ErrParticipantNotFound)
	}

	r := cur.Clone()
	p := *curP
	if err := fn(r, &p); err != nil {
		return nil, nil, err
	}
	if err := round.Validate(r); err != nil {
		return nil, nil, err
	}

	s.rounds[id] = r
	s.participants[owner] = &p
	c := p
	return r.Clone(), &c, nil
}
