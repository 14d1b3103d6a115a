package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/updown/round-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and then invalidate the affected
// keys; reads check Redis first then fall back to the primary. Writes never
// SET the cache, since concurrent commits can finish their SETs out of order.
// Updates read the primary, so callers that copy a round elsewhere use
// UpdateRound rather than GetRound.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write, then invalidate ---

func (s *CachedStore) InitConfig(ctx context.Context, cfg *model.Config) error {
	if err := s.primary.InitConfig(ctx, cfg); err != nil {
		return err
	}
	s.rdb.Del(ctx, configKey)
	return nil
}

func (s *CachedStore) OpenRound(ctx context.Context, fn func(cfg *model.Config) (*model.Round, error)) (*model.Round, error) {
	r, err := s.primary.OpenRound(ctx, fn)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, configKey, roundKey(r.ID))
	return r, nil
}

func (s *CachedStore) UpdateRound(ctx context.Context, id uint64, fn RoundFunc) (*model.Round, error) {
	r, err := s.primary.UpdateRound(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, roundKey(id))
	return r, nil
}

func (s *CachedStore) PutRound(ctx context.Context, r *model.Round) error {
	if err := s.primary.PutRound(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, roundKey(r.ID))
	return nil
}

func (s *CachedStore) DeleteRound(ctx context.Context, id uint64) error {
	if err := s.primary.DeleteRound(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, roundKey(id))
	return nil
}

func (s *CachedStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	if err := s.primary.CreateParticipant(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, participantKey(p.Owner))
	return nil
}

func (s *CachedStore) UpdateParticipant(ctx context.Context, owner string, fn ParticipantFunc) (*model.Participant, error) {
	p, err := s.primary.UpdateParticipant(ctx, owner, fn)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, participantKey(owner))
	return p, nil
}

func (s *CachedStore) UpdateRoundAndParticipant(ctx context.Context, id uint64, owner string, fn PairFunc) (*model.Round, *model.Participant, error) {
	r, p, err := s.primary.UpdateRoundAndParticipant(ctx, id, owner, fn)
	if err != nil {
		return nil, nil, err
	}
	s.rdb.Del(ctx, roundKey(id), participantKey(owner))
	return r, p, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetConfig(ctx context.Context) (*model.Config, error) {
	var cfg model.Config
	if s.lookup(ctx, configKey, &cfg) {
		return &cfg, nil
	}
	c, err := s.primary.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, configKey, c)
	return c, nil
}

func (s *CachedStore) GetRound(ctx context.Context, id uint64) (*model.Round, error) {
	var r model.Round
	if s.lookup(ctx, roundKey(id), &r) {
		return &r, nil
	}
	got, err := s.primary.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, roundKey(id), got)
	return got, nil
}

func (s *CachedStore) GetParticipant(ctx context.Context, owner string) (*model.Participant, error) {
	var p model.Participant
	if s.lookup(ctx, participantKey(owner), &p) {
		return &p, nil
	}
	got, err := s.primary.GetParticipant(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, participantKey(owner), got)
	return got, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRounds(ctx context.Context, limit int) ([]model.Round, error) {
	return s.primary.ListRounds(ctx, limit)
}

func (s *CachedStore) ClaimableRounds(ctx context.Context, owner string) ([]model.Round, error) {
	return s.primary.ClaimableRounds(ctx, owner)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) lookup(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

const configKey = "round-engine:config"

func roundKey(id uint64) string         { return fmt.Sprintf("round-engine:round:%d", id) }
func participantKey(owner string) string { return fmt.Sprintf("round-engine:participant:%s", owner) }
