// Package engine is the command surface of the round engine. Each command
// checks authority, reads the oracle where needed, and applies the state
// machine or payout engine inside one store unit of work, so it either
// succeeds with all its effects or fails with one classified error and none.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/updown/round-engine/internal/events"
	"github.com/updown/round-engine/internal/metrics"
	"github.com/updown/round-engine/internal/migration"
	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/oracle"
	"github.com/updown/round-engine/internal/payout"
	"github.com/updown/round-engine/internal/round"
)

// Service executes engine commands.
type Service struct {
	rounds *migration.Router
	oracle oracle.Oracle
	feedID string
	events events.Publisher
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock used for timing checks.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithEvents sets the lifecycle event publisher.
func WithEvents(p events.Publisher) Option { return func(s *Service) { s.events = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithFeedID sets the oracle feed read at open and settle.
func WithFeedID(id string) Option { return func(s *Service) { s.feedID = id } }

// New creates a Service over the environment router rt.
func New(rt *migration.Router, orc oracle.Oracle, opts ...Option) *Service {
	s := &Service{
		rounds: rt,
		oracle: orc,
		feedID: oracle.SOLUSDFeedID,
		events: events.Discard{},
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Config & participants ---

// InitConfig creates the protocol singleton with operator as authority.
func (s *Service) InitConfig(ctx context.Context, operator string, feeBps uint16) (cfg *model.Config, err error) {
	defer s.observe("init_config", time.Now(), &err)

	if operator == "" {
		return nil, ErrInvalidOwner
	}
	cfg, err = round.NewConfig(operator, feeBps)
	if err != nil {
		return nil, err
	}
	if err := s.rounds.InitConfig(ctx, cfg); err != nil {
		return nil, mapStoreErr(err, nil, ErrAlreadyInitialized)
	}

	s.log.Info("config initialized", "authority", operator, "fee_bps", feeBps)
	s.publish(ctx, events.New(events.ConfigInitialized, nil, operator, cfg))
	return cfg, nil
}

// Register creates owner's ledger record with the starting balance.
func (s *Service) Register(ctx context.Context, owner string) (p *model.Participant, err error) {
	defer s.observe("register_participant", time.Now(), &err)

	if owner == "" {
		return nil, ErrInvalidOwner
	}
	p = &model.Participant{Owner: owner, Credits: model.StartingCredits}
	if err := s.rounds.CreateParticipant(ctx, p); err != nil {
		return nil, mapStoreErr(err, nil, ErrAlreadyRegistered)
	}

	s.log.Info("participant registered", "owner", owner, "credits", model.Credits(p.Credits).String())
	s.publish(ctx, events.New(events.ParticipantRegistered, nil, owner, p))
	return p, nil
}

// --- Round lifecycle (operator) ---

// OpenRound allocates the next round with a fresh start price.
func (s *Service) OpenRound(ctx context.Context, caller string) (r *model.Round, err error) {
	defer s.observe("open_round", time.Now(), &err)

	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	price, err := s.price(ctx)
	if err != nil {
		return nil, err
	}

	r, err = s.rounds.OpenRound(ctx, func(cfg *model.Config) (*model.Round, error) {
		if err := round.Authorize(cfg, caller); err != nil {
			return nil, err
		}
		return round.Open(cfg, price, s.now())
	})
	if err != nil {
		return nil, mapStoreErr(err, ErrNotInitialized, nil)
	}

	metrics.RoundsTotal.WithLabelValues(model.StatusOpen.String()).Inc()
	s.log.Info("round opened",
		"round_id", r.ID,
		"start_price", r.StartPriceDecimal().String(),
		"lock_ts", r.LockTS,
		"end_ts", r.EndTS,
	)
	s.publish(ctx, events.New(events.RoundOpened, r, "", nil))
	return r, nil
}

// LockRound closes betting on an open round.
func (s *Service) LockRound(ctx context.Context, caller string, id uint64) (r *model.Round, err error) {
	defer s.observe("lock_round", time.Now(), &err)

	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	r, err = s.rounds.UpdateRound(ctx, id, round.Lock)
	if err != nil {
		return nil, mapStoreErr(err, ErrRoundNotFound, nil)
	}

	metrics.RoundsTotal.WithLabelValues(model.StatusLocked.String()).Inc()
	s.log.Info("round locked", "round_id", r.ID, "total_up", r.TotalUp, "total_down", r.TotalDown, "bets", r.NumBets)
	s.publish(ctx, events.New(events.RoundLocked, r, "", nil))
	return r, nil
}

// SettleRound records a fresh end price and derives the result.
func (s *Service) SettleRound(ctx context.Context, caller string, id uint64) (r *model.Round, err error) {
	defer s.observe("settle_round", time.Now(), &err)

	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	price, err := s.price(ctx)
	if err != nil {
		return nil, err
	}
	r, err = s.rounds.UpdateRound(ctx, id, func(r *model.Round) error {
		return round.Settle(r, price)
	})
	if err != nil {
		return nil, mapStoreErr(err, ErrRoundNotFound, nil)
	}

	metrics.RoundsTotal.WithLabelValues(model.StatusSettled.String()).Inc()
	metrics.RoundResults.WithLabelValues(r.Result.String()).Inc()
	s.log.Info("round settled",
		"round_id", r.ID,
		"result", r.Result.String(),
		"start_price", r.StartPriceDecimal().String(),
		"end_price", r.EndPriceDecimal().String(),
	)
	s.publish(ctx, events.New(events.RoundSettled, r, "", nil))
	return r, nil
}

// Handoff moves round id to the accelerated environment.
func (s *Service) Handoff(ctx context.Context, caller string, id uint64) (r *model.Round, err error) {
	defer s.observe("handoff", time.Now(), &err)

	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	r, err = s.rounds.Handoff(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, ErrRoundNotFound, nil)
	}

	metrics.DelegatedRounds.Set(float64(len(s.rounds.Delegated())))
	s.log.Info("round handed off", "round_id", id, "status", r.Status.String())
	s.publish(ctx, events.New(events.RoundHandedOff, r, "", nil))
	return r, nil
}

// Handback commits round id back to the base environment.
func (s *Service) Handback(ctx context.Context, caller string, id uint64) (r *model.Round, err error) {
	defer s.observe("handback", time.Now(), &err)

	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	r, err = s.rounds.Handback(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, ErrRoundNotFound, nil)
	}

	metrics.DelegatedRounds.Set(float64(len(s.rounds.Delegated())))
	s.log.Info("round handed back", "round_id", id, "status", r.Status.String())
	s.publish(ctx, events.New(events.RoundHandedBack, r, "", nil))
	return r, nil
}

// --- Participant commands ---

// PlaceWager stakes amount on dir in round id, debiting owner in the same unit.
func (s *Service) PlaceWager(ctx context.Context, id uint64, owner string, dir model.Direction, amount uint64) (r *model.Round, p *model.Participant, err error) {
	defer s.observe("place_wager", time.Now(), &err)

	if err := s.registered(ctx, owner); err != nil {
		return nil, nil, err
	}
	now := s.now()
	r, p, err = s.rounds.UpdateRoundAndParticipant(ctx, id, owner, func(r *model.Round, p *model.Participant) error {
		return round.PlaceWager(r, p, dir, amount, now)
	})
	if err != nil {
		return nil, nil, mapPairErr(err)
	}

	metrics.WagerVolume.WithLabelValues(dir.String()).Add(float64(amount))
	s.log.Info("wager placed",
		"round_id", id,
		"owner", owner,
		"direction", dir.String(),
		"amount", amount,
		"total_up", r.TotalUp,
		"total_down", r.TotalDown,
	)
	s.publish(ctx, events.New(events.WagerPlaced, r, owner, map[string]any{
		"direction": dir.String(),
		"amount":    amount,
	}))
	return r, p, nil
}

// Claim pays owner's entry in settled round id exactly once.
func (s *Service) Claim(ctx context.Context, id uint64, owner string) (rc payout.Receipt, err error) {
	defer s.observe("claim", time.Now(), &err)

	cfg, err := s.config(ctx)
	if err != nil {
		return payout.Receipt{}, err
	}
	if err := s.registered(ctx, owner); err != nil {
		return payout.Receipt{}, err
	}

	r, _, err := s.rounds.UpdateRoundAndParticipant(ctx, id, owner, func(r *model.Round, p *model.Participant) error {
		var err error
		rc, err = payout.Claim(r, p, cfg.FeeBps)
		return err
	})
	if err != nil {
		return payout.Receipt{}, mapPairErr(err)
	}

	metrics.PayoutVolume.Add(float64(rc.Payout))
	s.log.Info("payout claimed",
		"round_id", id,
		"owner", owner,
		"result", rc.Result,
		"payout", rc.Payout,
		"fully_claimed", payout.FullyClaimed(r),
	)
	s.publish(ctx, events.New(events.PayoutClaimed, r, owner, rc))
	return rc, nil
}

// --- Reads ---

// GetConfig returns the protocol singleton.
func (s *Service) GetConfig(ctx context.Context) (*model.Config, error) {
	return s.config(ctx)
}

// GetRound returns round id from whichever environment owns it.
func (s *Service) GetRound(ctx context.Context, id uint64) (*model.Round, error) {
	r, err := s.rounds.GetRound(ctx, id)
	return r, mapStoreErr(err, ErrRoundNotFound, nil)
}

// ListRounds returns up to limit recent rounds, newest first.
func (s *Service) ListRounds(ctx context.Context, limit int) ([]model.Round, error) {
	return s.rounds.ListRounds(ctx, limit)
}

// GetParticipant returns owner's ledger record.
func (s *Service) GetParticipant(ctx context.Context, owner string) (*model.Participant, error) {
	p, err := s.rounds.GetParticipant(ctx, owner)
	return p, mapStoreErr(err, ErrNotRegistered, nil)
}

// ClaimableRounds returns settled rounds where owner has an unclaimed entry.
func (s *Service) ClaimableRounds(ctx context.Context, owner string) ([]model.Round, error) {
	return s.rounds.ClaimableRounds(ctx, owner)
}

// Environment reports where round id currently lives.
func (s *Service) Environment(id uint64) migration.Environment {
	return s.rounds.Environment(id)
}

// --- helpers ---

func (s *Service) config(ctx context.Context) (*model.Config, error) {
	cfg, err := s.rounds.GetConfig(ctx)
	return cfg, mapStoreErr(err, ErrNotInitialized, nil)
}

func (s *Service) authorize(ctx context.Context, caller string) error {
	cfg, err := s.config(ctx)
	if err != nil {
		return err
	}
	return round.Authorize(cfg, caller)
}

func (s *Service) registered(ctx context.Context, owner string) error {
	if owner == "" {
		return ErrInvalidOwner
	}
	_, err := s.GetParticipant(ctx, owner)
	return err
}

func (s *Service) price(ctx context.Context) (oracle.Price, error) {
	p, err := s.oracle.GetPrice(ctx, s.feedID, model.MaxPriceAge, model.MinSignatures)
	if err != nil {
		metrics.OracleFailures.WithLabelValues(Classify(err).Code).Inc()
		return oracle.Price{}, fmt.Errorf("read price: %w", err)
	}
	return p, nil
}

// publish delivers e after commit. Failures are logged, never returned.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		metrics.EventPublishFailures.Inc()
		s.log.Warn("event publish failed", "type", e.Type, "event_id", e.ID, "err", err)
	}
}

func (s *Service) observe(command string, start time.Time, errp *error) {
	metrics.CommandLatency.WithLabelValues(command).Observe(time.Since(start).Seconds())
	if *errp == nil {
		metrics.CommandsTotal.WithLabelValues(command, "ok").Inc()
		return
	}
	c := Classify(*errp)
	metrics.CommandsTotal.WithLabelValues(command, string(c.Kind)).Inc()

	level := slog.LevelWarn
	if c.Kind == KindInternal || c.Kind == KindIntegrity {
		level = slog.LevelError
	}
	s.log.Log(context.Background(), level, "command failed",
		"command", command, "code", c.Code, "kind", c.Kind, "err", *errp)
}
