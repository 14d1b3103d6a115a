// Package crank drives rounds through their lifecycle on behalf of the
// operator: open, hand off, wait out the betting window, lock, hand back,
// settle. It is a client of the engine and holds no round state of its own;
// after a failure it resumes from whatever the latest round looks like.
package crank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/updown/round-engine/internal/config"
	"github.com/updown/round-engine/internal/engine"
	"github.com/updown/round-engine/internal/metrics"
	"github.com/updown/round-engine/internal/migration"
	"github.com/updown/round-engine/internal/model"
)

// Engine is the subset of engine.Service the crank operates.
type Engine interface {
	GetConfig(ctx context.Context) (*model.Config, error)
	InitConfig(ctx context.Context, operator string, feeBps uint16) (*model.Config, error)
	ListRounds(ctx context.Context, limit int) ([]model.Round, error)
	OpenRound(ctx context.Context, caller string) (*model.Round, error)
	LockRound(ctx context.Context, caller string, id uint64) (*model.Round, error)
	SettleRound(ctx context.Context, caller string, id uint64) (*model.Round, error)
	Handoff(ctx context.Context, caller string, id uint64) (*model.Round, error)
	Handback(ctx context.Context, caller string, id uint64) (*model.Round, error)
	Environment(id uint64) migration.Environment
}

var _ Engine = (*engine.Service)(nil)

// Crank is the operator loop.
type Crank struct {
	eng      Engine
	operator string
	feeBps   uint16
	cfg      config.Crank
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	log      *slog.Logger
}

// Option configures a Crank.
type Option func(*Crank)

// WithClock overrides the wall clock used to compute waits.
func WithClock(now func() time.Time) Option { return func(c *Crank) { c.now = now } }

// WithSleep overrides how the crank waits between steps.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Crank) { c.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Crank) { c.log = l } }

// New creates a crank acting as operator. feeBps is used only when the
// config has to be bootstrapped.
func New(eng Engine, operator string, feeBps uint16, cfg config.Crank, opts ...Option) *Crank {
	c := &Crank{
		eng:      eng,
		operator: operator,
		feeBps:   feeBps,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleep,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "crank")
	return c
}

// Run bootstraps the config and then cycles rounds until ctx is done.
// A failed cycle is logged and retried after the retry delay.
func (c *Crank) Run(ctx context.Context) error {
	for {
		err := c.Bootstrap(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		c.log.Error("config bootstrap failed", "err", err, "retry_in", c.cfg.RetryDelay)
		if c.sleep(ctx, c.cfg.RetryDelay) != nil {
			return nil
		}
	}

	c.log.Info("crank started",
		"operator", c.operator,
		"betting_window", c.cfg.BettingWindow,
		"lock_wait", c.cfg.LockWait,
	)
	for {
		r, err := c.Cycle(ctx)
		if ctx.Err() != nil {
			c.log.Info("crank stopped")
			return nil
		}
		if err != nil {
			metrics.CrankCycles.WithLabelValues("error").Inc()
			c.log.Error("crank cycle failed",
				"err", err,
				"code", engine.Classify(err).Code,
				"retry_in", c.cfg.RetryDelay,
			)
			if c.sleep(ctx, c.cfg.RetryDelay) != nil {
				return nil
			}
			continue
		}

		metrics.CrankCycles.WithLabelValues("ok").Inc()
		c.log.Info("round complete",
			"round_id", r.ID,
			"result", r.Result.String(),
			"start_price", r.StartPriceDecimal().String(),
			"end_price", r.EndPriceDecimal().String(),
			"total_up", r.TotalUp,
			"total_down", r.TotalDown,
			"bets", r.NumBets,
		)
	}
}

// Bootstrap initialises the config if it does not exist yet.
func (c *Crank) Bootstrap(ctx context.Context) error {
	_, err := c.eng.GetConfig(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, engine.ErrNotInitialized) {
		return err
	}
	_, err = c.eng.InitConfig(ctx, c.operator, c.feeBps)
	if errors.Is(err, engine.ErrAlreadyInitialized) {
		return nil
	}
	if err == nil {
		c.log.Info("config bootstrapped", "fee_bps", c.feeBps)
	}
	return err
}

// Cycle advances the latest round until it is settled, opening a new one
// first if the latest is already settled. It returns the settled round.
func (c *Crank) Cycle(ctx context.Context) (*model.Round, error) {
	r, err := c.current(ctx)
	if err != nil {
		return nil, err
	}

	for {
		switch r.Status {
		case model.StatusOpen:
			wait := min(c.cfg.BettingWindow, max(r.LockTS.Sub(c.now()), 0))
			c.log.Debug("waiting for lock", "round_id", r.ID, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			if r, err = c.eng.LockRound(ctx, c.operator, r.ID); err != nil {
				return nil, fmt.Errorf("lock round: %w", err)
			}

		case model.StatusLocked:
			if err := c.sleep(ctx, c.cfg.LockWait); err != nil {
				return nil, err
			}
			if c.eng.Environment(r.ID) == migration.Accelerated {
				if _, err := c.eng.Handback(ctx, c.operator, r.ID); err != nil {
					return nil, fmt.Errorf("handback: %w", err)
				}
			}
			if err := c.sleep(ctx, c.cfg.SettleDelay); err != nil {
				return nil, err
			}
			if r, err = c.eng.SettleRound(ctx, c.operator, r.ID); err != nil {
				return nil, fmt.Errorf("settle round: %w", err)
			}

		case model.StatusSettled:
			return r, nil

		default:
			return nil, fmt.Errorf("%w: round %d", model.ErrInvalidTag, r.ID)
		}
	}
}

// current returns the round to drive: the latest unsettled round, or a
// freshly opened and delegated one.
func (c *Crank) current(ctx context.Context) (*model.Round, error) {
	latest, err := c.eng.ListRounds(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	if len(latest) > 0 && latest[0].Status != model.StatusSettled {
		r := latest[0]
		c.log.Info("resuming round", "round_id", r.ID, "status", r.Status.String())
		return &r, nil
	}

	r, err := c.eng.OpenRound(ctx, c.operator)
	if err != nil {
		return nil, fmt.Errorf("open round: %w", err)
	}
	if _, err := c.eng.Handoff(ctx, c.operator, r.ID); err != nil {
		// The round is still usable from the base environment.
		c.log.Warn("handoff failed", "round_id", r.ID, "err", err)
	}
	return r, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
