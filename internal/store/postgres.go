package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updown/round-engine/internal/address"
	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/round"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Unsigned amounts are stored as NUMERIC and moved as text to keep the full
// uint64 range. Mutations run in a transaction holding row locks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// --- Config ---

func (s *PostgresStore) InitConfig(ctx context.Context, cfg *model.Config) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO config (address, authority, fee_bps, round_count)
		 VALUES ($1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (address) DO NOTHING`,
		address.Config().String(), cfg.Authority, int32(cfg.FeeBps), u64(cfg.RoundCount),
	)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("config: %w", ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) GetConfig(ctx context.Context) (*model.Config, error) {
	return getConfig(ctx, s.pool, "")
}

func (s *PostgresStore) OpenRound(ctx context.Context, fn func(cfg *model.Config) (*model.Round, error)) (*model.Round, error) {
	var out *model.Round
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cfg, err := getConfig(ctx, tx, "FOR UPDATE")
		if err != nil {
			return err
		}
		r, err := fn(cfg)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO rounds (address, round_id, start_ts, lock_ts, end_ts, start_price, end_price,
			                     price_exponent, end_exponent, total_up, total_down, status, result, num_bets, bets)
			 VALUES ($1, $2::NUMERIC, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11::NUMERIC, $12, $13, $14, $15)
			 ON CONFLICT (address) DO NOTHING`,
			roundArgs(r)...,
		)
		if err != nil {
			return fmt.Errorf("insert round %d: %w", r.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("round %d: %w", r.ID, ErrAlreadyExists)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE config SET round_count = $2::NUMERIC WHERE address = $1`,
			address.Config().String(), u64(cfg.RoundCount),
		); err != nil {
			return fmt.Errorf("advance round counter: %w", err)
		}
		out = r
		return nil
	})
	return out, err
}

// --- Rounds ---

const roundColumns = `round_id::TEXT, start_ts, lock_ts, end_ts, start_price, end_price,
	price_exponent, end_exponent, total_up::TEXT, total_down::TEXT, status, result, num_bets, bets`

func (s *PostgresStore) GetRound(ctx context.Context, id uint64) (*model.Round, error) {
	return getRound(ctx, s.pool, id, "")
}

func (s *PostgresStore) ListRounds(ctx context.Context, limit int) ([]model.Round, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds ORDER BY round_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRounds(rows)
}

func (s *PostgresStore) ClaimableRounds(ctx context.Context, owner string) ([]model.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds
		 WHERE status = $1
		   AND bets @> jsonb_build_array(jsonb_build_object('player', $2::TEXT, 'claimed', false))
		 ORDER BY round_id DESC`,
		int16(model.StatusSettled), owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRounds(rows)
}

func (s *PostgresStore) UpdateRound(ctx context.Context, id uint64, fn RoundFunc) (*model.Round, error) {
	var out *model.Round
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := getRound(ctx, tx, id, "FOR UPDATE")
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		if err := round.Validate(r); err != nil {
			return err
		}
		if err := writeRound(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (s *PostgresStore) PutRound(ctx context.Context, r *model.Round) error {
	if err := round.Validate(r); err != nil {
		return err
	}
	return writeRound(ctx, s.pool, r)
}

func (s *PostgresStore) DeleteRound(ctx context.Context, id uint64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rounds WHERE address = $1`, address.Round(id).String())
	if err != nil {
		return fmt.Errorf("delete round %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("round %d: %w", id, ErrRoundNotFound)
	}
	return nil
}

// --- Participants ---

func (s *PostgresStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO participants (address, owner, credits) VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (address) DO NOTHING`,
		address.Participant(p.Owner).String(), p.Owner, u64(p.Credits),
	)
	if err != nil {
		return fmt.Errorf("create participant %s: %w", p.Owner, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", p.Owner, ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, owner string) (*model.Participant, error) {
	return getParticipant(ctx, s.pool, owner, "")
}

func (s *PostgresStore) UpdateParticipant(ctx context.Context, owner string, fn ParticipantFunc) (*model.Participant, error) {
	var out *model.Participant
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		p, err := getParticipant(ctx, tx, owner, "FOR UPDATE")
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		if err := writeParticipant(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *PostgresStore) UpdateRoundAndParticipant(ctx context.Context, id uint64, owner string, fn PairFunc) (*model.Round, *model.Participant, error) {
	var (
		outR *model.Round
		outP *model.Participant
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := getRound(ctx, tx, id, "FOR UPDATE")
		if err != nil {
			return err
		}
		p, err := getParticipant(ctx, tx, owner, "FOR UPDATE")
		if err != nil {
			return err
		}
		if err := fn(r, p); err != nil {
			return err
		}
		if err := round.Validate(r); err != nil {
			return err
		}
		if err := writeRound(ctx, tx, r); err != nil {
			return err
		}
		if err := writeParticipant(ctx, tx, p); err != nil {
			return err
		}
		outR, outP = r, p
		return nil
	})
	return outR, outP, err
}

// --- Row helpers ---

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", round.ErrCorruptRound, field, s)
	}
	return v, nil
}

func notFound(err error, what string, missing error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, missing)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func getConfig(ctx context.Context, q querier, lock string) (*model.Config, error) {
	var (
		cfg    model.Config
		feeBps int32
		count  string
	)
	err := q.QueryRow(ctx,
		`SELECT authority, fee_bps, round_count::TEXT FROM config WHERE address = $1 `+lock,
		address.Config().String()).
		Scan(&cfg.Authority, &feeBps, &count)
	if err != nil {
		return nil, notFound(err, "config", ErrNotFound)
	}
	cfg.FeeBps = uint16(feeBps)
	if cfg.RoundCount, err = parseU64("round_count", count); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func getRound(ctx context.Context, q querier, id uint64, lock string) (*model.Round, error) {
	r, err := scanRound(q.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE address = $1 `+lock,
		address.Round(id).String()))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("round %d", id), ErrRoundNotFound)
	}
	return r, nil
}

func getParticipant(ctx context.Context, q querier, owner, lock string) (*model.Participant, error) {
	var (
		p       = model.Participant{Owner: owner}
		credits string
	)
	err := q.QueryRow(ctx,
		`SELECT credits::TEXT FROM participants WHERE address = $1 `+lock,
		address.Participant(owner).String()).
		Scan(&credits)
	if err != nil {
		return nil, notFound(err, "participant "+owner, ErrParticipantNotFound)
	}
	if p.Credits, err = parseU64("credits", credits); err != nil {
		return nil, err
	}
	return &p, nil
}

func roundArgs(r *model.Round) []any {
	bets, _ := json.Marshal(r.Entries())
	return []any{
		address.Round(r.ID).String(), u64(r.ID),
		r.StartTS, r.LockTS, r.EndTS,
		r.StartPrice, r.EndPrice, r.PriceExponent, r.EndExponent,
		u64(r.TotalUp), u64(r.TotalDown),
		int16(r.Status), int16(r.Result), int16(r.NumBets),
		bets,
	}
}

func writeRound(ctx context.Context, q querier, r *model.Round) error {
	_, err := q.Exec(ctx,
		`INSERT INTO rounds (address, round_id, start_ts, lock_ts, end_ts, start_price, end_price,
		                     price_exponent, end_exponent, total_up, total_down, status, result, num_bets, bets)
		 VALUES ($1, $2::NUMERIC, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11::NUMERIC, $12, $13, $14, $15)
		 ON CONFLICT (address) DO UPDATE SET
		     end_price = EXCLUDED.end_price, end_exponent = EXCLUDED.end_exponent,
		     total_up = EXCLUDED.total_up, total_down = EXCLUDED.total_down,
		     status = EXCLUDED.status, result = EXCLUDED.result,
		     num_bets = EXCLUDED.num_bets, bets = EXCLUDED.bets`,
		roundArgs(r)...,
	)
	if err != nil {
		return fmt.Errorf("write round %d: %w", r.ID, err)
	}
	return nil
}

func writeParticipant(ctx context.Context, q querier, p *model.Participant) error {
	_, err := q.Exec(ctx,
		`UPDATE participants SET credits = $2::NUMERIC WHERE address = $1`,
		address.Participant(p.Owner).String(), u64(p.Credits),
	)
	if err != nil {
		return fmt.Errorf("write participant %s: %w", p.Owner, err)
	}
	return nil
}

// scanRound decodes one row and validates it so a corrupt record never
// reaches the state machine.
func scanRound(row pgx.Row) (*model.Round, error) {
	var (
		r                       model.Round
		id, up, down            string
		status, result, numBets int16
		bets                    []byte
	)
	if err := row.Scan(&id, &r.StartTS, &r.LockTS, &r.EndTS,
		&r.StartPrice, &r.EndPrice, &r.PriceExponent, &r.EndExponent,
		&up, &down, &status, &result, &numBets, &bets); err != nil {
		return nil, err
	}

	var err error
	if r.ID, err = parseU64("round_id", id); err != nil {
		return nil, err
	}
	if r.TotalUp, err = parseU64("total_up", up); err != nil {
		return nil, err
	}
	if r.TotalDown, err = parseU64("total_down", down); err != nil {
		return nil, err
	}
	if status < 0 || status > 255 || result < 0 || result > 255 || numBets < 0 || numBets > model.MaxPlayers {
		return nil, fmt.Errorf("%w: round %d tag out of range", round.ErrCorruptRound, r.ID)
	}
	r.Status = model.RoundStatus(status)
	r.Result = model.RoundResult(result)
	r.NumBets = uint8(numBets)

	var entries []model.BetEntry
	if err := json.Unmarshal(bets, &entries); err != nil {
		return nil, fmt.Errorf("%w: round %d bets: %v", round.ErrCorruptRound, r.ID, err)
	}
	if len(entries) != int(r.NumBets) {
		return nil, fmt.Errorf("%w: round %d has %d entries, num_bets %d",
			round.ErrCorruptRound, r.ID, len(entries), r.NumBets)
	}
	copy(r.Bets[:], entries)
	r.StartTS, r.LockTS, r.EndTS = r.StartTS.UTC(), r.LockTS.UTC(), r.EndTS.UTC()

	if err := round.Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRounds(rows pgx.Rows) ([]model.Round, error) {
	var rounds []model.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}
