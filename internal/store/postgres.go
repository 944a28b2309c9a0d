package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/db"
	"github.com/sells-group/pulse-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS pulse_state (
	id         SMALLINT PRIMARY KEY CHECK (id = 1),
	params     JSONB NOT NULL,
	fees       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pulse_agents (
	agent             TEXT PRIMARY KEY,
	last_signal_at    BIGINT NOT NULL,
	streak            BIGINT NOT NULL,
	last_streak_day   BIGINT NOT NULL,
	hazard_score      BIGINT NOT NULL DEFAULT 0,
	cumulative_volume BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pulse_stakes (
	agent      TEXT PRIMARY KEY,
	amount     BIGINT NOT NULL,
	started_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS pulse_epoch_counts (
	attestor TEXT NOT NULL,
	epoch    BIGINT NOT NULL,
	count    BIGINT NOT NULL,
	PRIMARY KEY (attestor, epoch)
);

CREATE TABLE IF NOT EXISTS pulse_pair_uses (
	attestor TEXT NOT NULL,
	subject  TEXT NOT NULL,
	epoch    BIGINT NOT NULL,
	PRIMARY KEY (attestor, subject, epoch)
);

CREATE TABLE IF NOT EXISTS pulse_tallies (
	subject         TEXT PRIMARY KEY,
	positive_weight BIGINT NOT NULL,
	negative_weight BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS pulse_balances (
	address TEXT PRIMARY KEY,
	amount  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS pulse_outbox (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT NOT NULL UNIQUE,
	kind         TEXT NOT NULL,
	agent        TEXT NOT NULL,
	payload      JSONB NOT NULL,
	created_at   BIGINT NOT NULL,
	published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_pulse_outbox_pending ON pulse_outbox(seq) WHERE published_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_pulse_outbox_agent ON pulse_outbox(agent);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin read")
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	return loadPostgres(ctx, tx)
}

func loadPostgres(ctx context.Context, tx pgx.Tx) (*model.Snapshot, error) {
	var params, fees []byte
	err := tx.QueryRow(ctx, `SELECT params, fees FROM pulse_state WHERE id = 1`).Scan(&params, &fees)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load state")
	}

	snap, err := readSnapshot(func(q string) (rowIter, func(), error) {
		rows, err := tx.Query(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		return rows, rows.Close, nil
	}, params, fees)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load snapshot")
	}
	return snap, nil
}

func (s *PostgresStore) Commit(ctx context.Context, snap *model.Snapshot, events []model.Event) error {
	rows, err := encodeCommit(snap, events)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin commit")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := writePostgres(ctx, tx, rows); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

// updateLockKey names the transaction-scoped advisory lock that serializes
// Update callers. The state row may not exist yet, so a row lock cannot.
const updateLockKey int64 = 0x70756c7365

// Update holds updateLockKey from the read through the write.
func (s *PostgresStore) Update(ctx context.Context, fn UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin update")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, updateLockKey); err != nil {
		return eris.Wrap(err, "postgres: lock state")
	}

	cur, err := loadPostgres(ctx, tx)
	if err != nil {
		return err
	}
	next, events, err := fn(cur)
	if err != nil {
		return err
	}
	if next != nil {
		rows, err := encodeCommit(next, events)
		if err != nil {
			return err
		}
		if err := writePostgres(ctx, tx, rows); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func writePostgres(ctx context.Context, tx pgx.Tx, rows commitRows) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO pulse_state (id, params, fees, updated_at) VALUES (1, $1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET params = EXCLUDED.params, fees = EXCLUDED.fees, updated_at = now()`,
		rows.params, rows.fees,
	); err != nil {
		return eris.Wrap(err, "postgres: upsert state")
	}

	for _, t := range rows.tables {
		if t.pruned {
			if err := prunePostgres(ctx, tx, t); err != nil {
				return err
			}
		}
		if _, err := db.UpsertTx(ctx, tx, db.UpsertConfig{
			Table:        t.name,
			Columns:      t.columns,
			ConflictKeys: t.keys,
		}, t.rows); err != nil {
			return eris.Wrapf(err, "postgres: write %s", t.name)
		}
	}

	if _, err := db.CopyFrom(ctx, tx, "pulse_outbox", outboxColumns, rows.outbox); err != nil {
		return eris.Wrap(err, "postgres: append outbox")
	}
	return nil
}

func prunePostgres(ctx context.Context, tx pgx.Tx, t tableRows) error {
	keys := keyColumn(t.rows)
	var err error
	if len(keys) == 0 {
		_, err = tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, t.name))
	} else {
		_, err = tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE NOT (%s = ANY($1))`, t.name, t.keys[0]), keys)
	}
	return eris.Wrapf(err, "postgres: prune %s", t.name)
}

func (s *PostgresStore) PendingEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM pulse_outbox WHERE published_at IS NULL ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending event")
		}
		ev, err := decodeEvent(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate pending events")
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE pulse_outbox SET published_at = now() WHERE published_at IS NULL AND id = ANY($1)`, ids)
	return eris.Wrap(err, "postgres: mark published")
}
