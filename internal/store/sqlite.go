package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pulse-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time keeps commits serialized across goroutines.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS pulse_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	params     TEXT NOT NULL,
	fees       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pulse_agents (
	agent             TEXT PRIMARY KEY,
	last_signal_at    INTEGER NOT NULL,
	streak            INTEGER NOT NULL,
	last_streak_day   INTEGER NOT NULL,
	hazard_score      INTEGER NOT NULL DEFAULT 0,
	cumulative_volume INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pulse_stakes (
	agent      TEXT PRIMARY KEY,
	amount     INTEGER NOT NULL,
	started_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pulse_epoch_counts (
	attestor TEXT NOT NULL,
	epoch    INTEGER NOT NULL,
	count    INTEGER NOT NULL,
	PRIMARY KEY (attestor, epoch)
);

CREATE TABLE IF NOT EXISTS pulse_pair_uses (
	attestor TEXT NOT NULL,
	subject  TEXT NOT NULL,
	epoch    INTEGER NOT NULL,
	PRIMARY KEY (attestor, subject, epoch)
);

CREATE TABLE IF NOT EXISTS pulse_tallies (
	subject         TEXT PRIMARY KEY,
	positive_weight INTEGER NOT NULL,
	negative_weight INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pulse_balances (
	address TEXT PRIMARY KEY,
	amount  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pulse_outbox (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	kind         TEXT NOT NULL,
	agent        TEXT NOT NULL,
	payload      TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	published_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_pulse_outbox_pending ON pulse_outbox(published_at, seq);
CREATE INDEX IF NOT EXISTS idx_pulse_outbox_agent ON pulse_outbox(agent);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlConn is the statement surface shared by *sql.Tx and a *sql.Conn
// holding a manually started transaction.
type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin read")
	}
	defer tx.Rollback() //nolint:errcheck
	return loadSQLite(ctx, tx)
}

func loadSQLite(ctx context.Context, c sqlConn) (*model.Snapshot, error) {
	var params, fees string
	err := c.QueryRowContext(ctx, `SELECT params, fees FROM pulse_state WHERE id = 1`).Scan(&params, &fees)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load state")
	}

	snap, err := readSnapshot(func(q string) (rowIter, func(), error) {
		rows, err := c.QueryContext(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		return rows, func() { rows.Close() }, nil
	}, []byte(params), []byte(fees))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load snapshot")
	}
	return snap, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, snap *model.Snapshot, events []model.Event) error {
	rows, err := encodeCommit(snap, events)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := writeSQLite(ctx, tx, rows); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// Update runs fn inside BEGIN IMMEDIATE, so the write lock is held from the
// read through the write and other processes wait on busy_timeout.
func (s *SQLiteStore) Update(ctx context.Context, fn UpdateFunc) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return eris.Wrap(err, "sqlite: acquire conn")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return eris.Wrap(err, "sqlite: begin immediate")
	}
	done := false
	defer func() {
		if !done {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()

	cur, err := loadSQLite(ctx, conn)
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
		if err := writeSQLite(ctx, conn, rows); err != nil {
			return err
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	done = true
	return nil
}

func writeSQLite(ctx context.Context, c sqlConn, rows commitRows) error {
	if _, err := c.ExecContext(ctx,
		`INSERT INTO pulse_state (id, params, fees, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET params = excluded.params, fees = excluded.fees, updated_at = excluded.updated_at`,
		rows.params, rows.fees, time.Now().UTC(),
	); err != nil {
		return eris.Wrap(err, "sqlite: upsert state")
	}

	for _, t := range rows.tables {
		if t.pruned {
			if err := pruneSQLite(ctx, c, t); err != nil {
				return err
			}
		}
		if err := upsertSQLite(ctx, c, t); err != nil {
			return err
		}
	}

	if len(rows.outbox) > 0 {
		stmt, err := c.PrepareContext(ctx,
			`INSERT INTO pulse_outbox (id, kind, agent, payload, created_at) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare outbox insert")
		}
		defer stmt.Close()
		for _, row := range rows.outbox {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return eris.Wrapf(err, "sqlite: insert outbox %v", row[0])
			}
		}
	}
	return nil
}

func upsertSQLite(ctx context.Context, c sqlConn, t tableRows) error {
	if len(t.rows) == 0 {
		return nil
	}
	stmt, err := c.PrepareContext(ctx, sqliteUpsertSQL(t.table))
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare upsert %s", t.name)
	}
	defer stmt.Close()
	for _, row := range t.rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: upsert %s", t.name)
		}
	}
	return nil
}

// pruneSQLite deletes rows whose key is absent from t. The kept keys travel
// as one JSON array so the statement stays under the bind variable limit.
func pruneSQLite(ctx context.Context, c sqlConn, t tableRows) error {
	keys, err := json.Marshal(keyColumn(t.rows))
	if err != nil {
		return eris.Wrapf(err, "sqlite: encode %s keys", t.name)
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE %s NOT IN (SELECT value FROM json_each(?))`, t.name, t.keys[0])
	if _, err := c.ExecContext(ctx, q, string(keys)); err != nil {
		return eris.Wrapf(err, "sqlite: prune %s", t.name)
	}
	return nil
}

func sqliteUpsertSQL(t table) string {
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) `,
		t.name, strings.Join(t.columns, ", "), placeholders(len(t.columns)), strings.Join(t.keys, ", "))

	keys := make(map[string]bool, len(t.keys))
	for _, k := range t.keys {
		keys[k] = true
	}
	var set []string
	for _, c := range t.columns {
		if !keys[c] {
			set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	if len(set) == 0 {
		return q + "DO NOTHING"
	}
	return q + "DO UPDATE SET " + strings.Join(set, ", ")
}

func (s *SQLiteStore) PendingEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM pulse_outbox WHERE published_at IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending event")
		}
		ev, err := decodeEvent([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate pending events")
}

func (s *SQLiteStore) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	list, err := json.Marshal(ids)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode published ids")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE pulse_outbox SET published_at = ? WHERE published_at IS NULL AND id IN (SELECT value FROM json_each(?))`,
		time.Now().UTC(), string(list),
	)
	return eris.Wrap(err, "sqlite: mark published")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
