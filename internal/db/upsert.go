package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert.
type UpsertConfig struct {
	Table        string   // target table
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// UpsertTx bulk-upserts rows inside tx: COPY into a temp table dropped on
// commit, then INSERT ... SELECT ... ON CONFLICT into the target. When
// every column is a conflict key the conflict becomes DO NOTHING. The
// caller owns the transaction.
func UpsertTx(ctx context.Context, tx pgx.Tx, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	tempTable := "_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	tag, err := tx.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		conflictAction(cfg),
	))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func conflictAction(cfg UpsertConfig) string {
	updateCols := cfg.UpdateCols
	if updateCols == nil {
		keys := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			keys[k] = true
		}
		for _, c := range cfg.Columns {
			if !keys[c] {
				updateCols = append(updateCols, c)
			}
		}
	}
	if len(updateCols) == 0 {
		return "DO NOTHING"
	}

	set := make([]string, len(updateCols))
	for i, col := range updateCols {
		id := pgx.Identifier{col}.Sanitize()
		set[i] = fmt.Sprintf("%s = EXCLUDED.%s", id, id)
	}
	return "DO UPDATE SET " + strings.Join(set, ", ")
}

// sanitizeTable handles schema-qualified table names like "public.pulse_agents".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
