package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTx(t *testing.T) (pgxmock.PgxPoolIface, pgx.Tx) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	return mock, tx
}

func TestUpsertTx_EmptyRows(t *testing.T) {
	n, err := UpsertTx(context.Background(), nil, UpsertConfig{
		Table:        "pulse_agents",
		Columns:      []string{"agent", "streak"},
		ConflictKeys: []string{"agent"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsertTx_NoColumns(t *testing.T) {
	_, err := UpsertTx(context.Background(), nil, UpsertConfig{
		Table:        "pulse_agents",
		ConflictKeys: []string{"agent"},
	}, [][]any{{"0xa", 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertTx_NoConflictKeys(t *testing.T) {
	_, err := UpsertTx(context.Background(), nil, UpsertConfig{
		Table:   "pulse_agents",
		Columns: []string{"agent", "streak"},
	}, [][]any{{"0xa", 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestUpsertTx_UpdatesNonKeyColumns(t *testing.T) {
	mock, tx := newMockTx(t)

	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_pulse_stakes" \(LIKE "pulse_stakes" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_pulse_stakes"}, []string{"agent", "amount", "started_at"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "pulse_stakes" \("agent", "amount", "started_at"\) SELECT .* ON CONFLICT \("agent"\) DO UPDATE SET "amount" = EXCLUDED."amount", "started_at" = EXCLUDED."started_at"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := UpsertTx(context.Background(), tx, UpsertConfig{
		Table:        "pulse_stakes",
		Columns:      []string{"agent", "amount", "started_at"},
		ConflictKeys: []string{"agent"},
	}, [][]any{{"0xa", int64(5), int64(10)}, {"0xb", int64(7), int64(11)}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTx_AllKeysDoNothing(t *testing.T) {
	mock, tx := newMockTx(t)

	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_pulse_pair_uses"}, []string{"attestor", "subject", "epoch"}).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("attestor", "subject", "epoch"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cols := []string{"attestor", "subject", "epoch"}
	_, err := UpsertTx(context.Background(), tx, UpsertConfig{
		Table: "pulse_pair_uses", Columns: cols, ConflictKeys: cols,
	}, [][]any{{"0xa", "0xb", int64(3)}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTx_CopyFails(t *testing.T) {
	mock, tx := newMockTx(t)

	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_pulse_agents"}, []string{"agent"}).
		WillReturnError(errors.New("copy broke"))

	_, err := UpsertTx(context.Background(), tx, UpsertConfig{
		Table: "pulse_agents", Columns: []string{"agent"}, ConflictKeys: []string{"agent"},
	}, [][]any{{"0xa"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for pulse_agents")
}

func TestCopyFrom(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := CopyFrom(context.Background(), mock, "pulse_outbox", []string{"id"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	mock.ExpectCopyFrom(pgx.Identifier{"pulse_outbox"}, []string{"id", "kind"}).WillReturnResult(2)
	n, err = CopyFrom(context.Background(), mock, "pulse_outbox", []string{"id", "kind"}, [][]any{{"a", "signal"}, {"b", "stake"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mock.ExpectCopyFrom(pgx.Identifier{"pulse_outbox"}, []string{"id"}).WillReturnError(errors.New("nope"))
	_, err = CopyFrom(context.Background(), mock, "pulse_outbox", []string{"id"}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO pulse_outbox")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"pulse_agents", `"pulse_agents"`},
		{"public.pulse_agents", `"public"."pulse_agents"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"agent", "amount", "started_at"`, quoteAndJoin([]string{"agent", "amount", "started_at"}))
}

var (
	_ Pool   = pgxmock.PgxPoolIface(nil)
	_ Copier = pgx.Tx(nil)
)
