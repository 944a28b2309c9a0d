package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pulse-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func expectUpsert(mock pgxmock.PgxPoolIface, t table, n int64) {
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_` + t.name + `"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_" + t.name}, t.columns).WillReturnResult(n)
	mock.ExpectExec(`INSERT INTO "` + t.name + `"`).WillReturnResult(pgxmock.NewResult("INSERT", n))
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS pulse_state`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadSnapshot_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT params, fees FROM pulse_state WHERE id = 1`).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	snap, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	want := sampleSnapshot()
	params, err := json.Marshal(want.Params)
	require.NoError(t, err)
	fees, err := json.Marshal(want.Fees)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT params, fees FROM pulse_state`).
		WillReturnRows(pgxmock.NewRows([]string{"params", "fees"}).AddRow(params, fees))

	agents := pgxmock.NewRows(agentsTable.columns)
	for _, a := range want.Agents {
		agents.AddRow(a.Agent.String(), a.LastSignalAt, int64(a.Streak), a.LastStreakDay, int64(a.HazardScore), int64(a.CumulativeVolume))
	}
	mock.ExpectQuery(`FROM pulse_agents ORDER BY agent`).WillReturnRows(agents)
	mock.ExpectQuery(`FROM pulse_stakes`).WillReturnRows(
		pgxmock.NewRows(stakesTable.columns).AddRow(alice.String(), int64(500), int64(1000)))
	mock.ExpectQuery(`FROM pulse_epoch_counts`).WillReturnRows(
		pgxmock.NewRows(epochCountsTable.columns).AddRow(alice.String(), int64(2), int64(1)))
	mock.ExpectQuery(`FROM pulse_pair_uses`).WillReturnRows(
		pgxmock.NewRows(pairUsesTable.columns).AddRow(alice.String(), bob.String(), int64(2)))
	mock.ExpectQuery(`FROM pulse_tallies`).WillReturnRows(
		pgxmock.NewRows(talliesTable.columns).AddRow(bob.String(), int64(7), int64(0)))
	mock.ExpectQuery(`FROM pulse_balances`).WillReturnRows(
		pgxmock.NewRows(balancesTable.columns).
			AddRow(bob.String(), int64(1_000_000)).
			AddRow(alice.String(), int64(999_470)))
	mock.ExpectRollback()

	got, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadSnapshot_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT params, fees FROM pulse_state`).
		WillReturnRows(pgxmock.NewRows([]string{"params", "fees"}).AddRow([]byte(`{}`), []byte(`{}`)))
	mock.ExpectQuery(`FROM pulse_agents`).WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	_, err := s.LoadSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query pulse_agents")
}

func TestPostgresStore_Commit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	snap := sampleSnapshot()
	snap.Stakes = nil
	snap.EpochCounts = nil
	snap.Tallies = nil
	events := []model.Event{{ID: "e1", Kind: model.EventSignal, Agent: alice, Amount: 10, Timestamp: 100, Streak: 1}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pulse_state`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectUpsert(mock, agentsTable, 2)
	mock.ExpectExec(`DELETE FROM pulse_stakes$`).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	expectUpsert(mock, pairUsesTable, 1)
	mock.ExpectExec(`DELETE FROM pulse_balances WHERE NOT \(address = ANY\(\$1\)\)`).
		WithArgs([]string{bob.String(), alice.String()}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	expectUpsert(mock, balancesTable, 2)
	mock.ExpectCopyFrom(pgx.Identifier{"pulse_outbox"}, outboxColumns).WillReturnResult(1)
	mock.ExpectCommit()

	require.NoError(t, s.Commit(context.Background(), snap, events))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Commit_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pulse_state`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("serialization failure"))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), sampleSnapshot(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert state")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Commit_Overflow(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	snap := sampleSnapshot()
	snap.Stakes[0].Amount = 1 << 63

	err := s.Commit(context.Background(), snap, nil)
	require.ErrorIs(t, err, ErrAmountOverflow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_FirstWrite(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	next := &model.Snapshot{
		Params: sampleSnapshot().Params,
		Fees:   sampleSnapshot().Fees,
		Agents: []model.AgentRecord{{Agent: alice, LastSignalAt: 5, Streak: 1}},
	}
	events := []model.Event{{ID: "g1", Kind: model.EventSignal, Agent: alice, Timestamp: 5, Streak: 1}}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(updateLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT params, fees FROM pulse_state WHERE id = 1`).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO pulse_state`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectUpsert(mock, agentsTable, 1)
	mock.ExpectExec(`DELETE FROM pulse_stakes$`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM pulse_balances$`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"pulse_outbox"}, outboxColumns).WillReturnResult(1)
	mock.ExpectCommit()

	var seen *model.Snapshot
	called := false
	err := s.Update(context.Background(), func(cur *model.Snapshot) (*model.Snapshot, []model.Event, error) {
		called, seen = true, cur
		return next, events, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Nil(t, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_FuncErrorRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rejected := errors.New("signal rejected")

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(updateLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT params, fees FROM pulse_state WHERE id = 1`).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.Update(context.Background(), func(*model.Snapshot) (*model.Snapshot, []model.Event, error) {
		return nil, nil, rejected
	})
	assert.Same(t, rejected, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_LockFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(updateLockKey).
		WillReturnError(errors.New("canceling statement due to lock timeout"))
	mock.ExpectRollback()

	err := s.Update(context.Background(), func(*model.Snapshot) (*model.Snapshot, []model.Event, error) {
		t.Fatal("update func ran without the lock")
		return nil, nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock state")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PendingEvents(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ev := model.Event{ID: "e1", Kind: model.EventStake, Agent: bob, Amount: 5, Timestamp: 101}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT payload FROM pulse_outbox WHERE published_at IS NULL ORDER BY seq LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := s.PendingEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []model.Event{ev}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkPublished(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE pulse_outbox SET published_at = now\(\)`).
		WithArgs([]string{"e1", "e2"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, s.MarkPublished(context.Background(), []string{"e1", "e2"}))
	require.NoError(t, s.MarkPublished(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
