package store

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/model"
)

// ErrAmountOverflow is returned for a balance or stake that does not fit a
// signed 64-bit column.
var ErrAmountOverflow = eris.New("store: amount exceeds int64 range")

type table struct {
	name    string
	columns []string
	keys    []string
	// pruned tables drop rows that vanished from the snapshot.
	pruned bool
}

var (
	agentsTable = table{
		name:    "pulse_agents",
		columns: []string{"agent", "last_signal_at", "streak", "last_streak_day", "hazard_score", "cumulative_volume"},
		keys:    []string{"agent"},
	}
	stakesTable = table{
		name:    "pulse_stakes",
		columns: []string{"agent", "amount", "started_at"},
		keys:    []string{"agent"},
		pruned:  true,
	}
	epochCountsTable = table{
		name:    "pulse_epoch_counts",
		columns: []string{"attestor", "epoch", "count"},
		keys:    []string{"attestor", "epoch"},
	}
	pairUsesTable = table{
		name:    "pulse_pair_uses",
		columns: []string{"attestor", "subject", "epoch"},
		keys:    []string{"attestor", "subject", "epoch"},
	}
	talliesTable = table{
		name:    "pulse_tallies",
		columns: []string{"subject", "positive_weight", "negative_weight"},
		keys:    []string{"subject"},
	}
	balancesTable = table{
		name:    "pulse_balances",
		columns: []string{"address", "amount"},
		keys:    []string{"address"},
		pruned:  true,
	}

	outboxColumns = []string{"id", "kind", "agent", "payload", "created_at"}
)

type tableRows struct {
	table
	rows [][]any
}

// snapshotRows flattens snap into per-table rows in a fixed order.
func snapshotRows(snap *model.Snapshot) ([]tableRows, error) {
	agents := make([][]any, len(snap.Agents))
	for i, a := range snap.Agents {
		agents[i] = []any{a.Agent.String(), a.LastSignalAt, clamp(a.Streak), a.LastStreakDay, int64(a.HazardScore), clamp(a.CumulativeVolume)}
	}

	stakes := make([][]any, len(snap.Stakes))
	for i, s := range snap.Stakes {
		amt, err := exact(s.Amount, "stake of "+s.Agent.String())
		if err != nil {
			return nil, err
		}
		stakes[i] = []any{s.Agent.String(), amt, s.StartedAt}
	}

	counts := make([][]any, len(snap.EpochCounts))
	for i, c := range snap.EpochCounts {
		counts[i] = []any{c.Attestor.String(), c.Epoch, int64(c.Count)}
	}

	pairs := make([][]any, len(snap.PairUses))
	for i, p := range snap.PairUses {
		pairs[i] = []any{p.Attestor.String(), p.Subject.String(), p.Epoch}
	}

	tallies := make([][]any, len(snap.Tallies))
	for i, t := range snap.Tallies {
		tallies[i] = []any{t.Subject.String(), clamp(t.PositiveWeight), clamp(t.NegativeWeight)}
	}

	balances := make([][]any, len(snap.Balances))
	for i, b := range snap.Balances {
		amt, err := exact(b.Amount, "balance of "+b.Address.String())
		if err != nil {
			return nil, err
		}
		balances[i] = []any{b.Address.String(), amt}
	}

	return []tableRows{
		{agentsTable, agents},
		{stakesTable, stakes},
		{epochCountsTable, counts},
		{pairUsesTable, pairs},
		{talliesTable, tallies},
		{balancesTable, balances},
	}, nil
}

// commitRows is a snapshot and its outbox events flattened for writing.
type commitRows struct {
	params, fees string
	tables       []tableRows
	outbox       [][]any
}

func encodeCommit(snap *model.Snapshot, events []model.Event) (commitRows, error) {
	params, fees, err := encodeState(snap)
	if err != nil {
		return commitRows{}, err
	}
	tables, err := snapshotRows(snap)
	if err != nil {
		return commitRows{}, err
	}
	outbox, err := outboxRows(events)
	if err != nil {
		return commitRows{}, err
	}
	return commitRows{params: params, fees: fees, tables: tables, outbox: outbox}, nil
}

// encodeState renders the singleton state row.
func encodeState(snap *model.Snapshot) (params, fees string, err error) {
	p, err := json.Marshal(snap.Params)
	if err != nil {
		return "", "", eris.Wrap(err, "store: encode params")
	}
	f, err := json.Marshal(snap.Fees)
	if err != nil {
		return "", "", eris.Wrap(err, "store: encode fees")
	}
	return string(p), string(f), nil
}

func outboxRows(events []model.Event) ([][]any, error) {
	rows := make([][]any, len(events))
	for i, ev := range events {
		if ev.ID == "" {
			return nil, eris.New("store: outbox event without id")
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal event %s", ev.ID)
		}
		rows[i] = []any{ev.ID, string(ev.Kind), ev.Agent.String(), string(payload), ev.Timestamp}
	}
	return rows, nil
}

// keyColumn returns the first column of every row, the key of pruned
// tables.
func keyColumn(rows [][]any) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r[0].(string)
	}
	return out
}

// clamp stores saturating counters. Values past int64 were already
// saturated in practice, so the cap is harmless.
func clamp(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func exact(v uint64, what string) (int64, error) {
	if v > math.MaxInt64 {
		return 0, eris.Wrapf(ErrAmountOverflow, "store: %s", what)
	}
	return int64(v), nil
}

type scanner interface {
	Scan(dest ...any) error
}

type rowIter interface {
	scanner
	Next() bool
	Err() error
}

type queryFunc func(sql string) (rows rowIter, closeFn func(), err error)

// readSnapshot loads every state table through q. Callers read the state
// row first and pass its JSON columns in.
func readSnapshot(q queryFunc, paramsJSON, feesJSON []byte) (*model.Snapshot, error) {
	snap := &model.Snapshot{}
	if err := json.Unmarshal(paramsJSON, &snap.Params); err != nil {
		return nil, eris.Wrap(err, "store: decode params")
	}
	if err := json.Unmarshal(feesJSON, &snap.Fees); err != nil {
		return nil, eris.Wrap(err, "store: decode fees")
	}

	steps := []struct {
		sql  string
		scan func(scanner) error
	}{
		{`SELECT agent, last_signal_at, streak, last_streak_day, hazard_score, cumulative_volume FROM pulse_agents ORDER BY agent`,
			func(sc scanner) error {
				var a model.AgentRecord
				var agent string
				var streak, hazard, volume int64
				if err := sc.Scan(&agent, &a.LastSignalAt, &streak, &a.LastStreakDay, &hazard, &volume); err != nil {
					return err
				}
				a.Agent = model.Address(agent)
				a.Streak = uint64(streak)
				a.HazardScore = uint8(hazard)
				a.CumulativeVolume = uint64(volume)
				snap.Agents = append(snap.Agents, a)
				return nil
			}},
		{`SELECT agent, amount, started_at FROM pulse_stakes ORDER BY agent`,
			func(sc scanner) error {
				var s model.StakePosition
				var agent string
				var amount int64
				if err := sc.Scan(&agent, &amount, &s.StartedAt); err != nil {
					return err
				}
				s.Agent = model.Address(agent)
				s.Amount = uint64(amount)
				snap.Stakes = append(snap.Stakes, s)
				return nil
			}},
		{`SELECT attestor, epoch, count FROM pulse_epoch_counts ORDER BY attestor, epoch`,
			func(sc scanner) error {
				var c model.EpochCount
				var attestor string
				var count int64
				if err := sc.Scan(&attestor, &c.Epoch, &count); err != nil {
					return err
				}
				c.Attestor = model.Address(attestor)
				c.Count = uint8(count)
				snap.EpochCounts = append(snap.EpochCounts, c)
				return nil
			}},
		{`SELECT attestor, subject, epoch FROM pulse_pair_uses ORDER BY attestor, subject, epoch`,
			func(sc scanner) error {
				var p model.PairUse
				var attestor, subject string
				if err := sc.Scan(&attestor, &subject, &p.Epoch); err != nil {
					return err
				}
				p.Attestor = model.Address(attestor)
				p.Subject = model.Address(subject)
				snap.PairUses = append(snap.PairUses, p)
				return nil
			}},
		{`SELECT subject, positive_weight, negative_weight FROM pulse_tallies ORDER BY subject`,
			func(sc scanner) error {
				var t model.Tally
				var subject string
				var pos, neg int64
				if err := sc.Scan(&subject, &pos, &neg); err != nil {
					return err
				}
				t.Subject = model.Address(subject)
				t.PositiveWeight = uint64(pos)
				t.NegativeWeight = uint64(neg)
				snap.Tallies = append(snap.Tallies, t)
				return nil
			}},
		{`SELECT address, amount FROM pulse_balances ORDER BY address`,
			func(sc scanner) error {
				var b model.Balance
				var addr string
				var amount int64
				if err := sc.Scan(&addr, &amount); err != nil {
					return err
				}
				b.Address = model.Address(addr)
				b.Amount = uint64(amount)
				snap.Balances = append(snap.Balances, b)
				return nil
			}},
	}

	for _, step := range steps {
		rows, closeFn, err := q(step.sql)
		if err != nil {
			return nil, eris.Wrapf(err, "store: query %s", tableOf(step.sql))
		}
		for rows.Next() {
			if err := step.scan(rows); err != nil {
				closeFn()
				return nil, eris.Wrapf(err, "store: scan %s", tableOf(step.sql))
			}
		}
		err = rows.Err()
		closeFn()
		if err != nil {
			return nil, eris.Wrapf(err, "store: iterate %s", tableOf(step.sql))
		}
	}
	return snap, nil
}

func decodeEvent(payload []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return model.Event{}, eris.Wrap(err, "store: decode outbox payload")
	}
	return ev, nil
}

// tableOf names a query in errors by its table.
func tableOf(sql string) string {
	_, rest, ok := strings.Cut(sql, " FROM ")
	if !ok {
		return sql
	}
	name, _, _ := strings.Cut(rest, " ")
	return name
}
