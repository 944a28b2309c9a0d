// Package liveness implements the agent liveness registry: costed signals,
// consecutive-day streaks, TTL-based liveness and owner-assigned hazard
// scores.
//
// A Registry is not safe for concurrent use; the protocol engine serializes
// access to it.
package liveness

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/model"
)

const (
	// MaxHazardScore is the highest hazard score the owner may assign.
	MaxHazardScore = 100

	// MinStreakGap is the minimum real time between the signals of two
	// consecutive streak days. It stops a 23:59 / 00:01 pair from counting
	// as two days.
	MinStreakGap int64 = 20 * 3600
)

var (
	ErrBelowMinimumSignal = eris.New("below minimum signal")
	ErrProtocolPaused     = eris.New("protocol paused")
	ErrInvalidHazardScore = eris.New("invalid hazard score")
)

// Config is the subset of protocol parameters the registry reads.
type Config interface {
	TTLSeconds() uint64
	MinSignalAmount() uint64
	Paused() bool
}

// Registry owns every AgentRecord.
type Registry struct {
	cfg     Config
	records map[model.Address]model.AgentRecord
}

// New creates an empty registry reading bounds from cfg.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		records: make(map[model.Address]model.AgentRecord),
	}
}

// Load replaces the registry contents with records.
func (r *Registry) Load(records []model.AgentRecord) {
	r.records = make(map[model.Address]model.AgentRecord, len(records))
	for _, rec := range records {
		r.records[rec.Agent] = rec
	}
}

// Export returns every record ordered by agent address.
func (r *Registry) Export() []model.AgentRecord {
	out := make([]model.AgentRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// Record returns the stored record for agent. The boolean is false when the
// agent has never been touched.
func (r *Registry) Record(agent model.Address) (model.AgentRecord, bool) {
	rec, ok := r.records[agent]
	return rec, ok
}

// CheckSignal validates a signal amount against the pause flag and the
// configured minimum.
func (r *Registry) CheckSignal(amount uint64) error {
	if r.cfg.Paused() {
		return eris.Wrap(ErrProtocolPaused, "liveness: signal rejected")
	}
	if floor := r.cfg.MinSignalAmount(); amount < floor {
		return eris.Wrapf(ErrBelowMinimumSignal, "liveness: amount %d < minimum %d", amount, floor)
	}
	return nil
}

// PrepareSignal validates a signal and returns the record that would result
// from accepting it at now. Nothing is stored until Commit.
func (r *Registry) PrepareSignal(agent model.Address, amount uint64, now int64) (model.AgentRecord, error) {
	if err := r.CheckSignal(amount); err != nil {
		return model.AgentRecord{}, err
	}
	prev, ok := r.records[agent]
	if !ok {
		prev = model.AgentRecord{Agent: agent}
	}
	return Advance(prev, amount, now), nil
}

// Commit stores a record produced by PrepareSignal.
func (r *Registry) Commit(rec model.AgentRecord) {
	r.records[rec.Agent] = rec
}

// Advance applies one accepted signal to prev.
func Advance(prev model.AgentRecord, amount uint64, now int64) model.AgentRecord {
	next := prev
	next.CumulativeVolume = saturatingAdd(prev.CumulativeVolume, amount)

	today := model.DayIndex(now)
	switch {
	case !prev.HasSignaled():
		next.Streak = 1
		next.LastStreakDay = today
	case today == prev.LastStreakDay:
		// Same-day repeat keeps the window fresh but earns nothing.
	case today == prev.LastStreakDay+1 && now-prev.LastSignalAt >= MinStreakGap:
		next.Streak = prev.Streak + 1
		next.LastStreakDay = today
	default:
		next.Streak = 1
		next.LastStreakDay = today
	}
	next.LastSignalAt = now
	return next
}

// IsAlive reports whether agent signaled within the TTL window. The window
// end is inclusive.
func (r *Registry) IsAlive(agent model.Address, now int64) bool {
	rec, ok := r.records[agent]
	if !ok || !rec.HasSignaled() {
		return false
	}
	return now <= rec.LastSignalAt+int64(r.cfg.TTLSeconds())
}

// Status returns the liveness view of agent. Unknown agents report the zero
// status with Alive false.
func (r *Registry) Status(agent model.Address, now int64) model.AgentStatus {
	rec := r.records[agent]
	return model.AgentStatus{
		Agent:        agent,
		Alive:        r.IsAlive(agent, now),
		LastSignalAt: rec.LastSignalAt,
		Streak:       rec.Streak,
		HazardScore:  rec.HazardScore,
	}
}

// Streak returns the stored streak of agent, zero if unknown.
func (r *Registry) Streak(agent model.Address) uint64 {
	return r.records[agent].Streak
}

// CumulativeVolume returns the total amount agent ever signaled.
func (r *Registry) CumulativeVolume(agent model.Address) uint64 {
	return r.records[agent].CumulativeVolume
}

// CheckHazard validates a hazard score.
func CheckHazard(score int) error {
	if score < 0 || score > MaxHazardScore {
		return eris.Wrapf(ErrInvalidHazardScore, "liveness: hazard %d outside [0, %d]", score, MaxHazardScore)
	}
	return nil
}

// SetHazard assigns a hazard score, creating a zero-valued record for an
// agent that never signaled. Ownership is checked by the caller.
func (r *Registry) SetHazard(agent model.Address, score int) error {
	if err := CheckHazard(score); err != nil {
		return err
	}
	rec, ok := r.records[agent]
	if !ok {
		rec = model.AgentRecord{Agent: agent}
	}
	rec.HazardScore = uint8(score)
	r.records[agent] = rec
	return nil
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
