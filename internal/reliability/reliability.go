// Package reliability derives agent reliability scores from streak, signal
// volume and stake duration, and manages stake positions.
//
// The score is streak + logScale(volume) + logScale(stake * days). Both
// scale terms grow logarithmically so a large balance cannot buy reputation
// linearly; consistency (streak) keeps mattering. All arithmetic is integer
// fixed-point so every node computes the same score.
package reliability

import (
	"math"
	"math/bits"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/model"
)

const (
	// FracBits is the fixed-point precision of Log2Fixed.
	FracBits = 16

	// maxWeight keeps weight * log2 well inside uint64.
	maxWeight uint64 = 1 << 32
)

var (
	ErrInvalidAmount         = eris.New("invalid stake amount")
	ErrInsufficientStake     = eris.New("insufficient stake")
	ErrInvalidTierThresholds = eris.New("invalid tier thresholds")
	ErrInvalidScaling        = eris.New("invalid reliability scaling")
)

// Config holds the scaling constants and tier thresholds.
type Config struct {
	VolumeUnit   uint64 `json:"volume_unit" yaml:"volume_unit"`
	VolumeWeight uint64 `json:"volume_weight" yaml:"volume_weight"`
	StakeUnit    uint64 `json:"stake_unit" yaml:"stake_unit"`
	StakeWeight  uint64 `json:"stake_weight" yaml:"stake_weight"`
	BronzeAt     uint64 `json:"bronze_at" yaml:"bronze_at"`
	SilverAt     uint64 `json:"silver_at" yaml:"silver_at"`
	GoldAt       uint64 `json:"gold_at" yaml:"gold_at"`
}

// DefaultConfig returns the default constants for an asset whose whole
// token is unit base units.
func DefaultConfig(unit uint64) Config {
	if unit == 0 {
		unit = 1
	}
	return Config{
		VolumeUnit:   unit,
		VolumeWeight: 1,
		StakeUnit:    unit,
		StakeWeight:  2,
		BronzeAt:     7,
		SilverAt:     30,
		GoldAt:       90,
	}
}

// Validate checks units are positive, weights bounded and thresholds
// strictly increasing.
func (c Config) Validate() error {
	if c.VolumeUnit == 0 || c.StakeUnit == 0 {
		return eris.Wrap(ErrInvalidScaling, "reliability: units must be positive")
	}
	if c.VolumeWeight > maxWeight || c.StakeWeight > maxWeight {
		return eris.Wrapf(ErrInvalidScaling, "reliability: weights must be <= %d", maxWeight)
	}
	if !(0 < c.BronzeAt && c.BronzeAt < c.SilverAt && c.SilverAt < c.GoldAt) {
		return eris.Wrapf(ErrInvalidTierThresholds, "reliability: need 0 < bronze(%d) < silver(%d) < gold(%d)",
			c.BronzeAt, c.SilverAt, c.GoldAt)
	}
	return nil
}

// Liveness is the read-only view of the liveness registry the engine needs.
type Liveness interface {
	IsAlive(agent model.Address, now int64) bool
	Streak(agent model.Address) uint64
	CumulativeVolume(agent model.Address) uint64
}

// Breakdown itemizes a reliability score.
type Breakdown struct {
	Streak uint64 `json:"streak"`
	Volume uint64 `json:"volume"`
	Stake  uint64 `json:"stake"`
	Total  uint64 `json:"total"`
}

// Engine owns stake positions and computes scores. It is not safe for
// concurrent use; the protocol engine serializes access to it.
type Engine struct {
	cfg       Config
	live      Liveness
	positions map[model.Address]model.StakePosition
}

// New returns an Engine with no stake positions.
func New(cfg Config, live Liveness) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		live:      live,
		positions: make(map[model.Address]model.StakePosition),
	}, nil
}

// Config returns the scaling constants in use.
func (e *Engine) Config() Config {
	return e.cfg
}

// Load replaces all stake positions.
func (e *Engine) Load(positions []model.StakePosition) {
	e.positions = make(map[model.Address]model.StakePosition, len(positions))
	for _, p := range positions {
		if p.Amount > 0 {
			e.positions[p.Agent] = p
		}
	}
}

// Export returns non-empty positions ordered by agent.
func (e *Engine) Export() []model.StakePosition {
	out := make([]model.StakePosition, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// Position returns the stake position of agent (zero if none).
func (e *Engine) Position(agent model.Address) model.StakePosition {
	p, ok := e.positions[agent]
	if !ok {
		return model.StakePosition{Agent: agent}
	}
	return p
}

// PrepareStake returns the position after locking amount more at now. Any
// increase restarts duration accrual, so a top-up never inherits the credit
// of a smaller long-held position.
func (e *Engine) PrepareStake(agent model.Address, amount uint64, now int64) (model.StakePosition, error) {
	if amount == 0 {
		return model.StakePosition{}, eris.Wrap(ErrInvalidAmount, "reliability: stake amount is zero")
	}
	p := e.Position(agent)
	total, carry := bits.Add64(p.Amount, amount, 0)
	if carry != 0 {
		return model.StakePosition{}, eris.Wrap(ErrInvalidAmount, "reliability: stake overflows")
	}
	return model.StakePosition{Agent: agent, Amount: total, StartedAt: now}, nil
}

// PrepareUnstake returns the position after releasing amount. A partial
// withdrawal keeps the accrual start; a full one clears it.
func (e *Engine) PrepareUnstake(agent model.Address, amount uint64) (model.StakePosition, error) {
	if amount == 0 {
		return model.StakePosition{}, eris.Wrap(ErrInvalidAmount, "reliability: unstake amount is zero")
	}
	p := e.Position(agent)
	if amount > p.Amount {
		return model.StakePosition{}, eris.Wrapf(ErrInsufficientStake, "reliability: unstake %d > staked %d", amount, p.Amount)
	}
	p.Amount -= amount
	if p.Amount == 0 {
		p.StartedAt = 0
	}
	return p, nil
}

// Commit stores a position produced by PrepareStake or PrepareUnstake.
func (e *Engine) Commit(p model.StakePosition) {
	if p.Amount == 0 {
		delete(e.positions, p.Agent)
		return
	}
	e.positions[p.Agent] = p
}

// Score itemizes the reliability of agent at now. The streak only counts
// while the agent is alive.
func (e *Engine) Score(agent model.Address, now int64) Breakdown {
	var b Breakdown
	if e.live.IsAlive(agent, now) {
		b.Streak = e.live.Streak(agent)
	}
	b.Volume = LogScale(e.live.CumulativeVolume(agent), e.cfg.VolumeUnit, e.cfg.VolumeWeight)

	p := e.Position(agent)
	if p.Amount > 0 && now > p.StartedAt {
		days := uint64((now - p.StartedAt) / model.SecondsPerDay)
		b.Stake = LogScale(mulSat(p.Amount, days), e.cfg.StakeUnit, e.cfg.StakeWeight)
	}
	b.Total = addSat(addSat(b.Streak, b.Volume), b.Stake)
	return b
}

// Reliability returns the composite score of agent at now.
func (e *Engine) Reliability(agent model.Address, now int64) uint64 {
	return e.Score(agent, now).Total
}

// Tier returns the tier of agent at now. It is recomputed on every call.
func (e *Engine) Tier(agent model.Address, now int64) model.Tier {
	return e.TierFor(e.Reliability(agent, now))
}

// TierFor maps a score to its tier.
func (e *Engine) TierFor(score uint64) model.Tier {
	switch {
	case score >= e.cfg.GoldAt:
		return model.TierGold
	case score >= e.cfg.SilverAt:
		return model.TierSilver
	case score >= e.cfg.BronzeAt:
		return model.TierBronze
	default:
		return model.TierUnranked
	}
}

// LogScale returns floor(weight * log2(1 + x/unit)).
func LogScale(x, unit, weight uint64) uint64 {
	if unit == 0 || weight == 0 {
		return 0
	}
	l := Log2Fixed(addSat(x/unit, 1))
	hi, lo := bits.Mul64(l, weight)
	if hi != 0 {
		return math.MaxUint64 >> FracBits
	}
	return lo >> FracBits
}

// Log2Fixed returns log2(x) with FracBits fractional bits, truncated. It is
// zero for x <= 1.
func Log2Fixed(x uint64) uint64 {
	if x <= 1 {
		return 0
	}
	n := uint64(bits.Len64(x) - 1)
	result := n << FracBits

	// Mantissa m in [1, 2) held as m * 2^62.
	var y uint64
	if n <= 62 {
		y = x << (62 - n)
	} else {
		y = x >> (n - 62)
	}
	for i := FracBits - 1; i >= 0; i-- {
		hi, lo := bits.Mul64(y, y)
		y = hi<<2 | lo>>62
		if y >= 1<<63 {
			y >>= 1
			result |= 1 << uint(i)
		}
	}
	return result
}

func addSat(a, b uint64) uint64 {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return s
}

func mulSat(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}
