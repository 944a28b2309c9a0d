// Package protocol composes the liveness registry, reliability engine,
// attestation ledger and fee distributor into one serially-consistent state
// machine.
//
// Every mutating operation holds an exclusive lock over the whole protocol
// state for its duration. Reads share the lock, so they observe either the
// state before or after any write, never a partial one. An operation that
// moves the payment asset computes its full transfer plan, applies it in a
// single all-or-nothing call, and only then commits its own records.
package protocol

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse-cli/internal/attestation"
	"github.com/sells-group/pulse-cli/internal/feesplit"
	"github.com/sells-group/pulse-cli/internal/ledger"
	"github.com/sells-group/pulse-cli/internal/liveness"
	"github.com/sells-group/pulse-cli/internal/model"
	"github.com/sells-group/pulse-cli/internal/params"
	"github.com/sells-group/pulse-cli/internal/reliability"
)

// Asset moves the payment asset. A call with several transfers applies all
// of them or none.
type Asset interface {
	Transfer(ctx context.Context, transfers ...model.Transfer) error
}

// EventSink receives events for successful operations.
type EventSink interface {
	Emit(ev model.Event)
}

type discardSink struct{}

func (discardSink) Emit(model.Event) {}

// Genesis describes a freshly deployed protocol.
type Genesis struct {
	Params      model.ProtocolParams
	Fees        model.FeeConfig
	Reliability *reliability.Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithAsset sets the payment asset. Default: an in-memory ledger.
func WithAsset(a Asset) Option {
	return func(e *Engine) { e.asset = a }
}

// WithEventSink sets where events go. Default: discarded.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger. Default: zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithReliabilityConfig overrides the reliability constants.
func WithReliabilityConfig(c reliability.Config) Option {
	return func(e *Engine) { e.relCfg = &c }
}

// Engine is the protocol state machine. It is safe for concurrent use.
type Engine struct {
	mu sync.RWMutex

	clock  Clock
	asset  Asset
	sink   EventSink
	log    *zap.Logger
	relCfg *reliability.Config

	params   *params.Store
	registry *liveness.Registry
	rel      *reliability.Engine
	att      *attestation.Ledger
	dist     *feesplit.Distributor
}

// New builds an engine from genesis.
func New(g Genesis, opts ...Option) (*Engine, error) {
	e := &Engine{relCfg: g.Reliability}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = SystemClock
	}
	if e.asset == nil {
		e.asset = ledger.NewMemory()
	}
	if e.sink == nil {
		e.sink = discardSink{}
	}
	if e.log == nil {
		e.log = zap.L()
	}

	ps, err := params.New(g.Params)
	if err != nil {
		return nil, eris.Wrap(err, "protocol: params")
	}
	dist, err := feesplit.New(g.Fees)
	if err != nil {
		return nil, eris.Wrap(err, "protocol: fee config")
	}
	relCfg := reliability.DefaultConfig(ps.Unit())
	if e.relCfg != nil {
		relCfg = *e.relCfg
	}

	e.params = ps
	e.dist = dist
	e.registry = liveness.New(ps)
	e.rel, err = reliability.New(relCfg, e.registry)
	if err != nil {
		return nil, eris.Wrap(err, "protocol: reliability config")
	}
	e.att = attestation.New(e.registry, e.rel)
	return e, nil
}

// Restore rebuilds an engine from a snapshot. Without WithAsset the
// snapshot balances seed an in-memory ledger.
func Restore(s model.Snapshot, opts ...Option) (*Engine, error) {
	e, err := New(Genesis{Params: s.Params, Fees: s.Fees}, opts...)
	if err != nil {
		return nil, err
	}
	if mem, ok := e.asset.(*ledger.Memory); ok && len(s.Balances) > 0 {
		mem.Load(s.Balances)
	}
	e.registry.Load(s.Agents)
	e.rel.Load(s.Stakes)
	e.att.Load(s.EpochCounts, s.PairUses, s.Tallies)
	return e, nil
}

// Snapshot exports the full state. Balances are included when the asset
// can list them.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	counts, pairs, tallies := e.att.Export()
	s := model.Snapshot{
		Params:      e.params.Params(),
		Fees:        e.dist.Config(),
		Agents:      e.registry.Export(),
		Stakes:      e.rel.Export(),
		EpochCounts: counts,
		PairUses:    pairs,
		Tallies:     tallies,
	}
	if lister, ok := e.asset.(interface{ Balances() []model.Balance }); ok {
		s.Balances = lister.Balances()
	}
	return s
}

// Asset returns the payment asset the engine transfers through.
func (e *Engine) Asset() Asset {
	return e.asset
}

// Now returns the engine's current time.
func (e *Engine) Now() int64 {
	return e.clock.Now()
}

func (e *Engine) transfer(ctx context.Context, legs ...model.Transfer) error {
	if err := e.asset.Transfer(ctx, legs...); err != nil {
		e.log.Warn("protocol: asset transfer failed", zap.Int("legs", len(legs)), zap.Error(err))
		return &TransferError{Err: err}
	}
	return nil
}

func (e *Engine) emit(ev model.Event) {
	e.sink.Emit(ev)
}

func checkCaller(caller model.Address) error {
	if caller.IsZero() {
		return eris.Wrap(ErrInvalidCaller, "protocol: caller missing")
	}
	return nil
}
