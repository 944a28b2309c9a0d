package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse-cli/internal/config"
	"github.com/sells-group/pulse-cli/internal/events"
	"github.com/sells-group/pulse-cli/internal/ledger"
	"github.com/sells-group/pulse-cli/internal/model"
	"github.com/sells-group/pulse-cli/internal/params"
	"github.com/sells-group/pulse-cli/internal/protocol"
	"github.com/sells-group/pulse-cli/internal/reliability"
	"github.com/sells-group/pulse-cli/internal/store"
)

// session is one invocation's view of the protocol: the engine restored
// from a snapshot, the ledger it transfers through, and the outbox that
// collects its events until the store write.
type session struct {
	engine *protocol.Engine
	ledger *ledger.Memory
	outbox *events.Outbox
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newSession restores an engine from snap, or builds one from config when
// snap is nil.
func newSession(snap *model.Snapshot) (*session, error) {
	s := &session{ledger: ledger.NewMemory(), outbox: events.NewOutbox()}

	decimals := cfg.Protocol.AssetDecimals
	if snap != nil {
		decimals = snap.Params.AssetDecimals
	}
	opts := []protocol.Option{
		protocol.WithClock(clock()),
		protocol.WithAsset(s.ledger),
		protocol.WithEventSink(s.outbox),
		protocol.WithLogger(zap.L()),
		protocol.WithReliabilityConfig(reliabilityConfig(cfg.Reliability, decimals)),
	}

	var err error
	if snap == nil {
		g, gerr := genesisFromConfig(cfg)
		if gerr != nil {
			return nil, gerr
		}
		zap.L().Info("initializing protocol from config",
			zap.String("owner", g.Params.Owner.String()),
			zap.Uint64("ttl_seconds", g.Params.TTLSeconds),
		)
		s.engine, err = protocol.New(g, opts...)
	} else {
		s.engine, err = protocol.Restore(*snap, opts...)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// mutate runs op as the --as caller inside one store update. The state is
// read and written under the store's write lock, so concurrent invocations
// apply in turn. A failed operation leaves the store untouched.
func mutate(ctx context.Context, name string, op func(s *session, caller model.Address) error) error {
	caller, err := callerAddress()
	if err != nil {
		return err
	}
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	var written, agents int
	err = st.Update(ctx, func(cur *model.Snapshot) (*model.Snapshot, []model.Event, error) {
		s, err := newSession(cur)
		if err != nil {
			return nil, nil, err
		}
		if err := op(s, caller); err != nil {
			class := protocol.Classify(err)
			zap.L().Warn("operation rejected",
				zap.String("op", name),
				zap.String("caller", caller.String()),
				zap.String("class", string(class)),
				zap.Error(err),
			)
			return nil, nil, eris.Wrapf(err, "%s rejected (%s)", name, class)
		}
		snap := s.engine.Snapshot()
		evs := s.outbox.Drain()
		written, agents = len(evs), len(snap.Agents)
		return &snap, evs, nil
	})
	if err != nil {
		return err
	}
	zap.L().Debug("state committed", zap.Int("events", written), zap.Int("agents", agents))
	return nil
}

// inspect runs a read-only op against the persisted state.
func inspect(ctx context.Context, op func(s *session) error) error {
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	snap, err := st.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	s, err := newSession(snap)
	if err != nil {
		return err
	}
	return op(s)
}

func callerAddress() (model.Address, error) {
	if flagAs == "" {
		return "", eris.New("--as is required for this command")
	}
	a, err := model.ParseAddress(flagAs)
	if err != nil {
		return "", eris.Wrap(err, "parse --as")
	}
	return a, nil
}

func clock() protocol.Clock {
	if flagAt > 0 {
		return protocol.FixedClock(flagAt)
	}
	return protocol.SystemClock
}

// genesisFromConfig builds the first-run protocol description. It is only
// consulted while the store is empty.
func genesisFromConfig(c *config.Config) (protocol.Genesis, error) {
	if err := c.Validate(); err != nil {
		return protocol.Genesis{}, err
	}
	p := c.Protocol
	addr := func(s string) model.Address {
		a, _ := model.ParseAddress(s) // validated above
		return a
	}
	sink := addr(p.Sink)
	return protocol.Genesis{
		Params: model.ProtocolParams{
			Owner:           addr(p.Owner),
			TTLSeconds:      p.TTLSeconds,
			MinSignalAmount: p.MinSignalAmount,
			AssetDecimals:   p.AssetDecimals,
			Sink:            sink,
			StakeVault:      addr(p.StakeVault),
			RouteSignalFees: p.RouteSignalFees,
		},
		Fees: model.FeeConfig{
			FeeBps:        p.FeeBps,
			MinBurnAmount: p.MinBurnAmount,
			FeeWallet:     addr(p.FeeWallet),
			Sink:          sink,
		},
	}, nil
}

// reliabilityConfig converts token-denominated settings into base units.
func reliabilityConfig(rc config.ReliabilityConfig, decimals uint8) reliability.Config {
	unit := params.TokenUnit(decimals)
	return reliability.Config{
		VolumeUnit:   rc.VolumeUnitTokens * unit,
		VolumeWeight: rc.VolumeWeight,
		StakeUnit:    rc.StakeUnitTokens * unit,
		StakeWeight:  rc.StakeWeight,
		BronzeAt:     rc.BronzeAt,
		SilverAt:     rc.SilverAt,
		GoldAt:       rc.GoldAt,
	}
}
