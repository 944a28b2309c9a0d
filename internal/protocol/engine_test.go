package protocol

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/pulse-cli/internal/ledger"
	"github.com/sells-group/pulse-cli/internal/liveness"
	"github.com/sells-group/pulse-cli/internal/model"
	"github.com/sells-group/pulse-cli/internal/params"
)

const (
	day  = int64(86400)
	hour = int64(3600)
)

var (
	owner     = model.Address("0x00000000000000000000000000000000000000aa")
	sink      = model.Address("0x000000000000000000000000000000000000dead")
	feeWallet = model.Address("0x00000000000000000000000000000000000000fe")
	vault     = model.Address("0x000000000000000000000000000000000000005a")
	alice     = model.Address("0x0000000000000000000000000000000000000a11")
	bob       = model.Address("0x0000000000000000000000000000000000000b0b")
	carol     = model.Address("0x0000000000000000000000000000000000000ca1")
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) Emit(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) kinds() []model.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

type harness struct {
	t    *testing.T
	eng  *Engine
	mem  *ledger.Memory
	sink *recordingSink
	now  int64
}

func testGenesis() Genesis {
	return Genesis{
		Params: model.ProtocolParams{
			Owner:           owner,
			TTLSeconds:      uint64(day),
			MinSignalAmount: 1,
			AssetDecimals:   0,
			Sink:            sink,
			StakeVault:      vault,
		},
		Fees: model.FeeConfig{
			FeeBps:        100,
			MinBurnAmount: 100,
			FeeWallet:     feeWallet,
			Sink:          sink,
		},
	}
}

func newHarness(t *testing.T, mutate ...func(*Genesis)) *harness {
	t.Helper()
	g := testGenesis()
	for _, m := range mutate {
		m(&g)
	}
	h := &harness{t: t, mem: ledger.NewMemory(), sink: &recordingSink{}}
	eng, err := New(g,
		WithClock(ClockFunc(func() int64 { return h.now })),
		WithAsset(h.mem),
		WithEventSink(h.sink),
		WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	h.eng = eng
	for _, a := range []model.Address{alice, bob, carol} {
		require.NoError(t, h.mem.Mint(a, 1_000_000))
	}
	return h
}

func (h *harness) at(ts int64) *harness {
	h.now = ts
	return h
}

func (h *harness) signal(agent model.Address, amount uint64) model.AgentStatus {
	h.t.Helper()
	st, err := h.eng.Signal(context.Background(), agent, amount)
	require.NoError(h.t, err)
	return st
}

func TestNew_RejectsInvalidGenesis(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Genesis)
		want   error
	}{
		{"zero owner", func(g *Genesis) { g.Params.Owner = model.ZeroAddress }, params.ErrInvalidAddress},
		{"zero sink", func(g *Genesis) { g.Params.Sink = "" }, params.ErrInvalidAddress},
		{"ttl zero", func(g *Genesis) { g.Params.TTLSeconds = 0 }, params.ErrInvalidTTL},
		{"ttl too long", func(g *Genesis) { g.Params.TTLSeconds = params.MaxTTLSeconds + 1 }, params.ErrInvalidTTL},
		{"min signal zero", func(g *Genesis) { g.Params.MinSignalAmount = 0 }, params.ErrInvalidMinSignalAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGenesis()
			tt.mutate(&g)
			_, err := New(g, WithLogger(zap.NewNop()))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSignal_ExampleScenario(t *testing.T) {
	h := newHarness(t)

	st := h.at(0).signal(alice, 1)
	assert.Equal(t, uint64(1), st.Streak)
	assert.True(t, st.Alive)

	h.at(day)
	assert.True(t, h.eng.IsAlive(alice))
	h.at(day + 1)
	assert.False(t, h.eng.IsAlive(alice))

	// 25h later, next calendar day.
	st = h.at(90000).signal(alice, 1)
	assert.Equal(t, uint64(2), st.Streak)

	// Day index 2 is the day after the last streak day and 30.5h have
	// passed, so the streak keeps growing.
	st = h.at(200000).signal(alice, 1)
	assert.Equal(t, uint64(3), st.Streak)

	// A gap of two calendar days resets.
	st = h.at(200000 + 2*day).signal(alice, 1)
	assert.Equal(t, uint64(1), st.Streak)
}

func TestSignal_TTLBoundaryInclusive(t *testing.T) {
	h := newHarness(t)
	const t0 = int64(1_700_000_000)
	h.at(t0).signal(alice, 1)

	h.at(t0 + day)
	assert.True(t, h.eng.IsAlive(alice))
	assert.True(t, h.eng.Status(alice).Alive)

	h.at(t0 + day + 1)
	assert.False(t, h.eng.IsAlive(alice))
}

func TestSignal_SameDayRepeatKeepsStreak(t *testing.T) {
	h := newHarness(t)
	base := 10 * day

	h.at(base + hour).signal(alice, 1)
	st := h.at(base + 20*hour).signal(alice, 1)
	assert.Equal(t, uint64(1), st.Streak)
	assert.Equal(t, base+20*hour, st.LastSignalAt)

	rec, ok := h.eng.Record(alice)
	require.True(t, ok)
	assert.Equal(t, uint64(2), rec.CumulativeVolume)
	assert.Equal(t, model.DayIndex(base), rec.LastStreakDay)
}

func TestSignal_DayBoundaryGamingDoesNotIncrement(t *testing.T) {
	h := newHarness(t)
	base := 10 * day

	// Build a streak of 2 first.
	h.at(base - day + 12*hour).signal(alice, 1)
	st := h.at(base + 9*hour).signal(alice, 1)
	require.Equal(t, uint64(2), st.Streak)

	// 23:59 on the same day, then 00:01 on the next.
	h.at(base + day - 60).signal(alice, 1)
	st = h.at(base + day + 60).signal(alice, 1)
	assert.NotEqual(t, uint64(3), st.Streak)
	assert.Equal(t, uint64(1), st.Streak)
}

func TestSignal_TwentyHourFloorIsInclusive(t *testing.T) {
	h := newHarness(t)
	base := 10 * day

	h.at(base + 4*hour).signal(alice, 1)
	st := h.at(base + day).signal(alice, 1)
	assert.Equal(t, uint64(2), st.Streak)
}

func TestSignal_StreakNeverJumps(t *testing.T) {
	h := newHarness(t)
	var prev uint64
	for i := int64(0); i < 40; i++ {
		st := h.at(i*day/2 + 7*hour).signal(alice, 1)
		assert.LessOrEqual(t, st.Streak, prev+1)
		assert.GreaterOrEqual(t, st.Streak, uint64(1))
		prev = st.Streak
	}
}

func TestSignal_AgentIsolation(t *testing.T) {
	h := newHarness(t)
	h.at(100).signal(bob, 5)
	before, _ := h.eng.Record(bob)

	h.at(200).signal(alice, 7)
	h.at(200 + day).signal(alice, 7)

	after, _ := h.eng.Record(bob)
	assert.Equal(t, before, after)
}

func TestSignal_BelowMinimum(t *testing.T) {
	h := newHarness(t, func(g *Genesis) { g.Params.MinSignalAmount = 10 })

	_, err := h.eng.Signal(context.Background(), alice, 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, liveness.ErrBelowMinimumSignal)
	assert.Equal(t, ClassValidation, Classify(err))

	_, known := h.eng.Record(alice)
	assert.False(t, known)
	assert.Equal(t, uint64(1_000_000), h.mem.Balance(alice))
}

func TestSignal_TransfersToSink(t *testing.T) {
	h := newHarness(t)
	h.at(50).signal(alice, 250)

	assert.Equal(t, uint64(1_000_000-250), h.mem.Balance(alice))
	assert.Equal(t, uint64(250), h.mem.Balance(sink))
	assert.Zero(t, h.mem.Balance(feeWallet))
}

func TestSignal_TransferFailureRecordsNothing(t *testing.T) {
	h := newHarness(t)
	poor := model.Address("0x0000000000000000000000000000000000000001")
	require.NoError(t, h.mem.Mint(poor, 3))

	_, err := h.at(10).eng.Signal(context.Background(), poor, 5)
	require.Error(t, err)
	assert.Equal(t, ClassTransfer, Classify(err))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, known := h.eng.Record(poor)
	assert.False(t, known)
	assert.False(t, h.eng.IsAlive(poor))
	assert.Empty(t, h.sink.kinds())
}

func TestSignal_RoutedThroughDistributor(t *testing.T) {
	h := newHarness(t, func(g *Genesis) { g.Params.RouteSignalFees = true })

	h.at(10).signal(alice, 1000)
	assert.Equal(t, uint64(990), h.mem.Balance(sink))
	assert.Equal(t, uint64(10), h.mem.Balance(feeWallet))

	require.Len(t, h.sink.events, 1)
	assert.Equal(t, uint64(10), h.sink.events[0].Fee)
}

func TestSignal_RoutedRejectsUndistributable(t *testing.T) {
	h := newHarness(t, func(g *Genesis) { g.Params.RouteSignalFees = true })

	_, err := h.at(10).eng.Signal(context.Background(), alice, 50)
	require.Error(t, err)
	assert.Equal(t, ClassValidation, Classify(err))
	_, known := h.eng.Record(alice)
	assert.False(t, known)
}

func TestSignal_EmitsEvent(t *testing.T) {
	h := newHarness(t)
	h.at(1234).signal(alice, 3)

	require.Len(t, h.sink.events, 1)
	ev := h.sink.events[0]
	assert.Equal(t, model.EventSignal, ev.Kind)
	assert.Equal(t, alice, ev.Agent)
	assert.Equal(t, uint64(3), ev.Amount)
	assert.Equal(t, int64(1234), ev.Timestamp)
	assert.Equal(t, uint64(1), ev.Streak)
}

func TestSignal_RequiresCaller(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.Signal(context.Background(), "", 1)
	require.Error(t, err)
	assert.Equal(t, ClassAuthorization, Classify(err))
}

func TestPause_ScopesToSignal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.at(100).signal(alice, 1)

	require.NoError(t, h.eng.Pause(ctx, owner))

	for _, agent := range []model.Address{alice, bob} {
		_, err := h.eng.Signal(ctx, agent, 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, liveness.ErrProtocolPaused)
		assert.Equal(t, ClassOperational, Classify(err))
	}

	st := h.eng.Status(alice)
	assert.True(t, st.Alive)
	assert.Equal(t, uint64(1), st.Streak)
	assert.True(t, h.eng.IsAlive(alice))
	require.NoError(t, h.eng.SetTTL(ctx, owner, 3600))
	assert.Equal(t, uint64(3600), h.eng.Params().TTLSeconds)

	require.NoError(t, h.eng.Unpause(ctx, owner))
	h.signal(alice, 1)
}

func TestAdmin_OwnerOnlyAndBounded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.eng.SetTTL(ctx, alice, 100)
	assert.ErrorIs(t, err, params.ErrUnauthorized)
	assert.Equal(t, ClassAuthorization, Classify(err))

	assert.ErrorIs(t, h.eng.SetTTL(ctx, owner, 0), params.ErrInvalidTTL)
	assert.ErrorIs(t, h.eng.SetTTL(ctx, owner, params.MaxTTLSeconds+1), params.ErrInvalidTTL)
	require.NoError(t, h.eng.SetTTL(ctx, owner, params.MaxTTLSeconds))

	assert.ErrorIs(t, h.eng.SetMinSignalAmount(ctx, owner, 0), params.ErrInvalidMinSignalAmount)
	assert.ErrorIs(t, h.eng.SetMinSignalAmount(ctx, owner, 1001), params.ErrInvalidMinSignalAmount)
	require.NoError(t, h.eng.SetMinSignalAmount(ctx, owner, 1000))

	assert.ErrorIs(t, h.eng.Pause(ctx, bob), params.ErrUnauthorized)
	assert.ErrorIs(t, h.eng.SetFeeBps(ctx, bob, 10), params.ErrUnauthorized)
	assert.Error(t, h.eng.SetFeeBps(ctx, owner, 501))
	require.NoError(t, h.eng.SetFeeBps(ctx, owner, 500))
	assert.Equal(t, uint64(500), h.eng.FeeConfig().FeeBps)
}

func TestAdmin_MinSignalTakesEffectImmediately(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.eng.SetMinSignalAmount(context.Background(), owner, 50))

	_, err := h.eng.Signal(context.Background(), alice, 49)
	assert.ErrorIs(t, err, liveness.ErrBelowMinimumSignal)
	h.signal(alice, 50)
}

func TestOwnership_TwoStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.eng.ProposeOwner(ctx, owner, alice))
	assert.Equal(t, alice, h.eng.Params().PendingOwner)

	// Proposer keeps authority; pending party has none yet.
	require.NoError(t, h.eng.SetTTL(ctx, owner, 7200))
	assert.ErrorIs(t, h.eng.SetTTL(ctx, alice, 7200), params.ErrUnauthorized)

	assert.ErrorIs(t, h.eng.AcceptOwnership(ctx, bob), params.ErrUnauthorized)
	require.NoError(t, h.eng.AcceptOwnership(ctx, alice))

	p := h.eng.Params()
	assert.Equal(t, alice, p.Owner)
	assert.Empty(t, p.PendingOwner)
	assert.ErrorIs(t, h.eng.SetTTL(ctx, owner, 7200), params.ErrUnauthorized)
	require.NoError(t, h.eng.SetTTL(ctx, alice, 7200))
}

func TestOwnership_ProposeZeroCancels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.eng.ProposeOwner(ctx, owner, bob))
	require.NoError(t, h.eng.ProposeOwner(ctx, owner, model.ZeroAddress))
	assert.Empty(t, h.eng.Params().PendingOwner)
	assert.ErrorIs(t, h.eng.AcceptOwnership(ctx, bob), params.ErrUnauthorized)
}

func TestHazard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.eng.SetHazard(ctx, alice, bob, 10), params.ErrUnauthorized)
	err := h.eng.SetHazard(ctx, owner, bob, 101)
	assert.ErrorIs(t, err, liveness.ErrInvalidHazardScore)
	assert.Equal(t, ClassValidation, Classify(err))
	assert.ErrorIs(t, h.eng.SetHazard(ctx, owner, bob, -1), liveness.ErrInvalidHazardScore)

	// Unseen agent gets a record but is not alive.
	require.NoError(t, h.at(0).eng.SetHazard(ctx, owner, bob, 100))
	rec, known := h.eng.Record(bob)
	require.True(t, known)
	assert.Equal(t, uint8(100), rec.HazardScore)
	assert.False(t, h.eng.IsAlive(bob))
	assert.Equal(t, uint64(0), h.eng.Status(bob).Streak)

	// Hazard survives signals and does not touch the streak math.
	st := h.signal(bob, 1)
	assert.Equal(t, uint64(1), st.Streak)
	assert.Equal(t, uint8(100), st.HazardScore)
}

func TestStatus_UnknownAgent(t *testing.T) {
	h := newHarness(t)
	st := h.eng.Status(carol)
	assert.Equal(t, model.AgentStatus{Agent: carol}, st)

	v := h.eng.View(carol)
	assert.False(t, v.Known)
	assert.Equal(t, model.TierUnranked, v.Tier)
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.at(0).signal(alice, 1)
	h.at(0).signal(bob, 1)
	h.at(day).signal(alice, 1)
	h.at(day).signal(bob, 1)
	_, err := h.eng.Stake(ctx, alice, 100)
	require.NoError(t, err)
	_, err = h.eng.Attest(ctx, alice, bob, true)
	require.NoError(t, err)
	require.NoError(t, h.eng.SetHazard(ctx, owner, carol, 42))

	snap := h.eng.Snapshot()
	assert.NotEmpty(t, snap.Balances)

	restored, err := Restore(snap,
		WithClock(ClockFunc(func() int64 { return h.now })),
		WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, h.eng.View(alice), restored.View(alice))

	// Restored rate limits still apply.
	_, err = restored.Attest(ctx, alice, bob, true)
	assert.Equal(t, ClassRateLimit, Classify(err))
}

func TestSignal_ConcurrentSameAgent(t *testing.T) {
	h := newHarness(t)
	h.at(5 * day).signal(alice, 1)
	h.at(6*day + 12*hour)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.eng.Signal(context.Background(), alice, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(2), h.eng.Status(alice).Streak)
	rec, _ := h.eng.Record(alice)
	assert.Equal(t, uint64(33), rec.CumulativeVolume)
}

func TestReads_ConcurrentWithWrites(t *testing.T) {
	h := newHarness(t)
	h.at(100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = h.eng.Signal(context.Background(), bob, 1)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				st := h.eng.Status(bob)
				if st.Streak > 0 {
					assert.True(t, st.Alive)
				}
				_ = h.eng.Reliability(bob)
				_ = h.eng.Tier(bob)
			}
		}()
	}
	wg.Wait()
	rec, _ := h.eng.Record(bob)
	assert.Equal(t, uint64(400), rec.CumulativeVolume)
}
