package ledger

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pulse-cli/internal/model"
)

var (
	alice = model.Address("0x0000000000000000000000000000000000000a11")
	bob   = model.Address("0x0000000000000000000000000000000000000b0b")
	sink  = model.Address("0x000000000000000000000000000000000000dead")
)

func TestMint(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Mint(alice, 10))
	require.NoError(t, m.Mint(alice, 5))
	assert.Equal(t, uint64(15), m.Balance(alice))

	err := m.Mint(alice, math.MaxUint64)
	assert.ErrorIs(t, err, ErrInvalidTransfer)
	assert.Equal(t, uint64(15), m.Balance(alice))
}

func TestTransfer_MultiLeg(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Mint(alice, 100))

	err := m.Transfer(context.Background(),
		model.Transfer{From: alice, To: sink, Amount: 90},
		model.Transfer{From: alice, To: bob, Amount: 10},
	)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), m.Balance(alice))
	assert.Equal(t, uint64(90), m.Balance(sink))
	assert.Equal(t, uint64(10), m.Balance(bob))
}

func TestTransfer_AllOrNothing(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Mint(alice, 100))

	// The first leg fits but the second overdraws: neither applies.
	err := m.Transfer(context.Background(),
		model.Transfer{From: alice, To: sink, Amount: 90},
		model.Transfer{From: alice, To: bob, Amount: 11},
	)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(100), m.Balance(alice))
	assert.Equal(t, uint64(0), m.Balance(sink))
	assert.Equal(t, uint64(0), m.Balance(bob))
}

func TestTransfer_ChainedLegsSeeEarlierCredits(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Mint(alice, 5))

	err := m.Transfer(context.Background(),
		model.Transfer{From: alice, To: bob, Amount: 5},
		model.Transfer{From: bob, To: sink, Amount: 5},
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), m.Balance(sink))
	assert.Equal(t, uint64(0), m.Balance(bob))
}

func TestTransfer_Rejections(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Mint(alice, 10))
	require.NoError(t, m.Mint(bob, math.MaxUint64))

	err := m.Transfer(context.Background(), model.Transfer{From: alice, To: "", Amount: 1})
	assert.ErrorIs(t, err, ErrInvalidTransfer)

	err = m.Transfer(context.Background(), model.Transfer{From: alice, To: bob, Amount: 1})
	assert.ErrorIs(t, err, ErrInvalidTransfer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.Transfer(ctx, model.Transfer{From: alice, To: sink, Amount: 1})
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, uint64(10), m.Balance(alice))
	assert.Equal(t, uint64(0), m.Balance(sink))
}

func TestLoadBalances(t *testing.T) {
	m := NewMemory()
	m.Load([]model.Balance{
		{Address: sink, Amount: 7},
		{Address: alice, Amount: 3},
		{Address: bob, Amount: 0},
	})

	assert.Equal(t, []model.Balance{
		{Address: alice, Amount: 3},
		{Address: sink, Amount: 7},
	}, m.Balances())
}

func TestTransfer_Concurrent(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Mint(alice, 1000))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Transfer(context.Background(), model.Transfer{From: alice, To: sink, Amount: 30})
		}()
	}
	wg.Wait()

	// 33 transfers fit; the rest fail without side effects.
	assert.Equal(t, uint64(10), m.Balance(alice))
	assert.Equal(t, uint64(990), m.Balance(sink))
}
