// Package ledger provides the in-process payment asset.
package ledger

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/model"
)

var (
	ErrInsufficientBalance = eris.New("insufficient balance")
	ErrInvalidTransfer     = eris.New("invalid transfer")
)

// Memory is a balance map implementing an all-or-nothing multi-leg
// transfer. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	balances map[model.Address]uint64
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[model.Address]uint64)}
}

// Load replaces all balances.
func (m *Memory) Load(balances []model.Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = make(map[model.Address]uint64, len(balances))
	for _, b := range balances {
		m.balances[b.Address] = b.Amount
	}
}

// Mint credits amount to addr out of thin air. It exists for local
// deployments and tests.
func (m *Memory) Mint(addr model.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.balances[addr]
	if cur > math.MaxUint64-amount {
		return eris.Wrapf(ErrInvalidTransfer, "ledger: mint overflows balance of %s", addr)
	}
	m.balances[addr] = cur + amount
	return nil
}

// Balance returns the balance of addr.
func (m *Memory) Balance(addr model.Address) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[addr]
}

// Balances returns all non-zero balances ordered by address.
func (m *Memory) Balances() []model.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Balance, 0, len(m.balances))
	for a, amt := range m.balances {
		if amt > 0 {
			out = append(out, model.Balance{Address: a, Amount: amt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Transfer applies every leg or none of them.
func (m *Memory) Transfer(ctx context.Context, transfers ...model.Transfer) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "ledger: transfer")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[model.Address]uint64)
	get := func(a model.Address) uint64 {
		if v, ok := next[a]; ok {
			return v
		}
		return m.balances[a]
	}
	for _, t := range transfers {
		if t.From == "" || t.To == "" {
			return eris.Wrap(ErrInvalidTransfer, "ledger: empty party")
		}
		from := get(t.From)
		if from < t.Amount {
			return eris.Wrapf(ErrInsufficientBalance, "ledger: %s has %d, needs %d", t.From, from, t.Amount)
		}
		next[t.From] = from - t.Amount
		to := get(t.To)
		if to > math.MaxUint64-t.Amount {
			return eris.Wrapf(ErrInvalidTransfer, "ledger: credit overflows balance of %s", t.To)
		}
		next[t.To] = to + t.Amount
	}
	for a, v := range next {
		m.balances[a] = v
	}
	return nil
}
