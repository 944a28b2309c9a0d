// Package feesplit divides an inbound payment between the burn sink and the
// fee wallet under a bounded fee rate.
package feesplit

import (
	"math/bits"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/model"
)

const (
	// MaxFeeBps is the hard ceiling on the fee rate (5%).
	MaxFeeBps uint64 = 500
	// DefaultFeeBps is 1%.
	DefaultFeeBps uint64 = 100

	bpsDenominator uint64 = 10_000
)

var (
	ErrFeeRoundsToZero    = eris.New("fee rounds to zero")
	ErrBelowMinimumBurn   = eris.New("below minimum burn amount")
	ErrInvalidFeeBps      = eris.New("invalid fee bps")
	ErrInvalidDestination = eris.New("invalid fee destination")
)

// Split is the result of dividing an amount.
type Split struct {
	Amount uint64 `json:"amount"`
	Burn   uint64 `json:"burn"`
	Fee    uint64 `json:"fee"`
}

// Distributor holds the fee configuration. The sink and fee wallet are
// fixed at construction.
type Distributor struct {
	cfg model.FeeConfig
}

// New validates cfg and returns a Distributor.
func New(cfg model.FeeConfig) (*Distributor, error) {
	if cfg.Sink.IsZero() {
		return nil, eris.Wrap(ErrInvalidDestination, "feesplit: sink is zero")
	}
	if cfg.FeeWallet.IsZero() {
		return nil, eris.Wrap(ErrInvalidDestination, "feesplit: fee wallet is zero")
	}
	if err := checkBps(cfg.FeeBps); err != nil {
		return nil, err
	}
	return &Distributor{cfg: cfg}, nil
}

// Config returns the current fee configuration.
func (d *Distributor) Config() model.FeeConfig {
	return d.cfg
}

// FeeFor returns floor(amount * bps / 10000) without intermediate overflow.
func FeeFor(amount, bps uint64) uint64 {
	hi, lo := bits.Mul64(amount, bps)
	q, _ := bits.Div64(hi, lo, bpsDenominator)
	return q
}

// Split divides amount. It rejects amounts under the minimum burn and
// amounts whose fee would round to zero.
func (d *Distributor) Split(amount uint64) (Split, error) {
	if amount < d.cfg.MinBurnAmount {
		return Split{}, eris.Wrapf(ErrBelowMinimumBurn, "feesplit: amount %d < minimum %d", amount, d.cfg.MinBurnAmount)
	}
	fee := FeeFor(amount, d.cfg.FeeBps)
	if fee == 0 {
		return Split{}, eris.Wrapf(ErrFeeRoundsToZero, "feesplit: amount %d at %d bps", amount, d.cfg.FeeBps)
	}
	return Split{Amount: amount, Burn: amount - fee, Fee: fee}, nil
}

// Plan returns the split of amount paid by from and the two transfer legs
// that carry it out. The legs must be applied together or not at all.
func (d *Distributor) Plan(from model.Address, amount uint64) (Split, []model.Transfer, error) {
	s, err := d.Split(amount)
	if err != nil {
		return Split{}, nil, err
	}
	legs := []model.Transfer{
		{From: from, To: d.cfg.Sink, Amount: s.Burn},
		{From: from, To: d.cfg.FeeWallet, Amount: s.Fee},
	}
	return s, legs, nil
}

// SetFeeBps changes the fee rate. Ownership is checked by the caller.
func (d *Distributor) SetFeeBps(bps uint64) error {
	if err := checkBps(bps); err != nil {
		return err
	}
	d.cfg.FeeBps = bps
	return nil
}

// SetMinBurnAmount changes the minimum distributable amount.
func (d *Distributor) SetMinBurnAmount(amount uint64) {
	d.cfg.MinBurnAmount = amount
}

func checkBps(bps uint64) error {
	if bps > MaxFeeBps {
		return eris.Wrapf(ErrInvalidFeeBps, "feesplit: fee %d bps > %d", bps, MaxFeeBps)
	}
	return nil
}
