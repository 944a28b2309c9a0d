// Package params holds the tunable protocol configuration and its owner.
//
// A Store is not safe for concurrent use; the protocol engine serializes
// access to it.
package params

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/model"
)

const (
	// MaxTTLSeconds bounds the liveness window (30 days).
	MaxTTLSeconds uint64 = 30 * 86400
	// MaxMinSignalTokens bounds the minimum signal amount, in whole tokens.
	MaxMinSignalTokens uint64 = 1000
	// MaxAssetDecimals keeps 1000 tokens well inside uint64.
	MaxAssetDecimals uint8 = 12
)

var (
	ErrUnauthorized           = eris.New("unauthorized owner action")
	ErrInvalidTTL             = eris.New("invalid ttl")
	ErrInvalidMinSignalAmount = eris.New("invalid min signal amount")
	ErrInvalidAssetDecimals   = eris.New("invalid asset decimals")
	ErrInvalidAddress         = eris.New("invalid address")
)

// Store owns the protocol configuration and two-step ownership state.
type Store struct {
	p    model.ProtocolParams
	unit uint64
}

// New validates p and returns a Store seeded with it.
func New(p model.ProtocolParams) (*Store, error) {
	if p.AssetDecimals > MaxAssetDecimals {
		return nil, eris.Wrapf(ErrInvalidAssetDecimals, "params: decimals %d > %d", p.AssetDecimals, MaxAssetDecimals)
	}
	if p.Owner.IsZero() {
		return nil, eris.Wrap(ErrInvalidAddress, "params: owner is zero")
	}
	if p.Sink.IsZero() {
		return nil, eris.Wrap(ErrInvalidAddress, "params: sink is zero")
	}
	if p.StakeVault.IsZero() {
		return nil, eris.Wrap(ErrInvalidAddress, "params: stake vault is zero")
	}
	if p.PendingOwner.IsZero() {
		p.PendingOwner = ""
	}
	s := &Store{p: p, unit: TokenUnit(p.AssetDecimals)}
	if err := s.checkTTL(p.TTLSeconds); err != nil {
		return nil, err
	}
	if err := s.checkMinSignal(p.MinSignalAmount); err != nil {
		return nil, err
	}
	return s, nil
}

// TokenUnit returns the number of base units in one whole token.
func TokenUnit(decimals uint8) uint64 {
	u := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		u *= 10
	}
	return u
}

// Params returns a copy of the current configuration.
func (s *Store) Params() model.ProtocolParams {
	return s.p
}

func (s *Store) TTLSeconds() uint64      { return s.p.TTLSeconds }
func (s *Store) MinSignalAmount() uint64 { return s.p.MinSignalAmount }
func (s *Store) Paused() bool            { return s.p.Paused }
func (s *Store) Owner() model.Address    { return s.p.Owner }
func (s *Store) Unit() uint64            { return s.unit }

// MaxMinSignal is MaxMinSignalTokens expressed in base units.
func (s *Store) MaxMinSignal() uint64 {
	return MaxMinSignalTokens * s.unit
}

// RequireOwner rejects any caller other than the current owner. A pending
// owner has no authority until it accepts.
func (s *Store) RequireOwner(caller model.Address) error {
	if caller == "" || caller != s.p.Owner {
		return eris.Wrapf(ErrUnauthorized, "params: %s is not the owner", caller)
	}
	return nil
}

// SetTTL changes the liveness window.
func (s *Store) SetTTL(caller model.Address, ttl uint64) error {
	if err := s.RequireOwner(caller); err != nil {
		return err
	}
	if err := s.checkTTL(ttl); err != nil {
		return err
	}
	s.p.TTLSeconds = ttl
	return nil
}

// SetMinSignalAmount changes the minimum accepted signal amount.
func (s *Store) SetMinSignalAmount(caller model.Address, amount uint64) error {
	if err := s.RequireOwner(caller); err != nil {
		return err
	}
	if err := s.checkMinSignal(amount); err != nil {
		return err
	}
	s.p.MinSignalAmount = amount
	return nil
}

// SetPaused flips the signal circuit breaker.
func (s *Store) SetPaused(caller model.Address, paused bool) error {
	if err := s.RequireOwner(caller); err != nil {
		return err
	}
	s.p.Paused = paused
	return nil
}

// ProposeOwner arms candidate as the pending owner. Proposing the zero
// address withdraws a pending proposal. The current owner keeps full
// authority until the candidate accepts.
func (s *Store) ProposeOwner(caller, candidate model.Address) error {
	if err := s.RequireOwner(caller); err != nil {
		return err
	}
	if candidate.IsZero() {
		s.p.PendingOwner = ""
		return nil
	}
	s.p.PendingOwner = candidate
	return nil
}

// AcceptOwnership completes a transfer started by ProposeOwner.
func (s *Store) AcceptOwnership(caller model.Address) error {
	if s.p.PendingOwner == "" || caller != s.p.PendingOwner {
		return eris.Wrapf(ErrUnauthorized, "params: %s is not the pending owner", caller)
	}
	s.p.Owner = caller
	s.p.PendingOwner = ""
	return nil
}

func (s *Store) checkTTL(ttl uint64) error {
	if ttl < 1 || ttl > MaxTTLSeconds {
		return eris.Wrapf(ErrInvalidTTL, "params: ttl %d outside [1, %d]", ttl, MaxTTLSeconds)
	}
	return nil
}

func (s *Store) checkMinSignal(amount uint64) error {
	if amount < 1 || amount > s.MaxMinSignal() {
		return eris.Wrapf(ErrInvalidMinSignalAmount, "params: min signal %d outside [1, %d]", amount, s.MaxMinSignal())
	}
	return nil
}
