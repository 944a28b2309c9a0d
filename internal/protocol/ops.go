package protocol

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/pulse-cli/internal/attestation"
	"github.com/sells-group/pulse-cli/internal/feesplit"
	"github.com/sells-group/pulse-cli/internal/model"
)

// Signal records a costed liveness proof for caller. The amount leaves the
// caller's balance for the sink (or is split by the distributor when fee
// routing is on) and the streak advances per the day rules.
func (e *Engine) Signal(ctx context.Context, caller model.Address, amount uint64) (model.AgentStatus, error) {
	if err := checkCaller(caller); err != nil {
		return model.AgentStatus{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	rec, err := e.registry.PrepareSignal(caller, amount, now)
	if err != nil {
		return model.AgentStatus{}, err
	}

	p := e.params.Params()
	var fee uint64
	legs := []model.Transfer{{From: caller, To: p.Sink, Amount: amount}}
	if p.RouteSignalFees {
		var split feesplit.Split
		split, legs, err = e.dist.Plan(caller, amount)
		if err != nil {
			return model.AgentStatus{}, err
		}
		fee = split.Fee
	}
	if err := e.transfer(ctx, legs...); err != nil {
		return model.AgentStatus{}, err
	}
	e.registry.Commit(rec)

	e.emit(model.Event{
		Kind:      model.EventSignal,
		Agent:     caller,
		Amount:    amount,
		Timestamp: now,
		Streak:    rec.Streak,
		Fee:       fee,
	})
	e.log.Debug("protocol: signal accepted",
		zap.String("agent", caller.String()),
		zap.Uint64("amount", amount),
		zap.Uint64("streak", rec.Streak),
	)
	return e.registry.Status(caller, now), nil
}

// Stake locks amount of the caller's balance in the stake vault.
func (e *Engine) Stake(ctx context.Context, caller model.Address, amount uint64) (model.StakePosition, error) {
	if err := checkCaller(caller); err != nil {
		return model.StakePosition{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	pos, err := e.rel.PrepareStake(caller, amount, now)
	if err != nil {
		return model.StakePosition{}, err
	}
	vault := e.params.Params().StakeVault
	if err := e.transfer(ctx, model.Transfer{From: caller, To: vault, Amount: amount}); err != nil {
		return model.StakePosition{}, err
	}
	e.rel.Commit(pos)

	e.emit(model.Event{Kind: model.EventStake, Agent: caller, Amount: amount, Timestamp: now})
	return pos, nil
}

// Unstake releases amount from the caller's stake back to the caller.
func (e *Engine) Unstake(ctx context.Context, caller model.Address, amount uint64) (model.StakePosition, error) {
	if err := checkCaller(caller); err != nil {
		return model.StakePosition{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	pos, err := e.rel.PrepareUnstake(caller, amount)
	if err != nil {
		return model.StakePosition{}, err
	}
	vault := e.params.Params().StakeVault
	if err := e.transfer(ctx, model.Transfer{From: vault, To: caller, Amount: amount}); err != nil {
		return model.StakePosition{}, err
	}
	e.rel.Commit(pos)

	e.emit(model.Event{Kind: model.EventUnstake, Agent: caller, Amount: amount, Timestamp: now})
	return pos, nil
}

// Attest records a vote by caller about subject.
func (e *Engine) Attest(_ context.Context, caller, subject model.Address, positive bool) (attestation.Attestation, error) {
	if err := checkCaller(caller); err != nil {
		return attestation.Attestation{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.att.Attest(caller, subject, positive, e.clock.Now())
	if err != nil {
		return attestation.Attestation{}, err
	}
	e.emit(model.Event{
		Kind:      model.EventAttestation,
		Agent:     caller,
		Subject:   subject,
		Positive:  positive,
		Weight:    a.Weight,
		Timestamp: a.Timestamp,
	})
	return a, nil
}

// Distribute splits amount paid by caller between the sink and the fee
// wallet.
func (e *Engine) Distribute(ctx context.Context, caller model.Address, amount uint64) (feesplit.Split, error) {
	if err := checkCaller(caller); err != nil {
		return feesplit.Split{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	split, legs, err := e.dist.Plan(caller, amount)
	if err != nil {
		return feesplit.Split{}, err
	}
	if err := e.transfer(ctx, legs...); err != nil {
		return feesplit.Split{}, err
	}
	e.emit(model.Event{
		Kind:      model.EventDistribution,
		Agent:     caller,
		Amount:    amount,
		Fee:       split.Fee,
		Timestamp: e.clock.Now(),
	})
	return split, nil
}

// SetHazard assigns an out-of-band hazard score to agent. Owner only.
func (e *Engine) SetHazard(_ context.Context, caller, agent model.Address, score int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.params.RequireOwner(caller); err != nil {
		return err
	}
	if err := e.registry.SetHazard(agent, score); err != nil {
		return err
	}
	e.emit(model.Event{
		Kind:      model.EventHazard,
		Agent:     agent,
		Timestamp: e.clock.Now(),
		Detail:    fmt.Sprintf("hazard_score=%d", score),
	})
	return nil
}

// SetTTL changes the liveness window. Owner only.
func (e *Engine) SetTTL(_ context.Context, caller model.Address, ttl uint64) error {
	return e.admin(caller, fmt.Sprintf("ttl_seconds=%d", ttl), func() error {
		return e.params.SetTTL(caller, ttl)
	})
}

// SetMinSignalAmount changes the minimum signal amount. Owner only.
func (e *Engine) SetMinSignalAmount(_ context.Context, caller model.Address, amount uint64) error {
	return e.admin(caller, fmt.Sprintf("min_signal_amount=%d", amount), func() error {
		return e.params.SetMinSignalAmount(caller, amount)
	})
}

// Pause rejects signals until Unpause. Owner only.
func (e *Engine) Pause(_ context.Context, caller model.Address) error {
	return e.admin(caller, "paused=true", func() error {
		return e.params.SetPaused(caller, true)
	})
}

// Unpause re-enables signals. Owner only.
func (e *Engine) Unpause(_ context.Context, caller model.Address) error {
	return e.admin(caller, "paused=false", func() error {
		return e.params.SetPaused(caller, false)
	})
}

// SetFeeBps changes the distributor fee rate. Owner only.
func (e *Engine) SetFeeBps(_ context.Context, caller model.Address, bps uint64) error {
	return e.admin(caller, fmt.Sprintf("fee_bps=%d", bps), func() error {
		if err := e.params.RequireOwner(caller); err != nil {
			return err
		}
		return e.dist.SetFeeBps(bps)
	})
}

// SetMinBurnAmount changes the minimum distributable amount. Owner only.
func (e *Engine) SetMinBurnAmount(_ context.Context, caller model.Address, amount uint64) error {
	return e.admin(caller, fmt.Sprintf("min_burn_amount=%d", amount), func() error {
		if err := e.params.RequireOwner(caller); err != nil {
			return err
		}
		e.dist.SetMinBurnAmount(amount)
		return nil
	})
}

// ProposeOwner arms candidate as pending owner. Owner only.
func (e *Engine) ProposeOwner(_ context.Context, caller, candidate model.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.params.ProposeOwner(caller, candidate); err != nil {
		return err
	}
	e.emit(model.Event{
		Kind:      model.EventOwnership,
		Agent:     caller,
		Subject:   candidate,
		Timestamp: e.clock.Now(),
		Detail:    "proposed",
	})
	return nil
}

// AcceptOwnership completes a pending transfer. Pending owner only.
func (e *Engine) AcceptOwnership(_ context.Context, caller model.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.params.AcceptOwnership(caller); err != nil {
		return err
	}
	e.emit(model.Event{
		Kind:      model.EventOwnership,
		Agent:     caller,
		Timestamp: e.clock.Now(),
		Detail:    "accepted",
	})
	e.log.Info("protocol: ownership transferred", zap.String("owner", caller.String()))
	return nil
}

func (e *Engine) admin(caller model.Address, detail string, apply func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := apply(); err != nil {
		return err
	}
	e.emit(model.Event{
		Kind:      model.EventParams,
		Agent:     caller,
		Timestamp: e.clock.Now(),
		Detail:    detail,
	})
	e.log.Info("protocol: parameter changed", zap.String("change", detail))
	return nil
}
