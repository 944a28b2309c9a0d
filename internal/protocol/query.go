package protocol

import (
	"github.com/sells-group/pulse-cli/internal/model"
	"github.com/sells-group/pulse-cli/internal/reliability"
)

// IsAlive reports whether agent signaled within the TTL window.
func (e *Engine) IsAlive(agent model.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.IsAlive(agent, e.clock.Now())
}

// Status returns the liveness view of agent. It is served while paused.
func (e *Engine) Status(agent model.Address) model.AgentStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Status(agent, e.clock.Now())
}

// Reliability returns the composite reliability score of agent.
func (e *Engine) Reliability(agent model.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rel.Reliability(agent, e.clock.Now())
}

// Score itemizes the reliability score of agent.
func (e *Engine) Score(agent model.Address) reliability.Breakdown {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rel.Score(agent, e.clock.Now())
}

// Tier returns the reliability tier of agent.
func (e *Engine) Tier(agent model.Address) model.Tier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rel.Tier(agent, e.clock.Now())
}

// Tally returns the attestation weights recorded about subject.
func (e *Engine) Tally(subject model.Address) model.Tally {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.att.Tally(subject)
}

// AttestationCount returns how many attestations attestor issued in epoch.
func (e *Engine) AttestationCount(attestor model.Address, epoch int64) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.att.Count(attestor, epoch)
}

// PairUsed reports whether attestor attested subject in epoch.
func (e *Engine) PairUsed(attestor, subject model.Address, epoch int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.att.PairUsed(attestor, subject, epoch)
}

// Record returns the stored liveness record of agent and whether one exists.
func (e *Engine) Record(agent model.Address) (model.AgentRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Record(agent)
}

// View joins everything known about agent at one instant.
func (e *Engine) View(agent model.Address) model.AgentView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.clock.Now()
	rec, known := e.registry.Record(agent)
	if !known {
		rec.Agent = agent
	}
	score := e.rel.Reliability(agent, now)
	return model.AgentView{
		Record:      rec,
		Stake:       e.rel.Position(agent),
		Alive:       e.registry.IsAlive(agent, now),
		Reliability: score,
		Tier:        e.rel.TierFor(score),
		Tally:       e.att.Tally(agent),
		Known:       known,
	}
}

// Params returns the protocol configuration.
func (e *Engine) Params() model.ProtocolParams {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.Params()
}

// FeeConfig returns the distributor configuration.
func (e *Engine) FeeConfig() model.FeeConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dist.Config()
}

// ReliabilityConfig returns the reliability constants.
func (e *Engine) ReliabilityConfig() reliability.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rel.Config()
}
