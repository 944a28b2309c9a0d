// Package attestation records peer reputation votes between live agents.
//
// Votes are weighted by the attestor's reliability, so many fresh,
// unstaked identities cannot outweigh a few long-lived ones. Each attestor
// may issue MaxPerEpoch votes per day-aligned epoch and at most one per
// subject per epoch. Epoch records are kept after their epoch ends but are
// never consulted again.
package attestation

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/model"
)

// MaxPerEpoch caps attestations issued by one attestor in one epoch.
const MaxPerEpoch = 10

var (
	ErrSelfAttestation        = eris.New("self attestation not allowed")
	ErrAttestorNotRegistered  = eris.New("attestor not registered")
	ErrSubjectNotRegistered   = eris.New("subject not registered")
	ErrMaxAttestationsReached = eris.New("max attestations reached")
	ErrDuplicatePair          = eris.New("duplicate pair this epoch")
)

// Liveness reports whether an agent is currently alive.
type Liveness interface {
	IsAlive(agent model.Address, now int64) bool
}

// Weigher returns the current reliability of an agent.
type Weigher interface {
	Reliability(agent model.Address, now int64) uint64
}

// Attestation is one recorded vote.
type Attestation struct {
	Attestor  model.Address `json:"attestor"`
	Subject   model.Address `json:"subject"`
	Positive  bool          `json:"positive"`
	Weight    uint64        `json:"weight"`
	Epoch     int64         `json:"epoch"`
	Timestamp int64         `json:"timestamp"`
}

type epochKey struct {
	attestor model.Address
	epoch    int64
}

type pairKey struct {
	attestor model.Address
	subject  model.Address
	epoch    int64
}

// Ledger owns epoch counters, pair markers and tallies. It is not safe for
// concurrent use; the protocol engine serializes access to it.
type Ledger struct {
	live    Liveness
	weigh   Weigher
	counts  map[epochKey]uint8
	pairs   map[pairKey]struct{}
	tallies map[model.Address]model.Tally
}

// New returns an empty ledger.
func New(live Liveness, weigh Weigher) *Ledger {
	return &Ledger{
		live:    live,
		weigh:   weigh,
		counts:  make(map[epochKey]uint8),
		pairs:   make(map[pairKey]struct{}),
		tallies: make(map[model.Address]model.Tally),
	}
}

// Epoch returns the attestation epoch containing ts.
func Epoch(ts int64) int64 {
	return model.DayIndex(ts)
}

// Check runs the preconditions of Attest in order without recording
// anything.
func (l *Ledger) Check(attestor, subject model.Address, now int64) error {
	if attestor == subject {
		return eris.Wrapf(ErrSelfAttestation, "attestation: %s attesting itself", attestor)
	}
	if !l.live.IsAlive(attestor, now) {
		return eris.Wrapf(ErrAttestorNotRegistered, "attestation: attestor %s is not alive", attestor)
	}
	if !l.live.IsAlive(subject, now) {
		return eris.Wrapf(ErrSubjectNotRegistered, "attestation: subject %s is not alive", subject)
	}
	epoch := Epoch(now)
	if l.counts[epochKey{attestor, epoch}] >= MaxPerEpoch {
		return eris.Wrapf(ErrMaxAttestationsReached, "attestation: %s used %d attestations in epoch %d",
			attestor, MaxPerEpoch, epoch)
	}
	if _, used := l.pairs[pairKey{attestor, subject, epoch}]; used {
		return eris.Wrapf(ErrDuplicatePair, "attestation: %s already attested %s in epoch %d",
			attestor, subject, epoch)
	}
	return nil
}

// Attest records a vote by attestor about subject, weighted by the
// attestor's reliability at now.
func (l *Ledger) Attest(attestor, subject model.Address, positive bool, now int64) (Attestation, error) {
	if err := l.Check(attestor, subject, now); err != nil {
		return Attestation{}, err
	}
	epoch := Epoch(now)
	weight := l.weigh.Reliability(attestor, now)

	t := l.Tally(subject)
	if positive {
		t.PositiveWeight = addSat(t.PositiveWeight, weight)
	} else {
		t.NegativeWeight = addSat(t.NegativeWeight, weight)
	}
	l.tallies[subject] = t
	l.counts[epochKey{attestor, epoch}]++
	l.pairs[pairKey{attestor, subject, epoch}] = struct{}{}

	return Attestation{
		Attestor:  attestor,
		Subject:   subject,
		Positive:  positive,
		Weight:    weight,
		Epoch:     epoch,
		Timestamp: now,
	}, nil
}

// Tally returns the cumulative weights recorded about subject.
func (l *Ledger) Tally(subject model.Address) model.Tally {
	t, ok := l.tallies[subject]
	if !ok {
		return model.Tally{Subject: subject}
	}
	return t
}

// Count returns how many attestations attestor issued in epoch.
func (l *Ledger) Count(attestor model.Address, epoch int64) int {
	return int(l.counts[epochKey{attestor, epoch}])
}

// PairUsed reports whether attestor attested subject in epoch.
func (l *Ledger) PairUsed(attestor, subject model.Address, epoch int64) bool {
	_, ok := l.pairs[pairKey{attestor, subject, epoch}]
	return ok
}

// Load replaces the ledger contents.
func (l *Ledger) Load(counts []model.EpochCount, pairs []model.PairUse, tallies []model.Tally) {
	l.counts = make(map[epochKey]uint8, len(counts))
	for _, c := range counts {
		l.counts[epochKey{c.Attestor, c.Epoch}] = c.Count
	}
	l.pairs = make(map[pairKey]struct{}, len(pairs))
	for _, p := range pairs {
		l.pairs[pairKey{p.Attestor, p.Subject, p.Epoch}] = struct{}{}
	}
	l.tallies = make(map[model.Address]model.Tally, len(tallies))
	for _, t := range tallies {
		l.tallies[t.Subject] = t
	}
}

// Export returns the ledger contents in a stable order.
func (l *Ledger) Export() ([]model.EpochCount, []model.PairUse, []model.Tally) {
	counts := make([]model.EpochCount, 0, len(l.counts))
	for k, n := range l.counts {
		counts = append(counts, model.EpochCount{Attestor: k.attestor, Epoch: k.epoch, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Epoch != counts[j].Epoch {
			return counts[i].Epoch < counts[j].Epoch
		}
		return counts[i].Attestor < counts[j].Attestor
	})

	pairs := make([]model.PairUse, 0, len(l.pairs))
	for k := range l.pairs {
		pairs = append(pairs, model.PairUse{Attestor: k.attestor, Subject: k.subject, Epoch: k.epoch})
	}
	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.Epoch != b.Epoch {
			return a.Epoch < b.Epoch
		}
		if a.Attestor != b.Attestor {
			return a.Attestor < b.Attestor
		}
		return a.Subject < b.Subject
	})

	tallies := make([]model.Tally, 0, len(l.tallies))
	for _, t := range l.tallies {
		tallies = append(tallies, t)
	}
	sort.Slice(tallies, func(i, j int) bool { return tallies[i].Subject < tallies[j].Subject })

	return counts, pairs, tallies
}

func addSat(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return ^uint64(0)
}
