package model

// EventKind identifies what an Event reports.
type EventKind string

const (
	EventSignal       EventKind = "signal"
	EventAttestation  EventKind = "attestation"
	EventStake        EventKind = "stake"
	EventUnstake      EventKind = "unstake"
	EventDistribution EventKind = "distribution"
	EventHazard       EventKind = "hazard"
	EventParams       EventKind = "params"
	EventOwnership    EventKind = "ownership"
)

// Event is the structured record emitted for external indexers after a
// successful mutating operation. Signal events carry Agent, Amount,
// Timestamp and the post-signal Streak.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Agent     Address   `json:"agent"`
	Amount    uint64    `json:"amount,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Streak    uint64    `json:"streak,omitempty"`
	Subject   Address   `json:"subject,omitempty"`
	Positive  bool      `json:"positive,omitempty"`
	Weight    uint64    `json:"weight,omitempty"`
	Fee       uint64    `json:"fee,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}
