package model

// EpochCount is the number of attestations an attestor issued in one epoch.
type EpochCount struct {
	Attestor Address `json:"attestor"`
	Epoch    int64   `json:"epoch"`
	Count    uint8   `json:"count"`
}

// PairUse records that attestor already attested subject during epoch.
type PairUse struct {
	Attestor Address `json:"attestor"`
	Subject  Address `json:"subject"`
	Epoch    int64   `json:"epoch"`
}

// Tally holds the cumulative attestor weight recorded about a subject.
// Weights only ever grow.
type Tally struct {
	Subject        Address `json:"subject"`
	PositiveWeight uint64  `json:"positive_weight"`
	NegativeWeight uint64  `json:"negative_weight"`
}
