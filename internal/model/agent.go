package model

// SecondsPerDay is the length of a streak day and of an attestation epoch.
const SecondsPerDay int64 = 86400

// DayIndex returns the calendar-day bucket of a unix timestamp.
func DayIndex(ts int64) int64 {
	return ts / SecondsPerDay
}

// AgentRecord is the liveness state of one agent. Records are created on
// the first accepted signal (or hazard assignment) and never deleted.
type AgentRecord struct {
	Agent            Address `json:"agent"`
	LastSignalAt     int64   `json:"last_signal_at"`
	Streak           uint64  `json:"streak"`
	LastStreakDay    int64   `json:"last_streak_day"`
	HazardScore      uint8   `json:"hazard_score"`
	CumulativeVolume uint64  `json:"cumulative_volume"`
}

// HasSignaled reports whether the agent ever had a signal accepted.
// Every accepted signal leaves Streak >= 1.
func (r AgentRecord) HasSignaled() bool {
	return r.Streak > 0
}

// StakePosition is an agent's locked balance and when it began accruing
// duration.
type StakePosition struct {
	Agent     Address `json:"agent"`
	Amount    uint64  `json:"amount"`
	StartedAt int64   `json:"started_at"`
}

// AgentStatus is the liveness query result.
type AgentStatus struct {
	Agent        Address `json:"agent"`
	Alive        bool    `json:"alive"`
	LastSignalAt int64   `json:"last_signal_at"`
	Streak       uint64  `json:"streak"`
	HazardScore  uint8   `json:"hazard_score"`
}

// AgentView joins everything known about one agent for read-side callers.
type AgentView struct {
	Record      AgentRecord   `json:"record"`
	Stake       StakePosition `json:"stake"`
	Alive       bool          `json:"alive"`
	Reliability uint64        `json:"reliability"`
	Tier        Tier          `json:"tier"`
	Tally       Tally         `json:"tally"`
	Known       bool          `json:"known"`
}
