package model

import "github.com/rotisserie/eris"

// Tier is a reliability band derived from the reliability score.
type Tier int

const (
	TierUnranked Tier = iota
	TierBronze
	TierSilver
	TierGold
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "bronze"
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	default:
		return "unranked"
	}
}

// MarshalText renders the tier name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name.
func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unranked":
		*t = TierUnranked
	case "bronze":
		*t = TierBronze
	case "silver":
		*t = TierSilver
	case "gold":
		*t = TierGold
	default:
		return eris.Errorf("model: unknown tier %q", string(b))
	}
	return nil
}
