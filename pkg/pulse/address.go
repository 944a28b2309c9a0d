package pulse

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/addr"
)

// ErrEmptyAddress is returned when an address is blank after trimming.
var ErrEmptyAddress = addr.ErrEmpty

// ErrNoAgentAddress is returned when a record carries none of the
// recognized address keys.
var ErrNoAgentAddress = eris.New("pulse: record has no agent address")

// agentAddressKeys are tried in order; the first non-blank string wins.
var agentAddressKeys = []string{"address", "wallet_address", "walletAddress", "agent_address", "agentAddress"}

// NormalizeAddress trims whitespace and lower-cases an agent address. A
// leading 0x (in either case) is kept as a lower-case "0x".
func NormalizeAddress(address string) (string, error) {
	return addr.Normalize(address)
}

// AgentAddress extracts and normalizes the address of a decoded agent
// record. Non-string and blank values are skipped.
func AgentAddress(record map[string]any) (string, error) {
	for _, k := range agentAddressKeys {
		if v, ok := record[k].(string); ok && strings.TrimSpace(v) != "" {
			return addr.Normalize(v)
		}
	}
	return "", eris.Wrapf(ErrNoAgentAddress, "tried %s", strings.Join(agentAddressKeys, ", "))
}
