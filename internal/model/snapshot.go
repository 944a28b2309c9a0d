package model

// ProtocolParams is the mutable protocol configuration plus the fixed
// registry destinations.
type ProtocolParams struct {
	Owner           Address `json:"owner" yaml:"owner"`
	PendingOwner    Address `json:"pending_owner,omitempty" yaml:"pending_owner,omitempty"`
	TTLSeconds      uint64  `json:"ttl_seconds" yaml:"ttl_seconds"`
	MinSignalAmount uint64  `json:"min_signal_amount" yaml:"min_signal_amount"`
	Paused          bool    `json:"paused" yaml:"paused"`
	AssetDecimals   uint8   `json:"asset_decimals" yaml:"asset_decimals"`
	Sink            Address `json:"sink" yaml:"sink"`
	StakeVault      Address `json:"stake_vault" yaml:"stake_vault"`
	RouteSignalFees bool    `json:"route_signal_fees" yaml:"route_signal_fees"`
}

// FeeConfig configures the fee-split distributor. FeeWallet and Sink never
// change after construction.
type FeeConfig struct {
	FeeBps        uint64  `json:"fee_bps" yaml:"fee_bps"`
	MinBurnAmount uint64  `json:"min_burn_amount" yaml:"min_burn_amount"`
	FeeWallet     Address `json:"fee_wallet" yaml:"fee_wallet"`
	Sink          Address `json:"sink" yaml:"sink"`
}

// Transfer is one leg of a payment-asset movement.
type Transfer struct {
	From   Address `json:"from"`
	To     Address `json:"to"`
	Amount uint64  `json:"amount"`
}

// Balance is a payment-asset balance.
type Balance struct {
	Address Address `json:"address"`
	Amount  uint64  `json:"amount"`
}

// Snapshot is the complete persisted protocol state.
type Snapshot struct {
	Params      ProtocolParams  `json:"params"`
	Fees        FeeConfig       `json:"fees"`
	Agents      []AgentRecord   `json:"agents"`
	Stakes      []StakePosition `json:"stakes"`
	EpochCounts []EpochCount    `json:"epoch_counts"`
	PairUses    []PairUse       `json:"pair_uses"`
	Tallies     []Tally         `json:"tallies"`
	Balances    []Balance       `json:"balances"`
}
