package types

// AddressContext is what the network resolver knows about one IP.
type AddressContext struct {
	IP         string `json:"ip"`
	Internal   bool   `json:"internal"`
	Subnet     string `json:"subnet,omitempty"`
	Geo        string `json:"geolocation,omitempty"`
	Reputation string `json:"reputation,omitempty"`
}

// NetworkContext aggregates per-address lookups for an alert.
// IsInternal is true only when every observed address is internal; an
// alert with no addresses at all reports false.
type NetworkContext struct {
	IsInternal bool             `json:"is_internal"`
	Addresses  []AddressContext `json:"addresses,omitempty"`
}

// AssetContext describes the asset referenced by an alert.
type AssetContext struct {
	AssetID     string `json:"asset_id"`
	Criticality string `json:"criticality"`
	Owner       string `json:"owner,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// UserContext describes the user referenced by an alert.
type UserContext struct {
	UserName    string `json:"user_name"`
	Department  string `json:"department,omitempty"`
	Role        string `json:"role,omitempty"`
	RiskProfile string `json:"risk_profile,omitempty"`
}

// EnrichedContext carries whatever the collectors could resolve. A nil
// sub-context means the alert had no matching field or the resolver
// failed; Partial marks the latter so triage can weigh the gap.
type EnrichedContext struct {
	Network *NetworkContext `json:"network,omitempty"`
	Asset   *AssetContext   `json:"asset,omitempty"`
	User    *UserContext    `json:"user,omitempty"`
	Partial bool            `json:"partial,omitempty"`
}
