package types

// Stage payloads carried in envelope data. Each stage embeds its
// predecessor's output so the full record flows forward and consumers
// ignore fields they do not know.

// NormalizedAlert is published to alert.normalized.
type NormalizedAlert struct {
	Alert       Alert  `json:"alert"`
	IOCs        IOCSet `json:"iocs"`
	Fingerprint string `json:"fingerprint"`
	Profile     string `json:"profile,omitempty"`
}

// EnrichedAlert is published to alert.enriched.
type EnrichedAlert struct {
	NormalizedAlert
	Context EnrichedContext `json:"context"`
}

// ContextualizedAlert is published to alert.contextualized.
type ContextualizedAlert struct {
	EnrichedAlert
	Intel IntelSummary `json:"intel"`
}

// TriageOutcome is published to alert.result for downstream systems.
type TriageOutcome struct {
	AlertID string       `json:"alert_id"`
	Result  TriageResult `json:"result"`
}
