package types

import "time"

// ActionPriority orders recommended actions for the analyst queue.
type ActionPriority string

const (
	PriorityImmediate ActionPriority = "immediate"
	PriorityHigh      ActionPriority = "high"
	PriorityMedium    ActionPriority = "medium"
	PriorityLow       ActionPriority = "low"
)

func (p ActionPriority) Valid() bool {
	switch p {
	case PriorityImmediate, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// RecommendedAction is one concrete step the triage suggests.
type RecommendedAction struct {
	Action    string         `json:"action"`
	Priority  ActionPriority `json:"priority"`
	Rationale string         `json:"rationale,omitempty"`
}

// TriageResult is the pipeline's terminal verdict for an alert.
// Fallback marks results produced by the rule-based path after the
// model budget was exhausted.
type TriageResult struct {
	AlertID    string              `json:"alert_id"`
	RiskScore  float64             `json:"risk_score"`
	RiskLevel  Severity            `json:"risk_level"`
	Confidence float64             `json:"confidence"`
	Actions    []RecommendedAction `json:"recommended_actions,omitempty"`
	Narrative  string              `json:"narrative"`
	ModelUsed  string              `json:"model_used,omitempty"`
	LatencyMS  int64               `json:"latency_ms,omitempty"`
	Attempts   int                 `json:"attempts,omitempty"`
	Fallback   bool                `json:"fallback"`
	CreatedAt  time.Time           `json:"created_at,omitzero"`
}

// LevelForScore maps a 0-100 risk score onto its band. Results always
// carry the band implied by their score; a model answer that disagrees
// is overridden.
func LevelForScore(score float64) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	case score >= 20:
		return SeverityLow
	default:
		return SeverityInfo
	}
}
