package triage

import (
	"fmt"

	"github.com/argus-sec/argus/pkg/types"
)

// severityFloor is the rule-based risk score implied by the reported
// severity alone, before threat intel weighs in.
var severityFloor = map[types.Severity]float64{
	types.SeverityCritical: 85,
	types.SeverityHigh:     65,
	types.SeverityMedium:   45,
	types.SeverityLow:      25,
	types.SeverityInfo:     10,
}

// FallbackResult derives a verdict without a model: the score is the
// worse of the severity floor and the aggregated threat score, so a hot
// indicator escalates a mild alert but never the reverse. Confidence is
// fixed low and the result is flagged so analysts know no model saw it.
func FallbackResult(in types.ContextualizedAlert) types.TriageResult {
	alert := in.Alert
	intel := in.Intel

	score := severityFloor[alert.Severity]
	if intel.ThreatScore > score {
		score = intel.ThreatScore
	}
	level := types.LevelForScore(score)

	result := types.TriageResult{
		AlertID:    alert.AlertID,
		RiskScore:  score,
		RiskLevel:  level,
		Confidence: 0.3,
		Narrative:  fallbackNarrative(in, score),
		Fallback:   true,
	}

	escalate := types.RecommendedAction{
		Action:    "Escalate to an analyst for manual review",
		Priority:  types.PriorityMedium,
		Rationale: "automated analysis was unavailable for this alert",
	}
	switch level {
	case types.SeverityCritical:
		escalate.Priority = types.PriorityImmediate
	case types.SeverityHigh:
		escalate.Priority = types.PriorityHigh
	}
	result.Actions = append(result.Actions, escalate)

	if intel.WorstVerdict == types.VerdictMalicious {
		result.Actions = append(result.Actions, types.RecommendedAction{
			Action:    "Contain the affected host or account pending review",
			Priority:  types.PriorityImmediate,
			Rationale: "threat intelligence confirmed a malicious indicator",
		})
	}
	return result
}

func fallbackNarrative(in types.ContextualizedAlert, score float64) string {
	n := fmt.Sprintf(
		"Rule-based assessment (no model available): reported severity %s, aggregated threat score %.0f/100, worst intel verdict %s.",
		in.Alert.Severity, in.Intel.ThreatScore, in.Intel.WorstVerdict)
	if net := in.Context.Network; net != nil && net.IsInternal {
		n += " All observed addresses are internal."
	}
	if asset := in.Context.Asset; asset != nil && asset.Criticality != "" {
		n += fmt.Sprintf(" Asset criticality: %s.", asset.Criticality)
	}
	n += fmt.Sprintf(" Derived risk score %.0f.", score)
	return n
}
