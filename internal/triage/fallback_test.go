package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-sec/argus/pkg/types"
)

func contextualized(alert types.Alert) types.ContextualizedAlert {
	return types.ContextualizedAlert{
		EnrichedAlert: types.EnrichedAlert{
			NormalizedAlert: types.NormalizedAlert{Alert: alert},
		},
	}
}

func TestFallbackResult_SeverityFloor(t *testing.T) {
	in := contextualized(types.Alert{AlertID: "ALT-400", Severity: types.SeverityMedium})

	result := FallbackResult(in)

	assert.True(t, result.Fallback)
	assert.InDelta(t, 45, result.RiskScore, 0.001)
	assert.Equal(t, types.SeverityMedium, result.RiskLevel)
	assert.InDelta(t, 0.3, result.Confidence, 0.001)
	assert.Empty(t, result.ModelUsed)

	require.Len(t, result.Actions, 1)
	assert.Equal(t, types.PriorityMedium, result.Actions[0].Priority)
}

func TestFallbackResult_ThreatScoreEscalates(t *testing.T) {
	in := contextualized(types.Alert{AlertID: "ALT-401", Severity: types.SeverityHigh})
	in.Intel = types.IntelSummary{ThreatScore: 95, WorstVerdict: types.VerdictMalicious}

	result := FallbackResult(in)

	assert.InDelta(t, 95, result.RiskScore, 0.001)
	assert.Equal(t, types.SeverityCritical, result.RiskLevel)

	// A confirmed malicious indicator adds containment at immediate
	// priority even without a model.
	var immediate bool
	for _, a := range result.Actions {
		if a.Priority == types.PriorityImmediate {
			immediate = true
		}
	}
	assert.True(t, immediate)
	assert.Len(t, result.Actions, 2)
}

func TestFallbackResult_SeverityFloorNeverLowered(t *testing.T) {
	in := contextualized(types.Alert{AlertID: "ALT-402", Severity: types.SeverityCritical})
	in.Intel = types.IntelSummary{ThreatScore: 2, WorstVerdict: types.VerdictClean}

	result := FallbackResult(in)
	assert.InDelta(t, 85, result.RiskScore, 0.001)
	assert.Equal(t, types.SeverityCritical, result.RiskLevel)
}

func TestFallbackResult_NarrativeMentionsInternalOrigin(t *testing.T) {
	in := contextualized(types.Alert{AlertID: "ALT-403", Severity: types.SeverityMedium})
	in.Context = types.EnrichedContext{
		Network: &types.NetworkContext{IsInternal: true},
		Asset:   &types.AssetContext{AssetID: "SRV-01", Criticality: "high"},
	}

	result := FallbackResult(in)

	assert.Contains(t, result.Narrative, "internal")
	assert.Contains(t, result.Narrative, "criticality: high")
	assert.Contains(t, result.Narrative, "Rule-based assessment")
}

func TestFallbackResult_UnknownSeverityScoresZero(t *testing.T) {
	in := contextualized(types.Alert{AlertID: "ALT-404"})
	in.Intel = types.IntelSummary{ThreatScore: 30, WorstVerdict: types.VerdictSuspicious}

	result := FallbackResult(in)
	assert.InDelta(t, 30, result.RiskScore, 0.001)
	assert.Equal(t, types.SeverityLow, result.RiskLevel)
}
