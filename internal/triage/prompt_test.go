package triage

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/argus-sec/argus/internal/vector"
	"github.com/argus-sec/argus/pkg/types"
)

func fullyContextualized() types.ContextualizedAlert {
	in := contextualized(types.Alert{
		AlertID:       "ALT-410",
		AlertType:     types.AlertTypeMalware,
		Severity:      types.SeverityHigh,
		Title:         "EDR detection",
		Description:   "Beaconing to a known C2 endpoint",
		SourceIP:      "203.0.113.66",
		DestinationIP: "10.0.0.20",
		FileHash:      "5d41402abc4b2a76b9719d911017c592",
		AssetID:       "SRV-PROD-001",
		UserName:      "jdoe",
	})
	in.Context = types.EnrichedContext{
		Network: &types.NetworkContext{
			IsInternal: false,
			Addresses: []types.AddressContext{
				{IP: "203.0.113.66", Internal: false, Reputation: "unknown"},
				{IP: "10.0.0.20", Internal: true, Subnet: "10.0.0.0/24", Reputation: "internal"},
			},
		},
		Asset: &types.AssetContext{AssetID: "SRV-PROD-001", Criticality: "high", Environment: "production"},
		User:  &types.UserContext{UserName: "jdoe", Role: "user", Department: "finance"},
	}
	in.Intel = types.IntelSummary{
		Assessments: []types.IOCAssessment{{
			IOCType:   types.IOCTypeHash,
			IOCValue:  "5d41402abc4b2a76b9719d911017c592",
			Verdict:   types.VerdictMalicious,
			Score:     95,
			Providers: []string{"local"},
			Evidence:  []string{"local: known malware dropper hash"},
		}},
		ThreatScore:  95,
		WorstVerdict: types.VerdictMalicious,
	}
	return in
}

func TestBuildPrompt_CarriesAllSections(t *testing.T) {
	system, user := BuildPrompt(fullyContextualized(), nil)

	assert.Contains(t, system, "SOC analyst")
	assert.Contains(t, system, "single JSON object")

	assert.Contains(t, user, "## Alert")
	assert.Contains(t, user, "- ID: ALT-410")
	assert.Contains(t, user, "- Type: malware")
	assert.Contains(t, user, "- File hash: 5d41402abc4b2a76b9719d911017c592")

	assert.Contains(t, user, "## Organizational context")
	assert.Contains(t, user, "traffic crosses the perimeter")
	assert.Contains(t, user, "10.0.0.20: internal, subnet 10.0.0.0/24")
	assert.Contains(t, user, "Asset SRV-PROD-001: criticality high, environment production")
	assert.Contains(t, user, "User jdoe: role user, department finance")

	assert.Contains(t, user, "## Threat intelligence")
	assert.Contains(t, user, "Aggregated threat score: 95/100, worst verdict: malicious")
	assert.Contains(t, user, "local: known malware dropper hash")

	assert.Contains(t, user, "## Required response")
	assert.Contains(t, user, `"risk_score"`)
	assert.Contains(t, user, ">=80 critical")

	assert.Contains(t, user, "## Focus for malware alerts")
	assert.Contains(t, user, "host isolation")
}

func TestBuildPrompt_InternalOnlyNetwork(t *testing.T) {
	in := contextualized(types.Alert{AlertID: "ALT-411", AlertType: types.AlertTypeBruteForce})
	in.Context = types.EnrichedContext{Network: &types.NetworkContext{IsInternal: true}}

	_, user := BuildPrompt(in, nil)
	assert.Contains(t, user, "all observed addresses are internal")
	assert.Contains(t, user, "## Focus for brute_force alerts")
	assert.Contains(t, user, "internal-origin")
}

func TestBuildPrompt_SimilarSectionOnlyWhenPresent(t *testing.T) {
	in := fullyContextualized()

	_, without := BuildPrompt(in, nil)
	assert.NotContains(t, without, "## Similar past incidents")

	_, with := BuildPrompt(in, []vector.Match{
		{AlertID: "ALT-120", Similarity: 0.93, Meta: map[string]string{"risk_level": "high"}},
	})
	assert.Contains(t, with, "## Similar past incidents")
	assert.Contains(t, with, "ALT-120 (similarity 0.93, prior risk level high)")
}

func TestBuildPrompt_EmptyContextAndIntel(t *testing.T) {
	in := contextualized(types.Alert{AlertID: "ALT-412", AlertType: types.AlertTypeOther})

	_, user := BuildPrompt(in, nil)
	assert.Contains(t, user, "No context could be resolved.")
	assert.Contains(t, user, "No indicators were extracted from this alert.")
	// Unregistered types get the generic guidance.
	assert.Contains(t, user, "## Focus for other alerts")
	assert.Contains(t, user, "do not invent indicators")
}

func TestBuildPrompt_PartialContextNoted(t *testing.T) {
	in := fullyContextualized()
	in.Context.Partial = true

	_, user := BuildPrompt(in, nil)
	assert.Contains(t, user, "Context collection was partial")
}

func TestRepairPrompt(t *testing.T) {
	got := RepairPrompt("I cannot help with that.", errors.New("answer contains no JSON object"))

	assert.Contains(t, got, "could not be used: answer contains no JSON object")
	assert.Contains(t, got, "I cannot help with that.")
	assert.Contains(t, got, "risk_score")
	// The repair instruction forbids fences so the reply parses bare.
	assert.True(t, strings.Contains(got, "No prose, no markdown fences."))
}
