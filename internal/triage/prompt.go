// Package triage turns contextualized alerts into final verdicts. It
// asks a language model for a structured assessment, repairs or
// degrades when the model cannot deliver one, and records the outcome.
package triage

import (
	"fmt"
	"strings"
	"time"

	"github.com/argus-sec/argus/internal/vector"
	"github.com/argus-sec/argus/pkg/types"
)

const systemPrompt = "You are a senior SOC analyst triaging security alerts. " +
	"Weigh threat intelligence verdicts heavily, factor in asset criticality and " +
	"whether traffic stayed internal, and be conservative when evidence is thin. " +
	"Respond with a single JSON object and nothing else."

// focusLines is the per-alert-type prompt registry: each alert type
// gets the analysis angles a human reviewer would start from. Types
// without an entry fall back to the generic lines.
var focusLines = map[types.AlertType][]string{
	types.AlertTypeMalware: {
		"Treat intel hits on the file hash as primary evidence.",
		"Consider lateral movement if the destination is internal.",
		"Recommend host isolation before forensics when the hash is malicious.",
	},
	types.AlertTypePhishing: {
		"Assess credential exposure: did the user follow the link or submit credentials?",
		"Check sender domain reputation against the intel findings.",
		"Recommend mailbox purge and credential reset when compromise is plausible.",
	},
	types.AlertTypeBruteForce: {
		"Distinguish internal-origin attempts from external ones; say so in the narrative.",
		"Weigh the targeted account's privilege level.",
		"Recommend lockout review and source blocking before broader response.",
	},
	types.AlertTypeDataExfiltration: {
		"Weigh destination reputation and whether the transfer left the network.",
		"Consider the asset's data sensitivity from its criticality and environment.",
		"Recommend egress blocking and DLP review for confirmed movement.",
	},
	types.AlertTypeIntrusion: {
		"Look for persistence and privilege escalation indicators in the description.",
		"An internal destination raises blast radius; weigh asset criticality.",
	},
	types.AlertTypeDDoS: {
		"Judge service impact: volumetric details usually sit in the description.",
		"Recommend upstream mitigation before host-level response.",
	},
	types.AlertTypeAnomaly: {
		"Anomalies without corroborating intel deserve lower confidence.",
		"State explicitly what baseline the behavior deviates from, if known.",
	},
}

var genericFocus = []string{
	"Ground every claim in the supplied evidence; do not invent indicators.",
	"Prefer reversible containment actions when confidence is low.",
}

// BuildPrompt renders the system and user prompts for one alert. The
// user prompt carries the alert, its enrichment, the intel picture and
// any similar past incidents, then spells out the exact JSON contract
// the parser on the other side expects.
func BuildPrompt(in types.ContextualizedAlert, similar []vector.Match) (system, user string) {
	var sb strings.Builder

	writeAlert(&sb, in.Alert)
	writeContext(&sb, in.Context)
	writeIntel(&sb, in.Intel)
	writeSimilar(&sb, similar)
	writeContract(&sb)
	writeFocus(&sb, in.Alert.AlertType)

	return systemPrompt, sb.String()
}

func writeAlert(sb *strings.Builder, a types.Alert) {
	sb.WriteString("## Alert\n")
	fmt.Fprintf(sb, "- ID: %s\n", a.AlertID)
	fmt.Fprintf(sb, "- Type: %s\n", a.AlertType)
	fmt.Fprintf(sb, "- Reported severity: %s\n", a.Severity)
	writeIf(sb, "Title", a.Title)
	writeIf(sb, "Description", a.Description)
	if !a.Timestamp.IsZero() {
		fmt.Fprintf(sb, "- Observed at: %s\n", a.Timestamp.Format(time.RFC3339))
	}
	writeIf(sb, "Source IP", a.SourceIP)
	writeIf(sb, "Destination IP", a.DestinationIP)
	writeIf(sb, "File hash", a.FileHash)
	writeIf(sb, "URL", a.URL)
	writeIf(sb, "Domain", a.Domain)
	writeIf(sb, "Asset", a.AssetID)
	writeIf(sb, "User", a.UserName)
	sb.WriteString("\n")
}

func writeIf(sb *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(sb, "- %s: %s\n", label, value)
	}
}

func writeContext(sb *strings.Builder, ec types.EnrichedContext) {
	sb.WriteString("## Organizational context\n")
	if ec.Network == nil && ec.Asset == nil && ec.User == nil {
		sb.WriteString("No context could be resolved.\n\n")
		return
	}

	if net := ec.Network; net != nil {
		if net.IsInternal {
			sb.WriteString("Network: all observed addresses are internal.\n")
		} else {
			sb.WriteString("Network: traffic crosses the perimeter.\n")
		}
		for _, addr := range net.Addresses {
			origin := "external"
			if addr.Internal {
				origin = "internal"
			}
			fmt.Fprintf(sb, "- %s: %s", addr.IP, origin)
			if addr.Subnet != "" {
				fmt.Fprintf(sb, ", subnet %s", addr.Subnet)
			}
			if addr.Reputation != "" {
				fmt.Fprintf(sb, ", reputation %s", addr.Reputation)
			}
			sb.WriteString("\n")
		}
	}
	if asset := ec.Asset; asset != nil {
		fmt.Fprintf(sb, "Asset %s: criticality %s", asset.AssetID, asset.Criticality)
		if asset.Environment != "" {
			fmt.Fprintf(sb, ", environment %s", asset.Environment)
		}
		if asset.Owner != "" {
			fmt.Fprintf(sb, ", owner %s", asset.Owner)
		}
		sb.WriteString("\n")
	}
	if user := ec.User; user != nil {
		fmt.Fprintf(sb, "User %s: role %s", user.UserName, user.Role)
		if user.Department != "" {
			fmt.Fprintf(sb, ", department %s", user.Department)
		}
		if user.RiskProfile != "" {
			fmt.Fprintf(sb, ", risk profile %s", user.RiskProfile)
		}
		sb.WriteString("\n")
	}
	if ec.Partial {
		sb.WriteString("Context collection was partial; missing sections are unknown, not absent.\n")
	}
	sb.WriteString("\n")
}

func writeIntel(sb *strings.Builder, intel types.IntelSummary) {
	sb.WriteString("## Threat intelligence\n")
	if len(intel.Assessments) == 0 {
		sb.WriteString("No indicators were extracted from this alert.\n\n")
		return
	}

	fmt.Fprintf(sb, "Aggregated threat score: %.0f/100, worst verdict: %s\n", intel.ThreatScore, intel.WorstVerdict)
	for _, a := range intel.Assessments {
		fmt.Fprintf(sb, "- [%s] %s: %s (score %.0f", a.IOCType, a.IOCValue, a.Verdict, a.Score)
		if len(a.Providers) > 0 {
			fmt.Fprintf(sb, "; providers %s", strings.Join(a.Providers, ", "))
		}
		sb.WriteString(")\n")
		for _, ev := range a.Evidence {
			fmt.Fprintf(sb, "  - %s\n", ev)
		}
	}
	sb.WriteString("\n")
}

func writeSimilar(sb *strings.Builder, similar []vector.Match) {
	if len(similar) == 0 {
		return
	}
	sb.WriteString("## Similar past incidents\n")
	for _, m := range similar {
		fmt.Fprintf(sb, "- %s (similarity %.2f", m.AlertID, m.Similarity)
		if level := m.Meta["risk_level"]; level != "" {
			fmt.Fprintf(sb, ", prior risk level %s", level)
		}
		sb.WriteString(")\n")
	}
	sb.WriteString("\n")
}

func writeContract(sb *strings.Builder) {
	sb.WriteString("## Required response\n")
	sb.WriteString("Return exactly this JSON shape:\n")
	sb.WriteString("```json\n")
	sb.WriteString("{\n")
	sb.WriteString("  \"risk_score\": <number 0-100>,\n")
	sb.WriteString("  \"risk_level\": \"critical|high|medium|low|info\",\n")
	sb.WriteString("  \"confidence\": <number 0-1>,\n")
	sb.WriteString("  \"recommended_actions\": [\n")
	sb.WriteString("    {\"action\": \"<imperative step>\", \"priority\": \"immediate|high|medium|low\", \"rationale\": \"<one sentence>\"}\n")
	sb.WriteString("  ],\n")
	sb.WriteString("  \"narrative\": \"<analyst-ready explanation of the verdict>\"\n")
	sb.WriteString("}\n")
	sb.WriteString("```\n")
	sb.WriteString("Rules: risk_level must agree with risk_score (>=80 critical, >=60 high, >=40 medium, >=20 low, else info). ")
	sb.WriteString("Order recommended_actions most urgent first. The narrative must cite the evidence above.\n\n")
}

func writeFocus(sb *strings.Builder, alertType types.AlertType) {
	lines, ok := focusLines[alertType]
	if !ok {
		lines = genericFocus
	}
	fmt.Fprintf(sb, "## Focus for %s alerts\n", alertType)
	for _, line := range lines {
		fmt.Fprintf(sb, "- %s\n", line)
	}
}

// RepairPrompt asks the model to fix an answer that failed parsing.
// One shot only; a second failure is handled by the retry path.
func RepairPrompt(badAnswer string, cause error) string {
	var sb strings.Builder
	sb.WriteString("Your previous answer could not be used: ")
	sb.WriteString(cause.Error())
	sb.WriteString("\n\nPrevious answer:\n")
	sb.WriteString(badAnswer)
	sb.WriteString("\n\nReturn the corrected assessment as a single JSON object with the fields ")
	sb.WriteString("risk_score, risk_level, confidence, recommended_actions and narrative. ")
	sb.WriteString("No prose, no markdown fences.")
	return sb.String()
}
