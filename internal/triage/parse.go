package triage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/argus-sec/argus/pkg/types"
)

// modelAnswer mirrors the JSON contract the prompt spells out. Pointer
// fields distinguish "absent" from zero so validation can demand them.
type modelAnswer struct {
	RiskScore  *float64                  `json:"risk_score"`
	RiskLevel  string                    `json:"risk_level"`
	Confidence *float64                  `json:"confidence"`
	Actions    []types.RecommendedAction `json:"recommended_actions"`
	Narrative  string                    `json:"narrative"`
}

// ParseAnswer turns a raw model completion into a TriageResult.
// Markdown fences around the JSON are tolerated; anything else is an
// error the caller may try to repair once.
func ParseAnswer(alertID, content string) (*types.TriageResult, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("answer contains no JSON object")
	}

	var ans modelAnswer
	if err := json.Unmarshal([]byte(raw), &ans); err != nil {
		return nil, fmt.Errorf("answer is not valid JSON: %w", err)
	}
	if ans.RiskScore == nil {
		return nil, fmt.Errorf("answer missing risk_score")
	}
	if strings.TrimSpace(ans.Narrative) == "" {
		return nil, fmt.Errorf("answer missing narrative")
	}

	score := clamp(*ans.RiskScore, 0, 100)
	confidence := 0.5
	if ans.Confidence != nil {
		confidence = clamp(*ans.Confidence, 0, 1)
	}

	result := &types.TriageResult{
		AlertID:    alertID,
		RiskScore:  score,
		RiskLevel:  types.LevelForScore(score),
		Confidence: confidence,
		Narrative:  strings.TrimSpace(ans.Narrative),
	}
	for _, a := range ans.Actions {
		a.Action = strings.TrimSpace(a.Action)
		if a.Action == "" {
			continue
		}
		if !a.Priority.Valid() {
			a.Priority = types.PriorityMedium
		}
		result.Actions = append(result.Actions, a)
	}
	return result, nil
}

// extractJSON pulls the JSON body out of a completion: prefer a
// ```json fence, then any ``` fence, then the outermost brace pair.
func extractJSON(content string) string {
	s := content
	if idx := strings.Index(s, "```json"); idx != -1 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	} else if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+len("```"):]
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
