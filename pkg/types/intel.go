package types

import (
	"sort"
	"time"
)

// Verdict is a provider's judgement of one indicator. Ordered worst to
// best: malicious > suspicious > clean > unknown.
type Verdict string

const (
	VerdictMalicious  Verdict = "malicious"
	VerdictSuspicious Verdict = "suspicious"
	VerdictClean      Verdict = "clean"
	VerdictUnknown    Verdict = "unknown"
)

var verdictRank = map[Verdict]int{
	VerdictUnknown:    0,
	VerdictClean:      1,
	VerdictSuspicious: 2,
	VerdictMalicious:  3,
}

func (v Verdict) Valid() bool {
	_, ok := verdictRank[v]
	return ok
}

// Rank orders verdicts by badness; unknown ranks lowest.
func (v Verdict) Rank() int {
	return verdictRank[v]
}

// WorstVerdict returns whichever of a and b ranks worse.
func WorstVerdict(a, b Verdict) Verdict {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// IntelFinding is one provider's answer for one indicator. A provider
// that failed or had no data yields verdict unknown with score zero.
type IntelFinding struct {
	Provider  string    `json:"provider"`
	IOCType   IOCType   `json:"ioc_type"`
	IOCValue  string    `json:"ioc_value"`
	Verdict   Verdict   `json:"verdict"`
	Score     float64   `json:"score"`
	Evidence  []string  `json:"evidence,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitzero"`
}

// IOCAssessment merges all provider findings for one indicator: the
// worst verdict wins and Score is the mean of provider scores.
type IOCAssessment struct {
	IOCType   IOCType  `json:"ioc_type"`
	IOCValue  string   `json:"ioc_value"`
	Verdict   Verdict  `json:"verdict"`
	Score     float64  `json:"score"`
	Evidence  []string `json:"evidence,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

// IntelSummary is the aggregated threat picture for an alert.
// ThreatScore is the maximum assessment score across indicators, so a
// single hot IOC dominates however benign the rest look.
type IntelSummary struct {
	Assessments  []IOCAssessment `json:"assessments,omitempty"`
	ThreatScore  float64         `json:"threat_score"`
	WorstVerdict Verdict         `json:"worst_verdict"`
}

// AggregateIntel folds raw findings into per-IOC assessments and the
// alert-level summary. Output ordering is deterministic for identical
// input sets regardless of the order lookups completed in.
func AggregateIntel(findings []IntelFinding) IntelSummary {
	summary := IntelSummary{WorstVerdict: VerdictUnknown}
	if len(findings) == 0 {
		return summary
	}

	type key struct {
		t IOCType
		v string
	}
	grouped := make(map[key][]IntelFinding)
	for _, f := range findings {
		k := key{t: f.IOCType, v: f.IOCValue}
		grouped[k] = append(grouped[k], f)
	}

	keys := make([]key, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].t != keys[j].t {
			return keys[i].t < keys[j].t
		}
		return keys[i].v < keys[j].v
	})

	for _, k := range keys {
		group := grouped[k]
		sort.Slice(group, func(i, j int) bool { return group[i].Provider < group[j].Provider })

		a := IOCAssessment{IOCType: k.t, IOCValue: k.v, Verdict: VerdictUnknown}
		var total float64
		for _, f := range group {
			a.Verdict = WorstVerdict(a.Verdict, f.Verdict)
			total += f.Score
			a.Evidence = append(a.Evidence, f.Evidence...)
			a.Providers = append(a.Providers, f.Provider)
		}
		a.Score = total / float64(len(group))

		summary.Assessments = append(summary.Assessments, a)
		summary.WorstVerdict = WorstVerdict(summary.WorstVerdict, a.Verdict)
		if a.Score > summary.ThreatScore {
			summary.ThreatScore = a.Score
		}
	}
	return summary
}
