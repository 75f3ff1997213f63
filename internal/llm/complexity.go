package llm

import "github.com/argus-sec/argus/pkg/types"

// Complexity scores how demanding an alert is to reason about, from 0
// to 10. It feeds model selection: simple alerts go to cheap models,
// gnarly ones earn the expensive tier.
//
// The inputs are coarse: indicator count, severity and how much free
// text the analyst model has to digest.
func Complexity(alert types.Alert, iocCount int) int {
	score := 0

	switch {
	case iocCount >= 8:
		score += 4
	case iocCount >= 4:
		score += 3
	case iocCount >= 2:
		score += 2
	case iocCount == 1:
		score += 1
	}

	switch alert.Severity {
	case types.SeverityCritical:
		score += 3
	case types.SeverityHigh:
		score += 2
	case types.SeverityMedium:
		score += 1
	}

	switch n := len(alert.Description); {
	case n >= 2000:
		score += 3
	case n >= 500:
		score += 2
	case n >= 100:
		score += 1
	}

	if score > 10 {
		return 10
	}
	return score
}

// tierFor maps complexity to the minimum cost tier worth paying for.
func tierFor(complexity int) int {
	switch {
	case complexity >= 7:
		return 2
	case complexity >= 4:
		return 1
	default:
		return 0
	}
}
