package intel

import (
	"context"
	"strings"
	"time"

	"github.com/argus-sec/argus/pkg/types"
)

// LocalProvider serves verdicts from a static in-process reputation
// list. It is the default provider: deployments without an external
// feed still get deterministic answers for the indicators the list
// knows, and unknown for everything else.
type LocalProvider struct {
	blocklist map[string]localEntry
	allowlist map[string]struct{}
	now       func() time.Time
}

type localEntry struct {
	verdict  types.Verdict
	score    float64
	evidence string
}

// NewLocalProvider builds the provider with its built-in reputation
// data. Scores are on the 0-100 scale the rest of the pipeline uses.
func NewLocalProvider() *LocalProvider {
	p := &LocalProvider{
		blocklist: make(map[string]localEntry),
		allowlist: make(map[string]struct{}),
		now:       time.Now,
	}

	// Hashes seen in commodity malware droppers.
	p.block("5d41402abc4b2a76b9719d911017c592", types.VerdictMalicious, 95, "known malware dropper hash")
	p.block("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", types.VerdictSuspicious, 55, "empty-file hash, frequent in evasion attempts")

	// Infrastructure with standing bad reputation.
	p.block("198.51.100.23", types.VerdictMalicious, 90, "C2 callback address")
	p.block("203.0.113.66", types.VerdictSuspicious, 60, "scanning source, repeated reports")
	p.block("malware-delivery.example.net", types.VerdictMalicious, 92, "payload staging domain")
	p.block("phish-login.example.org", types.VerdictSuspicious, 68, "credential harvesting lookalike")

	for _, v := range []string{"8.8.8.8", "1.1.1.1", "example.com"} {
		p.allowlist[v] = struct{}{}
	}
	return p
}

func (p *LocalProvider) block(value string, verdict types.Verdict, score float64, evidence string) {
	p.blocklist[strings.ToLower(value)] = localEntry{verdict: verdict, score: score, evidence: evidence}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Lookup(_ context.Context, ioc types.IOC) (types.IntelFinding, error) {
	f := types.IntelFinding{
		Provider:  p.Name(),
		IOCType:   ioc.Type,
		IOCValue:  ioc.Value,
		Verdict:   types.VerdictUnknown,
		FetchedAt: p.now().UTC(),
	}

	key := strings.ToLower(ioc.Value)
	if e, ok := p.blocklist[key]; ok {
		f.Verdict = e.verdict
		f.Score = e.score
		f.Evidence = []string{"local: " + e.evidence}
		return f, nil
	}
	if _, ok := p.allowlist[key]; ok {
		f.Verdict = types.VerdictClean
		f.Score = 2
		f.Evidence = []string{"local: allowlisted"}
		return f, nil
	}
	return f, nil
}
