package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/argus-sec/argus/pkg/types"
)

// maxIntelBody bounds how much of a feed response we are willing to
// read. Real feeds answer in a few hundred bytes.
const maxIntelBody = 1 << 20

// HTTPJSONProvider queries a generic reputation endpoint:
// GET {endpoint}/{type}/{value} with an optional API key header,
// answering {"verdict": "...", "score": 0-100, "evidence": [...]}.
// Any feed that can be fronted by that shape plugs in via config.
type HTTPJSONProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
	now      func() time.Time
}

type httpIntelResponse struct {
	Verdict  string   `json:"verdict"`
	Score    float64  `json:"score"`
	Evidence []string `json:"evidence"`
}

func NewHTTPJSONProvider(endpoint, apiKey string, client *http.Client) *HTTPJSONProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPJSONProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
		now:      time.Now,
	}
}

func (p *HTTPJSONProvider) Name() string { return "httpjson" }

func (p *HTTPJSONProvider) Lookup(ctx context.Context, ioc types.IOC) (types.IntelFinding, error) {
	f := types.IntelFinding{
		Provider:  p.Name(),
		IOCType:   ioc.Type,
		IOCValue:  ioc.Value,
		Verdict:   types.VerdictUnknown,
		FetchedAt: p.now().UTC(),
	}

	lookupURL := fmt.Sprintf("%s/%s/%s", p.endpoint, url.PathEscape(string(ioc.Type)), url.PathEscape(ioc.Value))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return f, fmt.Errorf("build intel request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return f, fmt.Errorf("intel lookup %s: %w", ioc.Value, err)
	}
	defer resp.Body.Close()

	// A feed that has never seen the indicator is a clean miss, not an
	// outage.
	if resp.StatusCode == http.StatusNotFound {
		return f, nil
	}
	if resp.StatusCode != http.StatusOK {
		return f, fmt.Errorf("intel lookup %s: unexpected status %d", ioc.Value, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIntelBody))
	if err != nil {
		return f, fmt.Errorf("read intel response: %w", err)
	}
	var parsed httpIntelResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return f, fmt.Errorf("decode intel response: %w", err)
	}

	verdict := types.Verdict(parsed.Verdict)
	if !verdict.Valid() {
		verdict = types.VerdictUnknown
	}
	f.Verdict = verdict
	f.Score = clampScore(parsed.Score)
	for _, e := range parsed.Evidence {
		f.Evidence = append(f.Evidence, p.Name()+": "+e)
	}
	return f, nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
