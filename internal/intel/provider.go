// Package intel aggregates threat-intelligence verdicts for the
// indicators on an alert. Providers are fanned out concurrently per
// IOC, answers are cached per (provider, IOC), and failures degrade to
// an unknown verdict instead of failing the stage.
package intel

import (
	"context"
	"fmt"

	"github.com/argus-sec/argus/internal/config"
	"github.com/argus-sec/argus/pkg/types"
)

// Provider answers reputation queries for single indicators. Lookup
// errors are absorbed by the aggregator, so implementations should
// return them rather than papering over failures themselves.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ioc types.IOC) (types.IntelFinding, error)
}

// BuildProviders instantiates the providers named in the configuration.
// Unknown names fail startup: a typo must not silently shrink intel
// coverage.
func BuildProviders(cfg *config.Config) ([]Provider, error) {
	providers := make([]Provider, 0, len(cfg.IntelProviders))
	for _, name := range cfg.IntelProviders {
		switch name {
		case "local":
			providers = append(providers, NewLocalProvider())
		case "httpjson":
			if cfg.IntelHTTPEndpoint == "" {
				return nil, fmt.Errorf("intel provider httpjson requires ARGUS_INTEL_HTTP_ENDPOINT")
			}
			providers = append(providers, NewHTTPJSONProvider(cfg.IntelHTTPEndpoint, cfg.IntelHTTPAPIKey, nil))
		default:
			return nil, fmt.Errorf("unknown intel provider %q", name)
		}
	}
	return providers, nil
}
