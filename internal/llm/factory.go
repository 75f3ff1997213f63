package llm

import (
	"fmt"

	"github.com/argus-sec/argus/internal/config"
)

// BuildProviders instantiates one provider per backend the catalog
// references. Catalog entries share providers: two anthropic models
// ride the same client.
func BuildProviders(catalog Catalog, cfg *config.Config) (map[string]Provider, error) {
	providers := make(map[string]Provider)
	for _, spec := range catalog.Models {
		if _, ok := providers[spec.Provider]; ok {
			continue
		}
		switch spec.Provider {
		case "anthropic":
			if cfg.AnthropicAPIKey == "" {
				return nil, fmt.Errorf("model %s: ARGUS_ANTHROPIC_API_KEY is required", spec.ID)
			}
			providers[spec.Provider] = NewAnthropicProvider(cfg.AnthropicAPIKey)
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				return nil, fmt.Errorf("model %s: ARGUS_OPENAI_API_KEY is required", spec.ID)
			}
			providers[spec.Provider] = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, nil)
		case "ollama":
			providers[spec.Provider] = NewOllamaProvider(cfg.OllamaBaseURL, nil)
		default:
			return nil, fmt.Errorf("model %s: unknown provider %q", spec.ID, spec.Provider)
		}
	}
	return providers, nil
}
