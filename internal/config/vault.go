package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
)

// SecretManager wraps the Vault API client for reading secrets.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address
// and authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetKV2 reads from a KV v2 backend and returns the inner "data" map,
// unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// applyVault overlays secrets from Vault when VAULT_ADDR is set. Only
// credential-bearing fields are eligible; tunables stay env-driven.
// A missing secret path is not an error so services can share one
// deployment manifest before their secrets exist.
func applyVault(cfg *Config) error {
	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return nil
	}

	sm, err := NewSecretManager(addr, os.Getenv("VAULT_TOKEN"))
	if err != nil {
		return err
	}
	data, err := sm.GetKV2(cfg.VaultSecretPath)
	if err != nil {
		return nil
	}

	overlay := func(key string, dst *string) {
		if v, ok := data[key].(string); ok && v != "" {
			*dst = v
		}
	}
	overlay("database_url", &cfg.DatabaseURL)
	overlay("redis_url", &cfg.RedisURL)
	overlay("rabbitmq_url", &cfg.BrokerURL)
	overlay("jwt_secret_key", &cfg.JWTSecret)
	overlay("anthropic_api_key", &cfg.AnthropicAPIKey)
	overlay("openai_api_key", &cfg.OpenAIAPIKey)
	overlay("intel_http_api_key", &cfg.IntelHTTPAPIKey)
	return nil
}
