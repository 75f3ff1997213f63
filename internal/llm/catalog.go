package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelSpec describes one routable model. Strengths name the task
// types the model is considered good at; "triage" is the generic
// capability every security-capable model should carry. CostTier
// orders models by spend: 0 is free or local, higher is pricier.
type ModelSpec struct {
	ID            string   `yaml:"id"`
	Provider      string   `yaml:"provider"`
	Model         string   `yaml:"model"`
	ContextWindow int      `yaml:"context_window"`
	Strengths     []string `yaml:"strengths"`
	CostTier      int      `yaml:"cost_tier"`
}

// Covers reports whether the model claims strength for a task type,
// counting the generic triage capability.
func (m ModelSpec) Covers(taskType string) bool {
	for _, s := range m.Strengths {
		if s == taskType || s == "triage" {
			return true
		}
	}
	return false
}

// Specific reports whether the model names the task type itself rather
// than relying on the generic capability.
func (m ModelSpec) Specific(taskType string) bool {
	for _, s := range m.Strengths {
		if s == taskType {
			return true
		}
	}
	return false
}

// Catalog is the ordered model registry. Order matters: it breaks ties
// between otherwise equally ranked models.
type Catalog struct {
	Models []ModelSpec `yaml:"models"`
}

// Get finds a model by id.
func (c Catalog) Get(id string) (ModelSpec, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// DefaultCatalog is used when no catalog file is configured: a strong
// hosted model, a cheap hosted model and a free local fallback.
func DefaultCatalog() Catalog {
	return Catalog{Models: []ModelSpec{
		{
			ID:            "claude-sonnet",
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-5",
			ContextWindow: 200000,
			Strengths:     []string{"triage", "malware", "intrusion", "data_exfiltration", "phishing"},
			CostTier:      2,
		},
		{
			ID:            "gpt-4o-mini",
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			ContextWindow: 128000,
			Strengths:     []string{"triage", "brute_force", "anomaly", "ddos"},
			CostTier:      1,
		},
		{
			ID:            "local-llama",
			Provider:      "ollama",
			Model:         "llama3.1",
			ContextWindow: 32768,
			Strengths:     []string{"triage"},
			CostTier:      0,
		},
	}}
}

// LoadCatalog reads a YAML catalog file, falling back to the built-in
// catalog when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read model catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse model catalog: %w", err)
	}
	if len(c.Models) == 0 {
		return Catalog{}, fmt.Errorf("model catalog %s lists no models", path)
	}

	seen := make(map[string]struct{}, len(c.Models))
	for i, m := range c.Models {
		if m.ID == "" || m.Provider == "" || m.Model == "" {
			return Catalog{}, fmt.Errorf("model catalog entry %d: id, provider and model are required", i)
		}
		if _, dup := seen[m.ID]; dup {
			return Catalog{}, fmt.Errorf("model catalog: duplicate id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return c, nil
}
