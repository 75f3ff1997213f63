// Package llm routes completion requests across a catalog of models.
// The router owns model selection, health tracking and retries; it
// never parses payloads or caches responses, both belong to callers.
package llm

import "context"

// Request is one completion call, provider-agnostic.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Usage reports token accounting as the provider billed it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the raw completion. Content is the concatenated text of
// the answer; structure extraction is the caller's problem.
type Response struct {
	Content string
	Usage   Usage
}

//go:generate mockgen -destination=llmmock/provider_mock.go -package=llmmock github.com/argus-sec/argus/internal/llm Provider

// Provider executes completions against one backend. Implementations
// wrap failures in *CallError so the router can classify them.
type Provider interface {
	Complete(ctx context.Context, model string, req Request) (*Response, error)
}
