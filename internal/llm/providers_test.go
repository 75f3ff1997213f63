package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-sec/argus/internal/llm"
)

func TestOpenAIProvider_Complete(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "the answer"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 7},
		})
	}))
	defer srv.Close()

	p := llm.NewOpenAIProvider("sk-test", srv.URL+"/v1", srv.Client())
	resp, err := p.Complete(context.Background(), "gpt-4o-mini", llm.Request{
		System:      "you are terse",
		Prompt:      "how bad is it",
		MaxTokens:   128,
		Temperature: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	msgs := gotBody["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
}

func TestOpenAIProvider_ErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "rate limited", "type": "rate_limit"}})
	}))
	defer srv.Close()

	p := llm.NewOpenAIProvider("sk-test", srv.URL, srv.Client())
	_, err := p.Complete(context.Background(), "gpt-4o-mini", llm.Request{Prompt: "x"})
	require.Error(t, err)

	var ce *llm.CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusTooManyRequests, ce.Status)
	assert.True(t, llm.Transient(err))
}

func TestOpenAIProvider_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	p := llm.NewOpenAIProvider("sk-test", srv.URL, srv.Client())
	_, err := p.Complete(context.Background(), "gpt-4o-mini", llm.Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestOllamaProvider_Complete(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]any{"role": "assistant", "content": "local answer"},
			"prompt_eval_count": 9,
			"eval_count":        4,
		})
	}))
	defer srv.Close()

	p := llm.NewOllamaProvider(srv.URL, srv.Client())
	resp, err := p.Complete(context.Background(), "llama3.1", llm.Request{Prompt: "hello", MaxTokens: 64})
	require.NoError(t, err)

	assert.Equal(t, false, gotBody["stream"])
	assert.Equal(t, "llama3.1", gotBody["model"])
	assert.Equal(t, "local answer", resp.Content)
	assert.Equal(t, 9, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
}

func TestOllamaProvider_DaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	p := llm.NewOllamaProvider(srv.URL, nil)
	_, err := p.Complete(context.Background(), "llama3.1", llm.Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, llm.Transient(err), "a dead daemon is a transient condition")
}

func TestAnthropicProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "msg_test",
			"type":    "message",
			"role":    "assistant",
			"model":   "claude-sonnet-4-5",
			"content": []map[string]any{{"type": "text", "text": "sdk answer"}},
			"usage":   map[string]any{"input_tokens": 21, "output_tokens": 13},
		})
	}))
	defer srv.Close()

	p := llm.NewAnthropicProvider("test-key", option.WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), "claude-sonnet-4-5", llm.Request{
		System:    "be brief",
		Prompt:    "assess",
		MaxTokens: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, "sdk answer", resp.Content)
	assert.Equal(t, 21, resp.Usage.InputTokens)
	assert.Equal(t, 13, resp.Usage.OutputTokens)
}

func TestAnthropicProvider_ErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "overloaded_error", "message": "overloaded"},
		})
	}))
	defer srv.Close()

	p := llm.NewAnthropicProvider("test-key", option.WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), "claude-sonnet-4-5", llm.Request{Prompt: "x", MaxTokens: 16})
	require.Error(t, err)

	var ce *llm.CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusServiceUnavailable, ce.Status)
	assert.True(t, llm.Transient(err))
}
