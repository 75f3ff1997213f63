package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIEncoder calls an OpenAI-compatible /embeddings endpoint.
// Deployments that want semantic rather than lexical similarity point
// the embedding model at "openai:<model>" and accept the dependency.
type OpenAIEncoder struct {
	model   string
	apiKey  string
	baseURL string
	dim     int
	client  *http.Client
}

func NewOpenAIEncoder(model, apiKey, baseURL string, dim int, client *http.Client) *OpenAIEncoder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAIEncoder{
		model:   model,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		dim:     dim,
		client:  client,
	}
}

func (e *OpenAIEncoder) Dim() int { return e.dim }

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *OpenAIEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text, Dimensions: e.dim})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	var parsed embeddingResponse
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("embedding call: status %d: %s", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding call: empty data")
	}
	emb := parsed.Data[0].Embedding
	if len(emb) != e.dim {
		return nil, fmt.Errorf("embedding call: got %d dimensions, want %d", len(emb), e.dim)
	}
	return emb, nil
}
