// Package vector maintains the similarity index over triaged alerts:
// alerts are embedded, stored next to their metadata and searched by
// cosine similarity so triage can cite precedent.
package vector

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Encoder turns text into a fixed-dimension embedding.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// NewEncoder builds the encoder named by the embedding model setting:
// "builtin" is the in-process hashing encoder, "openai:<model>" calls
// an embeddings endpoint.
func NewEncoder(model string, dim int, apiKey, baseURL string) (Encoder, error) {
	switch {
	case model == "" || model == "builtin":
		return NewHashingEncoder(dim), nil
	case strings.HasPrefix(model, "openai:"):
		name := strings.TrimPrefix(model, "openai:")
		if name == "" {
			return nil, fmt.Errorf("embedding model %q names no model", model)
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedding model %q requires ARGUS_OPENAI_API_KEY", model)
		}
		return NewOpenAIEncoder(name, apiKey, baseURL, dim, nil), nil
	default:
		return nil, fmt.Errorf("unknown embedding model %q", model)
	}
}

// HashingEncoder embeds text by hashing tokens into signed buckets and
// normalizing to unit length. It needs no external service, encodes
// identical text to identical vectors, and keeps cosine similarity
// meaningful for token overlap, which is enough for alert-shaped text.
type HashingEncoder struct {
	dim int
}

func NewHashingEncoder(dim int) *HashingEncoder {
	if dim <= 0 {
		dim = 384
	}
	return &HashingEncoder{dim: dim}
}

func (e *HashingEncoder) Dim() int { return e.dim }

func (e *HashingEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dim))
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// No tokens at all; a stable arbitrary direction beats NaNs.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// tokenize lowercases and splits on anything that is not a letter or
// digit, keeping tokens of two or more runes.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
