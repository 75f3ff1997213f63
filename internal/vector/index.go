package vector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/argus-sec/argus/internal/telemetry"
	"github.com/argus-sec/argus/pkg/types"
)

// Options tune the similarity index. Zero values mean defaults.
type Options struct {
	TopK          int     // matches returned by Similar, defaults to 5
	Threshold     float64 // minimum cosine similarity kept, defaults to 0.75
	MaxConcurrent int64   // concurrent embedding slots, defaults to 4
}

// Index pairs an encoder with a vector store and answers the two
// questions triage asks: "which past alerts looked like this one?"
// and "remember this one for next time".
type Index struct {
	encoder   Encoder
	store     Store
	sem       *semaphore.Weighted
	topK      int
	threshold float64
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

func NewIndex(encoder Encoder, store Store, opts Options, metrics *telemetry.Metrics, logger *zap.Logger) *Index {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.75
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		encoder:   encoder,
		store:     store,
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		topK:      opts.TopK,
		threshold: opts.Threshold,
		metrics:   metrics,
		logger:    logger,
	}
}

// Add embeds the alert's document and stores it with metadata the
// search side can filter on. Called after triage so the row carries
// the final risk level.
func (ix *Index) Add(ctx context.Context, alert types.Alert, iocs types.IOCSet, result types.TriageResult) error {
	emb, err := ix.embed(ctx, Document(alert, iocs))
	if err != nil {
		return err
	}

	meta := map[string]string{
		"alert_type": string(alert.AlertType),
		"severity":   string(alert.Severity),
		"risk_level": string(result.RiskLevel),
	}
	return ix.store.Upsert(ctx, alert.AlertID, emb, meta)
}

// Similar returns previously triaged alerts of the same type whose
// documents resemble this one, best first. Matches below the
// similarity threshold and the alert's own row are dropped.
func (ix *Index) Similar(ctx context.Context, alert types.Alert, iocs types.IOCSet) ([]Match, error) {
	emb, err := ix.embed(ctx, Document(alert, iocs))
	if err != nil {
		return nil, err
	}

	var filter map[string]string
	if alert.AlertType != "" {
		filter = map[string]string{"alert_type": string(alert.AlertType)}
	}

	// Ask for one extra row: on redelivery the alert may already be
	// indexed and would match itself perfectly.
	matches, err := ix.store.Search(ctx, emb, ix.topK+1, filter)
	if err != nil {
		return nil, err
	}
	if ix.metrics != nil {
		ix.metrics.SimilaritySearches.Inc()
	}

	out := make([]Match, 0, ix.topK)
	for _, m := range matches {
		if m.AlertID == alert.AlertID || m.Similarity < ix.threshold {
			continue
		}
		out = append(out, m)
		if len(out) == ix.topK {
			break
		}
	}
	return out, nil
}

func (ix *Index) embed(ctx context.Context, doc string) ([]float32, error) {
	if err := ix.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer ix.sem.Release(1)

	emb, err := ix.encoder.Encode(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("embed document: %w", err)
	}
	return emb, nil
}

// Document renders the text that stands in for an alert in the
// similarity index. The rendering is deterministic, so recurring
// incidents produce identical documents and land next to each other
// even under the hashing encoder.
func Document(alert types.Alert, iocs types.IOCSet) string {
	var b strings.Builder
	b.WriteString(string(alert.AlertType))
	b.WriteByte(' ')
	b.WriteString(string(alert.Severity))
	if alert.Title != "" {
		b.WriteByte(' ')
		b.WriteString(alert.Title)
	}
	if alert.Description != "" {
		b.WriteByte(' ')
		b.WriteString(alert.Description)
	}
	for _, ioc := range iocs.All() {
		b.WriteByte(' ')
		b.WriteString(ioc.Value)
	}
	return b.String()
}
