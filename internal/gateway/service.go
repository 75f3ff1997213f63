// Package gateway implements the ingestion edge: validation,
// idempotent persistence, and the publish into alert.raw that starts
// the pipeline. Nothing is validated downstream; alerts that pass here
// are trusted by every later stage.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/argus-sec/argus/internal/broker"
	"github.com/argus-sec/argus/internal/envelope"
	"github.com/argus-sec/argus/internal/store"
	"github.com/argus-sec/argus/internal/telemetry"
	"github.com/argus-sec/argus/pkg/types"
)

const producerName = "argus-gateway"

// MaxBatchSize bounds one batch submission. Larger batches are
// rejected whole; partial reads of an oversized batch would hide the
// client bug that produced it.
const MaxBatchSize = 100

// ErrBatchTooLarge rejects batches above MaxBatchSize.
var ErrBatchTooLarge = fmt.Errorf("batch exceeds %d alerts", MaxBatchSize)

// ValidationError carries the individual schema problems so the 400
// body can list all of them at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid alert: " + strings.Join(e.Problems, "; ")
}

// AlertStore is the slice of the store the gateway needs.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *types.Alert) (bool, error)
	GetAlert(ctx context.Context, alertID string) (*types.Alert, error)
	GetTriageResult(ctx context.Context, alertID string) (*types.TriageResult, error)
	AppendAudit(ctx context.Context, alertID, stage, action string, detail map[string]any) error
	Ping(ctx context.Context) error
}

// Publisher pushes accepted alerts into the pipeline.
type Publisher interface {
	Publish(ctx context.Context, queue string, env envelope.Envelope) error
}

// Service owns the ingestion rules.
type Service struct {
	store   AlertStore
	pub     Publisher
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(st AlertStore, pub Publisher, metrics *telemetry.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:   st,
		pub:     pub,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// IngestResult reports what happened to one submitted alert.
type IngestResult struct {
	AlertID   string   `json:"alert_id"`
	Accepted  bool     `json:"accepted"`
	Duplicate bool     `json:"duplicate,omitempty"`
	Problems  []string `json:"problems,omitempty"`
}

// BatchResult reports per-item outcomes for a batch submission.
type BatchResult struct {
	Items    []IngestResult `json:"items"`
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
}

// Ingest validates, persists and enqueues one alert. A rejected alert
// leaves no trace anywhere. A resubmitted alert_id is accepted without
// a second row; if its first publish never happened the resubmission
// re-enqueues it, so a gateway crash between insert and publish heals
// on the client's retry.
func (s *Service) Ingest(ctx context.Context, candidate types.Alert) (IngestResult, error) {
	if problems := types.ValidateCandidate(candidate, s.now()); len(problems) > 0 {
		s.metrics.AlertsIngested.WithLabelValues("rejected").Inc()
		return IngestResult{AlertID: candidate.AlertID, Problems: problems}, &ValidationError{Problems: problems}
	}

	candidate.Status = types.StatusNew
	candidate.ReceivedAt = types.NewEventTime(s.now())

	inserted, err := s.store.InsertAlert(ctx, &candidate)
	if err != nil {
		s.metrics.AlertsIngested.WithLabelValues("error").Inc()
		return IngestResult{AlertID: candidate.AlertID}, fmt.Errorf("persist alert: %w", err)
	}

	if !inserted {
		return s.acceptDuplicate(ctx, candidate)
	}

	if err := s.enqueue(ctx, candidate); err != nil {
		// The row stays in status new; the client retry path above
		// recovers it. Surfacing the error tells the client to retry.
		s.metrics.AlertsIngested.WithLabelValues("error").Inc()
		return IngestResult{AlertID: candidate.AlertID}, err
	}

	s.audit(ctx, candidate.AlertID, "accepted", nil)
	s.metrics.AlertsIngested.WithLabelValues("accepted").Inc()
	return IngestResult{AlertID: candidate.AlertID, Accepted: true}, nil
}

// acceptDuplicate handles a resubmitted alert_id: idempotent 202, and
// a re-enqueue only when the stored alert never left status new.
func (s *Service) acceptDuplicate(ctx context.Context, candidate types.Alert) (IngestResult, error) {
	existing, err := s.store.GetAlert(ctx, candidate.AlertID)
	if err == nil && existing.Status == types.StatusNew {
		if err := s.enqueue(ctx, *existing); err != nil {
			s.metrics.AlertsIngested.WithLabelValues("error").Inc()
			return IngestResult{AlertID: candidate.AlertID}, err
		}
		s.logger.Info("re-enqueued stalled alert on resubmission", zap.String("alert_id", candidate.AlertID))
	}
	s.metrics.AlertsIngested.WithLabelValues("duplicate").Inc()
	return IngestResult{AlertID: candidate.AlertID, Accepted: true, Duplicate: true}, nil
}

func (s *Service) enqueue(ctx context.Context, a types.Alert) error {
	env, err := envelope.Wrap(ctx, producerName, a.AlertID, a)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(ctx, broker.QueueRaw, env); err != nil {
		return fmt.Errorf("enqueue alert: %w", err)
	}
	return nil
}

// IngestBatch applies Ingest per item. Validation failures are
// reported per item; an infrastructure failure aborts the batch so the
// client knows to retry it whole.
func (s *Service) IngestBatch(ctx context.Context, candidates []types.Alert) (BatchResult, error) {
	if len(candidates) > MaxBatchSize {
		return BatchResult{}, ErrBatchTooLarge
	}

	result := BatchResult{Items: make([]IngestResult, 0, len(candidates))}
	for _, candidate := range candidates {
		item, err := s.Ingest(ctx, candidate)
		var ve *ValidationError
		switch {
		case err == nil:
			result.Accepted++
		case errors.As(err, &ve):
			result.Rejected++
		default:
			return BatchResult{}, err
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// GetAlert returns the stored alert.
func (s *Service) GetAlert(ctx context.Context, alertID string) (*types.Alert, error) {
	return s.store.GetAlert(ctx, alertID)
}

// GetResult returns the triage verdict, or store.ErrNotFound until the
// pipeline has analyzed the alert.
func (s *Service) GetResult(ctx context.Context, alertID string) (*types.TriageResult, error) {
	return s.store.GetTriageResult(ctx, alertID)
}

func (s *Service) audit(ctx context.Context, alertID, action string, detail map[string]any) {
	if err := s.store.AppendAudit(ctx, alertID, "gateway", action, detail); err != nil {
		s.logger.Warn("audit write failed", zap.String("alert_id", alertID), zap.Error(err))
	}
}

// CheckDB reports database reachability for the health endpoint.
func (s *Service) CheckDB(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.store.Ping(ctx)
}

// IsNotFound adapts the store sentinel for handler use.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
