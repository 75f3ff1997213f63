package intel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/argus-sec/argus/internal/broker"
	"github.com/argus-sec/argus/internal/envelope"
	"github.com/argus-sec/argus/pkg/types"
)

const producerName = "argus-intel"

// Store is the slice of the store this stage writes.
type Store interface {
	SaveIntelFindings(ctx context.Context, alertID string, findings []types.IntelFinding) error
	MarkError(ctx context.Context, alertID string) error
	AppendAudit(ctx context.Context, alertID, stage, action string, detail map[string]any) error
}

// Publisher pushes the stage output to the next queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, env envelope.Envelope) error
}

// Consumer contextualizes enriched alerts with aggregated threat
// intel. The status stays enriched here; triage is the stage that
// moves it to analyzed.
type Consumer struct {
	store      Store
	pub        Publisher
	aggregator *Aggregator
	logger     *zap.Logger
}

func NewConsumer(st Store, pub Publisher, aggregator *Aggregator, logger *zap.Logger) *Consumer {
	return &Consumer{
		store:      st,
		pub:        pub,
		aggregator: aggregator,
		logger:     logger,
	}
}

// Handle processes one alert.enriched delivery.
func (c *Consumer) Handle(ctx context.Context, env envelope.Envelope) error {
	var in types.EnrichedAlert
	if err := env.Open(&in); err != nil {
		return broker.Fatal("malformed enriched payload", err)
	}
	if in.Alert.AlertID == "" {
		return broker.Fatal("payload missing alert_id", nil)
	}
	alertID := in.Alert.AlertID

	findings := c.aggregator.Assess(ctx, in.IOCs)
	summary := types.AggregateIntel(findings)

	if err := c.store.SaveIntelFindings(ctx, alertID, findings); err != nil {
		return fmt.Errorf("persist intel findings for %s: %w", alertID, err)
	}

	payload := types.ContextualizedAlert{EnrichedAlert: in, Intel: summary}
	out, err := envelope.Wrap(ctx, producerName, alertID, payload)
	if err != nil {
		return fmt.Errorf("wrap contextualized alert %s: %w", alertID, err)
	}
	if err := c.pub.Publish(ctx, broker.QueueContextualized, out); err != nil {
		return err
	}

	c.audit(ctx, alertID, "contextualized", map[string]any{
		"findings":      len(findings),
		"threat_score":  summary.ThreatScore,
		"worst_verdict": string(summary.WorstVerdict),
	})
	c.logger.Info("alert contextualized",
		zap.String("alert_id", alertID),
		zap.Int("findings", len(findings)),
		zap.Float64("threat_score", summary.ThreatScore),
		zap.String("worst_verdict", string(summary.WorstVerdict)))
	return nil
}

// OnDeadLetter marks the alert failed once its message is parked.
func (c *Consumer) OnDeadLetter(ctx context.Context, alertID, reason string) {
	if alertID == "" {
		return
	}
	if err := c.store.MarkError(ctx, alertID); err != nil {
		c.logger.Error("mark alert error failed", zap.String("alert_id", alertID), zap.Error(err))
	}
	c.audit(ctx, alertID, "dead_lettered", map[string]any{"reason": reason})
}

func (c *Consumer) audit(ctx context.Context, alertID, action string, detail map[string]any) {
	if err := c.store.AppendAudit(ctx, alertID, "intel", action, detail); err != nil {
		c.logger.Warn("audit write failed", zap.String("alert_id", alertID), zap.Error(err))
	}
}
