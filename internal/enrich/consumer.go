package enrich

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/argus-sec/argus/internal/broker"
	"github.com/argus-sec/argus/internal/envelope"
	"github.com/argus-sec/argus/pkg/types"
)

const producerName = "argus-enricher"

// Store is the slice of the store this stage writes.
type Store interface {
	UpsertContext(ctx context.Context, alertID string, ec types.EnrichedContext) error
	AdvanceStatus(ctx context.Context, alertID string, to types.Status) (bool, error)
	MarkError(ctx context.Context, alertID string) error
	AppendAudit(ctx context.Context, alertID, stage, action string, detail map[string]any) error
}

// Publisher pushes the stage output to the next queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, env envelope.Envelope) error
}

// Consumer attaches network, asset and user context to normalized
// alerts. Enrichment is best-effort: missing context degrades the
// alert, it never blocks it.
type Consumer struct {
	store     Store
	pub       Publisher
	collector *Collector
	logger    *zap.Logger
}

func NewConsumer(st Store, pub Publisher, collector *Collector, logger *zap.Logger) *Consumer {
	return &Consumer{
		store:     st,
		pub:       pub,
		collector: collector,
		logger:    logger,
	}
}

// Handle processes one alert.normalized delivery.
func (c *Consumer) Handle(ctx context.Context, env envelope.Envelope) error {
	var in types.NormalizedAlert
	if err := env.Open(&in); err != nil {
		return broker.Fatal("malformed normalized payload", err)
	}
	if in.Alert.AlertID == "" {
		return broker.Fatal("payload missing alert_id", nil)
	}
	alertID := in.Alert.AlertID

	ec := c.collector.Collect(ctx, in.Alert)

	if err := c.store.UpsertContext(ctx, alertID, ec); err != nil {
		return fmt.Errorf("persist context for %s: %w", alertID, err)
	}
	advanced, err := c.store.AdvanceStatus(ctx, alertID, types.StatusEnriched)
	if err != nil {
		return fmt.Errorf("advance %s to enriched: %w", alertID, err)
	}

	log := c.logger.With(zap.String("alert_id", alertID))
	if !advanced {
		log.Info("alert already enriched, republishing")
	}

	in.Alert.Status = types.StatusEnriched
	payload := types.EnrichedAlert{NormalizedAlert: in, Context: ec}
	out, err := envelope.Wrap(ctx, producerName, alertID, payload)
	if err != nil {
		return fmt.Errorf("wrap enriched alert %s: %w", alertID, err)
	}
	if err := c.pub.Publish(ctx, broker.QueueEnriched, out); err != nil {
		return err
	}

	c.audit(ctx, alertID, "enriched", map[string]any{
		"partial":     ec.Partial,
		"has_network": ec.Network != nil,
		"has_asset":   ec.Asset != nil,
		"has_user":    ec.User != nil,
	})
	log.Info("alert enriched",
		zap.Bool("partial", ec.Partial),
		zap.Bool("has_network", ec.Network != nil),
		zap.Bool("has_asset", ec.Asset != nil),
		zap.Bool("has_user", ec.User != nil))
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
	if err := c.store.AppendAudit(ctx, alertID, "enricher", action, detail); err != nil {
		c.logger.Warn("audit write failed", zap.String("alert_id", alertID), zap.Error(err))
	}
}
