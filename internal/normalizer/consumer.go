package normalizer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/argus-sec/argus/internal/broker"
	"github.com/argus-sec/argus/internal/envelope"
	"github.com/argus-sec/argus/internal/telemetry"
	"github.com/argus-sec/argus/pkg/types"
)

const producerName = "argus-normalizer"

// Store is the slice of the store this stage writes.
type Store interface {
	MarkNormalized(ctx context.Context, a types.Alert, fingerprint string) (bool, error)
	MarkError(ctx context.Context, alertID string) error
	AppendAudit(ctx context.Context, alertID, stage, action string, detail map[string]any) error
}

// Publisher pushes the stage output to the next queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, env envelope.Envelope) error
}

// Consumer normalizes raw alerts: vendor mapping, IOC extraction,
// fingerprinting and the dedup drop. One input message yields at most
// one alert.normalized message.
type Consumer struct {
	store   Store
	pub     Publisher
	window  *Window
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewConsumer(st Store, pub Publisher, window *Window, metrics *telemetry.Metrics, logger *zap.Logger) *Consumer {
	return &Consumer{
		store:   st,
		pub:     pub,
		window:  window,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Handle processes one alert.raw delivery. Returning nil acks; a
// FatalError parks the message; anything else goes through the retry
// queue.
func (c *Consumer) Handle(ctx context.Context, env envelope.Envelope) error {
	var raw types.Alert
	if err := env.Open(&raw); err != nil {
		return broker.Fatal("malformed alert payload", err)
	}
	if raw.AlertID == "" {
		return broker.Fatal("payload missing alert_id", nil)
	}

	profile := DetectProfile(raw)
	alert := ApplyMapping(raw, profile, c.now())
	iocs := ExtractIOCs(alert)
	fingerprint := types.Fingerprint(alert)

	log := c.logger.With(
		zap.String("alert_id", alert.AlertID),
		zap.String("fingerprint", fingerprint),
		zap.String("profile", profile),
	)

	if c.window.Seen(fingerprint) {
		c.metrics.DedupDropped.Inc()
		c.audit(ctx, alert.AlertID, "dedup_dropped", map[string]any{"fingerprint": fingerprint})
		log.Info("duplicate fingerprint dropped")
		return nil
	}

	alert.Status = types.StatusNormalized
	advanced, err := c.store.MarkNormalized(ctx, alert, fingerprint)
	if err != nil {
		return fmt.Errorf("persist normalized alert %s: %w", alert.AlertID, err)
	}
	if !advanced {
		// Redelivery after a crash between commit and publish; the row
		// is already normalized, so just publish again.
		log.Info("alert already normalized, republishing")
	}

	payload := types.NormalizedAlert{
		Alert:       alert,
		IOCs:        iocs,
		Fingerprint: fingerprint,
		Profile:     profile,
	}
	out, err := envelope.Wrap(ctx, producerName, alert.AlertID, payload)
	if err != nil {
		return fmt.Errorf("wrap normalized alert %s: %w", alert.AlertID, err)
	}
	if err := c.pub.Publish(ctx, broker.QueueNormalized, out); err != nil {
		return err
	}

	// Recorded only now: a failure above retries this message, and the
	// retry must not see its own fingerprint as a duplicate.
	c.window.Observe(fingerprint)

	c.audit(ctx, alert.AlertID, "normalized", map[string]any{"ioc_count": iocs.Count()})
	log.Info("alert normalized", zap.Int("ioc_count", iocs.Count()))
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
	if err := c.store.AppendAudit(ctx, alertID, "normalizer", action, detail); err != nil {
		c.logger.Warn("audit write failed", zap.String("alert_id", alertID), zap.Error(err))
	}
}
