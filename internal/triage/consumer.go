package triage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/argus-sec/argus/internal/broker"
	"github.com/argus-sec/argus/internal/envelope"
	"github.com/argus-sec/argus/internal/llm"
	"github.com/argus-sec/argus/internal/telemetry"
	"github.com/argus-sec/argus/internal/vector"
	"github.com/argus-sec/argus/pkg/types"
)

const producerName = "argus-triage"

// defaultMaxTokens bounds one completion; assessments are short.
const defaultMaxTokens = 1024

// Store is the slice of the store this stage writes.
type Store interface {
	UpsertTriageResult(ctx context.Context, r types.TriageResult) error
	InsertRemediationActions(ctx context.Context, alertID string, actions []types.RecommendedAction) error
	AdvanceStatus(ctx context.Context, alertID string, to types.Status) (bool, error)
	MarkError(ctx context.Context, alertID string) error
	AppendAudit(ctx context.Context, alertID, stage, action string, detail map[string]any) error
}

// Publisher pushes the stage output to the next queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, env envelope.Envelope) error
}

// Router serves one completion against whichever model is healthy.
type Router interface {
	Route(ctx context.Context, task llm.Task) (*llm.Result, error)
}

// SimilarityIndex is the slice of the vector index triage touches.
type SimilarityIndex interface {
	Similar(ctx context.Context, alert types.Alert, iocs types.IOCSet) ([]vector.Match, error)
	Add(ctx context.Context, alert types.Alert, iocs types.IOCSet, result types.TriageResult) error
}

// ConsumerOptions tune the stage. Zero values pick defaults.
type ConsumerOptions struct {
	// PinnedModel forces every task to try one model first.
	PinnedModel string
	// RetryBudget is the number of delayed redeliveries the queue grants
	// before a message would be dead-lettered. The consumer degrades to
	// the rule-based fallback on the last of them. Must match the queue
	// consumer's MaxRetries; defaults to 3.
	RetryBudget int
	// MaxTokens caps the completion length per call.
	MaxTokens int
}

// Consumer is the terminal pipeline stage: it turns a contextualized
// alert into a persisted TriageResult and an alert.result message.
// Model trouble degrades to a rule-based verdict rather than parking
// the alert.
type Consumer struct {
	store   Store
	pub     Publisher
	router  Router
	index   SimilarityIndex
	opts    ConsumerOptions
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

func NewConsumer(st Store, pub Publisher, router Router, index SimilarityIndex, opts ConsumerOptions, metrics *telemetry.Metrics, logger *zap.Logger) *Consumer {
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = 3
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return &Consumer{
		store:   st,
		pub:     pub,
		router:  router,
		index:   index,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
	}
}

// Handle processes one alert.contextualized delivery.
func (c *Consumer) Handle(ctx context.Context, env envelope.Envelope) error {
	var in types.ContextualizedAlert
	if err := env.Open(&in); err != nil {
		return broker.Fatal("malformed contextualized payload", err)
	}
	if in.Alert.AlertID == "" {
		return broker.Fatal("payload missing alert_id", nil)
	}
	alertID := in.Alert.AlertID
	log := c.logger.With(zap.String("alert_id", alertID))

	// Precedent lookup is best effort: an unreachable index costs the
	// prompt some context, never the alert.
	similar, err := c.index.Similar(ctx, in.Alert, in.IOCs)
	if err != nil {
		log.Warn("similarity search failed, continuing without precedent", zap.Error(err))
		similar = nil
	}

	result, err := c.analyze(ctx, in, similar, log)
	if err != nil {
		if env.Meta.RetryCount < c.opts.RetryBudget {
			return fmt.Errorf("analyze %s: %w", alertID, err)
		}
		// Last scheduled delivery. A rule-based verdict beats a parked
		// message, so degrade and ack.
		log.Warn("model analysis exhausted, degrading to rule-based verdict", zap.Error(err))
		fb := FallbackResult(in)
		result = &fb
		if c.metrics != nil {
			c.metrics.TriageFallbacks.Inc()
		}
	}
	result.Attempts = env.Meta.RetryCount + 1

	return c.finish(ctx, in, *result, log)
}

// analyze runs the model round trip: prompt, route, parse, and at most
// one repair pass when the answer does not honor the contract.
func (c *Consumer) analyze(ctx context.Context, in types.ContextualizedAlert, similar []vector.Match, log *zap.Logger) (*types.TriageResult, error) {
	system, user := BuildPrompt(in, similar)
	task := llm.Task{
		Type:        string(in.Alert.AlertType),
		Complexity:  llm.Complexity(in.Alert, in.IOCs.Count()),
		PinnedModel: c.opts.PinnedModel,
		Request: llm.Request{
			System:      system,
			Prompt:      user,
			MaxTokens:   c.opts.MaxTokens,
			Temperature: 0.2,
		},
	}

	res, err := c.router.Route(ctx, task)
	if err != nil {
		return nil, err
	}

	result, perr := ParseAnswer(in.Alert.AlertID, res.Content)
	if perr != nil {
		log.Warn("model answer failed validation, attempting repair",
			zap.String("model", res.ModelID),
			zap.Error(perr))

		// Pin the repair to the model that misbehaved so it sees its
		// own answer; if it just went unhealthy the router falls back.
		repair := task
		repair.PinnedModel = res.ModelID
		repair.Request.Prompt = RepairPrompt(res.Content, perr)

		res, err = c.router.Route(ctx, repair)
		if err != nil {
			return nil, err
		}
		if result, perr = ParseAnswer(in.Alert.AlertID, res.Content); perr != nil {
			return nil, fmt.Errorf("answer invalid after repair: %w", perr)
		}
	}

	result.ModelUsed = res.ModelID
	result.LatencyMS = res.Latency.Milliseconds()
	return result, nil
}

// finish persists the verdict, updates the similarity index and
// publishes alert.result. Everything here is idempotent by alert_id.
func (c *Consumer) finish(ctx context.Context, in types.ContextualizedAlert, result types.TriageResult, log *zap.Logger) error {
	alertID := in.Alert.AlertID

	if err := c.store.UpsertTriageResult(ctx, result); err != nil {
		return fmt.Errorf("persist triage result %s: %w", alertID, err)
	}
	if err := c.store.InsertRemediationActions(ctx, alertID, result.Actions); err != nil {
		return fmt.Errorf("persist remediation actions %s: %w", alertID, err)
	}
	advanced, err := c.store.AdvanceStatus(ctx, alertID, types.StatusAnalyzed)
	if err != nil {
		return fmt.Errorf("advance %s to analyzed: %w", alertID, err)
	}
	if !advanced {
		log.Info("alert already analyzed, republishing")
	}

	// Index after persisting so only recorded verdicts become
	// precedent. Best effort: a missing vector weakens future searches,
	// it does not fail the alert.
	if err := c.index.Add(ctx, in.Alert, in.IOCs, result); err != nil {
		log.Warn("similarity index update failed", zap.Error(err))
	}

	out, err := envelope.Wrap(ctx, producerName, alertID, types.TriageOutcome{AlertID: alertID, Result: result})
	if err != nil {
		return fmt.Errorf("wrap triage outcome %s: %w", alertID, err)
	}
	if err := c.pub.Publish(ctx, broker.QueueResult, out); err != nil {
		return err
	}

	c.audit(ctx, alertID, "analyzed", map[string]any{
		"risk_score": result.RiskScore,
		"risk_level": string(result.RiskLevel),
		"fallback":   result.Fallback,
		"model":      result.ModelUsed,
		"attempts":   result.Attempts,
	})
	log.Info("alert analyzed",
		zap.Float64("risk_score", result.RiskScore),
		zap.String("risk_level", string(result.RiskLevel)),
		zap.Bool("fallback", result.Fallback),
		zap.String("model", result.ModelUsed))
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
	if err := c.store.AppendAudit(ctx, alertID, "triage", action, detail); err != nil {
		c.logger.Warn("audit write failed", zap.String("alert_id", alertID), zap.Error(err))
	}
}
