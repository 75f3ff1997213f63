package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/argus-sec/argus/internal/telemetry"
)

// Task is one routing request: what to complete and how demanding the
// alert behind it is.
type Task struct {
	Type        string
	Complexity  int
	PinnedModel string
	Request
}

// Result is a served completion plus the accounting callers persist.
type Result struct {
	ModelID string
	Content string
	Usage   Usage
	Latency time.Duration
}

// RouterOptions tunes retry and health behavior. Zero values pick the
// defaults below.
type RouterOptions struct {
	// MaxRetries bounds same-model retries after a transient failure;
	// the first attempt is not counted.
	MaxRetries int
	// RetryInterval seeds the exponential backoff between same-model
	// retries.
	RetryInterval time.Duration
	// Cooldown is how long a tripped model stays excluded before a
	// probe call is allowed through.
	Cooldown time.Duration
	// BreakerWindow is the rolling window for error-rate accounting.
	BreakerWindow time.Duration
}

func (o *RouterOptions) defaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 200 * time.Millisecond
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 30 * time.Second
	}
	if o.BreakerWindow <= 0 {
		o.BreakerWindow = time.Minute
	}
}

// Router picks a model for each task and shepherds the call through
// retries, health tracking and fallback. State is process-local: each
// triage replica learns provider health from its own traffic.
type Router struct {
	catalog   Catalog
	providers map[string]Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	opts      RouterOptions
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

func NewRouter(catalog Catalog, providers map[string]Provider, opts RouterOptions, metrics *telemetry.Metrics, logger *zap.Logger) (*Router, error) {
	if len(catalog.Models) == 0 {
		return nil, fmt.Errorf("llm router: empty model catalog")
	}
	opts.defaults()

	r := &Router{
		catalog:   catalog,
		providers: providers,
		breakers:  make(map[string]*gobreaker.CircuitBreaker, len(catalog.Models)),
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
	for _, spec := range catalog.Models {
		if _, ok := providers[spec.Provider]; !ok {
			return nil, fmt.Errorf("llm router: model %s references unknown provider %s", spec.ID, spec.Provider)
		}
		r.breakers[spec.ID] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        spec.ID,
			MaxRequests: 1,
			Interval:    opts.BreakerWindow,
			Timeout:     opts.Cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.Requests >= 3 && float64(c.TotalFailures)/float64(c.Requests) >= 0.6
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("model health changed",
					zap.String("model", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return r, nil
}

// Route serves one task. Candidate models are tried in rank order;
// within a model, transient failures retry with exponential backoff.
// When every candidate is exhausted the caller gets
// ErrRouterUnavailable and decides its own degraded mode.
func (r *Router) Route(ctx context.Context, task Task) (*Result, error) {
	candidates, err := r.candidates(task)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrRouterUnavailable
	}

	var lastErr error
	for _, spec := range candidates {
		resp, latency, err := r.tryModel(ctx, spec, task.Request)
		if err == nil {
			return &Result{
				ModelID: spec.ID,
				Content: resp.Content,
				Usage:   resp.Usage,
				Latency: latency,
			}, nil
		}
		lastErr = err
		r.logger.Warn("model exhausted, falling back",
			zap.String("model", spec.ID),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: last attempt: %v", ErrRouterUnavailable, lastErr)
}

// Healthy reports whether a model is currently selectable.
func (r *Router) Healthy(modelID string) bool {
	cb, ok := r.breakers[modelID]
	return ok && cb.State() != gobreaker.StateOpen
}

// HealthSnapshot lists every model's breaker state, for health
// endpoints and debugging.
func (r *Router) HealthSnapshot() map[string]string {
	out := make(map[string]string, len(r.breakers))
	for id, cb := range r.breakers {
		out[id] = cb.State().String()
	}
	return out
}

// candidates orders the models worth trying for a task. A healthy
// pinned model goes alone in front; after that, healthy models that
// cover the task type, ranked by adequacy for the task's complexity
// and then by cost.
func (r *Router) candidates(task Task) ([]ModelSpec, error) {
	var out []ModelSpec

	if task.PinnedModel != "" {
		spec, ok := r.catalog.Get(task.PinnedModel)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModel, task.PinnedModel)
		}
		if r.Healthy(spec.ID) {
			out = append(out, spec)
		}
	}

	eligible := make([]ModelSpec, 0, len(r.catalog.Models))
	for _, spec := range r.catalog.Models {
		if spec.ID == task.PinnedModel && len(out) > 0 {
			continue
		}
		if !r.Healthy(spec.ID) || !spec.Covers(task.Type) {
			continue
		}
		eligible = append(eligible, spec)
	}

	required := tierFor(task.Complexity)
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		aOK, bOK := a.CostTier >= required, b.CostTier >= required
		if aOK != bOK {
			return aOK
		}
		if aSp, bSp := a.Specific(task.Type), b.Specific(task.Type); aSp != bSp {
			return aSp
		}
		if a.CostTier != b.CostTier {
			if aOK {
				// Both adequate: cheapest adequate model wins.
				return a.CostTier < b.CostTier
			}
			// Both underpowered: closest to the required tier wins.
			return a.CostTier > b.CostTier
		}
		return false
	})

	return append(out, eligible...), nil
}

// tryModel runs the call through the model's breaker, retrying
// transient failures in place. Fatal failures and a tripped breaker
// end the attempt so Route can fall back.
func (r *Router) tryModel(ctx context.Context, spec ModelSpec, req Request) (*Response, time.Duration, error) {
	provider := r.providers[spec.Provider]
	cb := r.breakers[spec.ID]

	var resp *Response
	var latency time.Duration

	operation := func() error {
		start := time.Now()
		out, err := cb.Execute(func() (interface{}, error) {
			return provider.Complete(ctx, spec.Model, req)
		})
		latency = time.Since(start)

		if err != nil {
			r.metrics.LLMRequests.WithLabelValues(spec.ID, "error").Inc()
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if Transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		resp = out.(*Response)
		r.metrics.LLMRequests.WithLabelValues(spec.ID, "ok").Inc()
		r.metrics.LLMLatency.WithLabelValues(spec.ID).Observe(latency.Seconds())
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.opts.MaxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, 0, err
	}
	return resp, latency, nil
}
