package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/argus-sec/argus/internal/envelope"
	"github.com/argus-sec/argus/internal/telemetry"
)

// Handler processes one decoded envelope. Return nil to ack, a
// FatalError to park the message on the DLQ, and any other error to
// schedule a delayed retry. Handlers never ack or nack themselves.
type Handler func(ctx context.Context, env envelope.Envelope) error

// ConsumerOptions tune one queue's consume loop.
type ConsumerOptions struct {
	Queue          string
	Prefetch       int
	MaxRetries     int
	BackoffBase    time.Duration
	HandlerTimeout time.Duration

	// OnDeadLetter, when set, runs after a message is parked so the
	// owning stage can mark the alert failed. Best effort: a panic-free
	// no-op on nil.
	OnDeadLetter func(ctx context.Context, correlationID, reason string)
}

// Consumer drives one work queue: decode, run the handler under its
// deadline, then translate the result into ack, delayed retry or DLQ.
// Retries are republishes onto the delay queue with the envelope's
// retry counter bumped, so the count survives broker restarts.
type Consumer struct {
	client  *Client
	pub     *Publisher
	opts    ConsumerOptions
	handler Handler
	metrics *telemetry.Metrics
	log     *zap.Logger
	tracer  trace.Tracer
}

// NewConsumer wires a handler to a queue. Defaults: prefetch 10,
// 3 retries, 1s backoff base, 60s handler timeout.
func NewConsumer(client *Client, pub *Publisher, opts ConsumerOptions, handler Handler, metrics *telemetry.Metrics, logger *zap.Logger) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 10
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 60 * time.Second
	}
	return &Consumer{
		client:  client,
		pub:     pub,
		opts:    opts,
		handler: handler,
		metrics: metrics,
		log:     logger.With(zap.String("queue", opts.Queue)),
		tracer:  otel.Tracer("argus-broker"),
	}
}

// Start subscribes and launches the processing loop in a background
// goroutine. It returns immediately; a queue that cannot be consumed
// at all fails fast so startup catches topology mistakes.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, ch, err := c.subscribe()
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.opts.Queue, err)
	}

	c.log.Info("consumer started",
		zap.Int("prefetch", c.opts.Prefetch),
		zap.Int("max_retries", c.opts.MaxRetries),
	)

	go c.run(ctx, deliveries, ch)
	return nil
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, *amqp.Channel, error) {
	ch, err := c.client.Channel()
	if err != nil {
		return nil, nil, err
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, err
	}
	return deliveries, ch, nil
}

func (c *Consumer) run(ctx context.Context, deliveries <-chan amqp.Delivery, ch *amqp.Channel) {
	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopping")
			ch.Close()
			return
		case d, ok := <-deliveries:
			if !ok {
				// Channel lost, usually a broker restart. Resubscribe
				// until it comes back or we are shut down.
				deliveries, ch = c.resubscribe(ctx)
				if deliveries == nil {
					return
				}
				continue
			}
			c.processDelivery(ctx, d)
		}
	}
}

func (c *Consumer) resubscribe(ctx context.Context) (<-chan amqp.Delivery, *amqp.Channel) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		default:
		}

		deliveries, ch, err := c.subscribe()
		if err == nil {
			c.log.Info("consumer resubscribed")
			return deliveries, ch
		}

		wait := bo.NextBackOff()
		c.log.Warn("resubscribe failed", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(wait):
		}
	}
}

// processDelivery is the single place delivery acknowledgements
// happen. Unacked redeliveries after a crash are expected; handlers
// are idempotent by alert_id.
func (c *Consumer) processDelivery(ctx context.Context, d amqp.Delivery) {
	start := time.Now()

	env, err := envelope.Decode(d.Body)
	if err != nil {
		// Not even an envelope. Park the raw bytes for inspection.
		c.deadLetter(ctx, d, envelope.Envelope{}, "malformed envelope", err)
		return
	}

	hctx := env.ExtractTraceContext(ctx)
	hctx, span := c.tracer.Start(hctx, c.opts.Queue+" process")
	defer span.End()

	hctx, cancel := context.WithTimeout(hctx, c.opts.HandlerTimeout)
	defer cancel()

	err = c.handler(hctx, env)
	c.metrics.HandlerDuration.WithLabelValues(c.opts.Queue).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Error("ack failed", zap.Error(ackErr))
			return
		}
		c.metrics.MessagesConsumed.WithLabelValues(c.opts.Queue, "ok").Inc()
	case IsFatal(err):
		span.RecordError(err)
		c.deadLetter(ctx, d, env, FatalReason(err), err)
	default:
		span.RecordError(err)
		c.retry(ctx, d, env, err)
	}
}

// retry republishes to the delay queue with the counter bumped, or
// parks the message once the budget is spent. The original delivery is
// acked only after the replacement publish is confirmed, so the
// message can never be lost in between.
func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, env envelope.Envelope, cause error) {
	next := env.Meta.RetryCount + 1
	if next > c.opts.MaxRetries {
		c.deadLetter(ctx, d, env, "retry budget exhausted", cause)
		return
	}

	delay := retryDelay(c.opts.BackoffBase, next)
	err := c.pub.publishWith(ctx, RetryQueue(c.opts.Queue), env.WithRetry(next), delay, amqp.Table{
		headerOriginQueue: c.opts.Queue,
	})
	if err != nil {
		// Could not park the retry. Requeue the original so the broker
		// redelivers it; worse backoff beats a lost message.
		c.log.Error("retry publish failed, requeueing delivery", zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.log.Error("nack failed", zap.Error(nackErr))
		}
		c.metrics.MessagesConsumed.WithLabelValues(c.opts.Queue, "requeued").Inc()
		return
	}

	c.log.Warn("retrying message",
		zap.String("message_id", env.Meta.MessageID),
		zap.String("correlation_id", env.Meta.CorrelationID),
		zap.Int("retry", next),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	if ackErr := d.Ack(false); ackErr != nil {
		c.log.Error("ack after retry publish failed", zap.Error(ackErr))
	}
	c.metrics.MessagesConsumed.WithLabelValues(c.opts.Queue, "retry").Inc()
}

// retryDelay doubles per attempt: base, 2x, 4x for attempts 1..3.
func retryDelay(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

func (c *Consumer) deadLetter(ctx context.Context, d amqp.Delivery, env envelope.Envelope, reason string, cause error) {
	headers := amqp.Table{
		headerDeathReason: reason,
		headerOriginQueue: c.opts.Queue,
	}
	if cause != nil {
		headers[headerError] = cause.Error()
	}

	var err error
	if env.Meta.MessageID == "" {
		err = c.pub.publishRaw(ctx, DLQ(c.opts.Queue), d.Body, headers)
	} else {
		err = c.pub.publishWith(ctx, DLQ(c.opts.Queue), env, 0, headers)
	}
	if err != nil {
		c.log.Error("dead-letter publish failed, requeueing delivery", zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.log.Error("nack failed", zap.Error(nackErr))
		}
		return
	}

	c.log.Error("message dead-lettered",
		zap.String("message_id", env.Meta.MessageID),
		zap.String("correlation_id", env.Meta.CorrelationID),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	if ackErr := d.Ack(false); ackErr != nil {
		c.log.Error("ack after dead-letter failed", zap.Error(ackErr))
	}
	c.metrics.DeadLettered.WithLabelValues(c.opts.Queue, reason).Inc()
	c.metrics.MessagesConsumed.WithLabelValues(c.opts.Queue, "dlq").Inc()

	if c.opts.OnDeadLetter != nil && env.Meta.CorrelationID != "" {
		c.opts.OnDeadLetter(ctx, env.Meta.CorrelationID, reason)
	}
}
