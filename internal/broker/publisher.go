package broker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/argus-sec/argus/internal/envelope"
	"github.com/argus-sec/argus/internal/telemetry"
)

// Publisher sends persistent messages through the default exchange and
// waits for broker confirmation on every publish. A message is only
// considered sent once the broker acks it; anything else surfaces as a
// PublishError the caller treats as transient.
type Publisher struct {
	client  *Client
	wait    time.Duration
	metrics *telemetry.Metrics
	log     *zap.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher opens a confirm-mode channel. confirmWait bounds how
// long a publish blocks waiting for the broker ack.
func NewPublisher(client *Client, confirmWait time.Duration, metrics *telemetry.Metrics, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{client: client, wait: confirmWait, metrics: metrics, log: logger}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureChannel(); err != nil {
		return nil, err
	}
	return p, nil
}

// Publish sends env to the named work queue.
func (p *Publisher) Publish(ctx context.Context, queue string, env envelope.Envelope) error {
	return p.publishWith(ctx, queue, env, 0, nil)
}

// publishWith is the shared path for work, retry and DLQ publishes.
// expiration, when positive, becomes the per-message TTL that drives
// retry backoff; headers carry the dead-letter annotations.
func (p *Publisher) publishWith(ctx context.Context, queue string, env envelope.Envelope, expiration time.Duration, headers amqp.Table) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.MessageID,
		CorrelationId: env.Meta.CorrelationID,
		Timestamp:     env.Meta.OccurredAt,
		Headers:       headers,
		Body:          body,
	}
	if expiration > 0 {
		msg.Expiration = strconv.FormatInt(expiration.Milliseconds(), 10)
	}
	return p.send(ctx, queue, msg)
}

// publishRaw forwards bytes that never decoded into an envelope, so a
// malformed message still lands on the DLQ for inspection.
func (p *Publisher) publishRaw(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	return p.send(ctx, queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
	})
}

func (p *Publisher) send(ctx context.Context, queue string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		p.metrics.PublishFailures.WithLabelValues(queue).Inc()
		return &PublishError{Queue: queue, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.wait)
	defer cancel()

	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		// Channel is unusable after a publish error. Drop it so the
		// next call opens a fresh one.
		p.dropChannel()
		p.metrics.PublishFailures.WithLabelValues(queue).Inc()
		return &PublishError{Queue: queue, Err: err}
	}

	ok, err := conf.WaitContext(ctx)
	if err != nil {
		p.metrics.PublishFailures.WithLabelValues(queue).Inc()
		return &PublishError{Queue: queue, Err: err}
	}
	if !ok {
		p.metrics.PublishFailures.WithLabelValues(queue).Inc()
		return &PublishError{Queue: queue, Err: errors.New("broker nacked the publish")}
	}

	p.metrics.MessagesPublished.WithLabelValues(queue).Inc()
	return nil
}

// ensureChannel reopens the confirm channel if the previous one died.
// Callers must hold p.mu.
func (p *Publisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	ch, err := p.client.Channel()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return err
	}
	p.ch = ch
	return nil
}

func (p *Publisher) dropChannel() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
}

// Close releases the publish channel. The shared connection is owned
// by the Client.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropChannel()
}
