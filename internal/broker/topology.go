package broker

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Work queue names, one per pipeline edge. Every queue Q is declared
// alongside Q.retry (delayed redelivery) and Q.dlq (terminal parking).
const (
	QueueRaw            = "alert.raw"
	QueueNormalized     = "alert.normalized"
	QueueEnriched       = "alert.enriched"
	QueueContextualized = "alert.contextualized"
	QueueResult         = "alert.result"

	retrySuffix = ".retry"
	dlqSuffix   = ".dlq"
)

// Queues lists every work queue in pipeline order.
var Queues = []string{
	QueueRaw,
	QueueNormalized,
	QueueEnriched,
	QueueContextualized,
	QueueResult,
}

// RetryQueue names the delay queue companion of q.
func RetryQueue(q string) string { return q + retrySuffix }

// DLQ names the dead-letter companion of q.
func DLQ(q string) string { return q + dlqSuffix }

// retryQueueTTL is the queue-level ceiling on how long a message may
// wait for redelivery. Per-message expirations set by the consumer are
// always below it; the ceiling only matters if a producer forgets one.
const retryQueueTTL = 5 * time.Minute

// Headers stamped on retried and dead-lettered messages.
const (
	headerDeathReason = "x-death-reason"
	headerOriginQueue = "x-origin-queue"
	headerError       = "x-error"
)

// ProvisionTopology idempotently declares every work queue with its
// retry and dead-letter companions. All routing goes through the
// default exchange, so queue names are the only topology there is.
// Safe to call from every service at startup.
func (c *Client) ProvisionTopology() error {
	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("provision topology: %w", err)
	}
	defer ch.Close()

	for _, q := range Queues {
		if err := declareQueueSet(ch, q); err != nil {
			return fmt.Errorf("provision %s: %w", q, err)
		}
	}

	c.log.Info("broker topology provisioned", zap.Int("queues", len(Queues)))
	return nil
}

func declareQueueSet(ch *amqp.Channel, q string) error {
	// The work queue dead-letters rejected deliveries into its retry
	// queue; in practice the consumer republishes explicitly and this
	// routing is the safety net for broker-side rejections.
	if _, err := ch.QueueDeclare(q, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": RetryQueue(q),
	}); err != nil {
		return fmt.Errorf("declare %s: %w", q, err)
	}

	// The retry queue has no consumers. Expired messages dead-letter
	// straight back onto the work queue.
	if _, err := ch.QueueDeclare(RetryQueue(q), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q,
		"x-message-ttl":             retryQueueTTL.Milliseconds(),
	}); err != nil {
		return fmt.Errorf("declare %s: %w", RetryQueue(q), err)
	}

	// Terminal parking lot, drained by operators.
	if _, err := ch.QueueDeclare(DLQ(q), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", DLQ(q), err)
	}
	return nil
}
