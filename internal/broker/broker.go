// Package broker wraps AMQP 0.9.1 for the pipeline: it owns the queue
// topology, confirmed publishing, and the consume loop that translates
// handler results into ack, delayed retry or dead-letter. Stage code
// never touches acknowledgements directly.
package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Client wraps an AMQP connection and re-dials it with exponential
// backoff whenever the broker drops it. Channels are cheap and
// per-purpose; the connection is shared.
type Client struct {
	url string
	log *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	closed bool
}

// NewClient connects to RabbitMQ, retrying briefly so a service racing
// the broker at boot does not crash-loop.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	c := &Client{url: url, log: logger}
	if _, err := c.connection(); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	logger.Info("RabbitMQ connected", zap.String("addr", redactedAddr(url)))
	return c, nil
}

// connection returns the live connection, dialing a new one when the
// previous one is gone.
func (c *Client) connection() (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = time.Minute

	var conn *amqp.Connection
	err := backoff.Retry(func() error {
		var dialErr error
		conn, dialErr = amqp.Dial(c.url)
		if dialErr != nil {
			c.log.Warn("broker dial failed", zap.Error(dialErr))
		}
		return dialErr
	}, bo)
	if err != nil {
		return nil, err
	}

	c.conn = conn
	return conn, nil
}

// Channel opens a fresh channel, reconnecting the underlying
// connection first when needed.
func (c *Client) Channel() (*amqp.Channel, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// Healthy reports whether the connection is currently open. Health
// endpoints use this; it never dials.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}

// Close shuts the connection down. In-flight consumers observe their
// delivery channels closing and exit through their context.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// redactedAddr reports host, port and vhost only; credentials embedded
// in the URL never reach the logs.
func redactedAddr(url string) string {
	uri, err := amqp.ParseURI(url)
	if err != nil {
		return "invalid-url"
	}
	return fmt.Sprintf("%s:%d%s", uri.Host, uri.Port, uri.Vhost)
}
