// Package envelope implements the message contract shared by every
// queue: a _meta block carrying identity, provenance and tracing, and
// an opaque data block owned by the producing stage. Payloads are
// wrapped exactly once at publish and opened exactly once at consume.
package envelope

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// SchemaVersion is stamped on every outgoing message. Consumers accept
// any version and ignore fields they do not know.
const SchemaVersion = "1.0"

// Meta identifies a message and the alert it belongs to. The
// correlation id equals the alert id on every hop, so one alert's
// whole journey shares a single value.
type Meta struct {
	MessageID     string    `json:"message_id"`
	CorrelationID string    `json:"correlation_id"`
	Producer      string    `json:"producer"`
	SchemaVersion string    `json:"schema_version"`
	OccurredAt    time.Time `json:"occurred_at"`
	RetryCount    int       `json:"retry_count"`
	TraceID       string    `json:"trace_id,omitempty"`
	SpanID        string    `json:"span_id,omitempty"`
}

// Envelope is the wire shape of every queue message.
type Envelope struct {
	Meta Meta            `json:"_meta"`
	Data json.RawMessage `json:"data"`
}

// Wrap builds a fresh envelope around payload. Trace identifiers are
// captured from ctx when a valid span context is present so consumers
// can continue the trace across the broker.
func Wrap(ctx context.Context, producer, correlationID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	meta := Meta{
		MessageID:     ulid.Make().String(),
		CorrelationID: correlationID,
		Producer:      producer,
		SchemaVersion: SchemaVersion,
		OccurredAt:    time.Now().UTC(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		meta.TraceID = sc.TraceID().String()
		meta.SpanID = sc.SpanID().String()
	}
	return Envelope{Meta: meta, Data: data}, nil
}

// Encode serializes the envelope for publishing.
func (e Envelope) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.Meta.MessageID, err)
	}
	return raw, nil
}

// Decode parses a delivery body. A body that is not JSON or lacks the
// _meta block is permanently malformed; callers treat that as fatal
// rather than retrying it.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Meta.MessageID == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing _meta.message_id")
	}
	return e, nil
}

// Open unmarshals the data block into v.
func (e Envelope) Open(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("open payload of %s from %s: %w", e.Meta.MessageID, e.Meta.Producer, err)
	}
	return nil
}

// WithRetry returns a copy carrying the new retry count. The message
// id is kept so all deliveries of one logical message correlate in
// logs and traces.
func (e Envelope) WithRetry(count int) Envelope {
	e.Meta.RetryCount = count
	return e
}

// ExtractTraceContext restores the producer's span context into ctx as
// a remote parent. Missing or malformed identifiers leave ctx as is.
func (e Envelope) ExtractTraceContext(ctx context.Context) context.Context {
	if e.Meta.TraceID == "" || e.Meta.SpanID == "" {
		return ctx
	}
	traceID, err := trace.TraceIDFromHex(e.Meta.TraceID)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(e.Meta.SpanID)
	if err != nil {
		return ctx
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}
