package intel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/argus-sec/argus/internal/broker"
	"github.com/argus-sec/argus/internal/cache"
	"github.com/argus-sec/argus/internal/envelope"
	"github.com/argus-sec/argus/internal/telemetry"
	"github.com/argus-sec/argus/pkg/types"
)

type mockStore struct {
	saveFn func(context.Context, string, []types.IntelFinding) error
	errFn  func(context.Context, string) error
	audits []string
}

func (m *mockStore) SaveIntelFindings(ctx context.Context, alertID string, findings []types.IntelFinding) error {
	if m.saveFn != nil {
		return m.saveFn(ctx, alertID, findings)
	}
	return nil
}

func (m *mockStore) MarkError(ctx context.Context, alertID string) error {
	if m.errFn != nil {
		return m.errFn(ctx, alertID)
	}
	return nil
}

func (m *mockStore) AppendAudit(_ context.Context, _, _, action string, _ map[string]any) error {
	m.audits = append(m.audits, action)
	return nil
}

type mockPublisher struct {
	publishFn func(context.Context, string, envelope.Envelope) error
	published []publishedMsg
}

type publishedMsg struct {
	queue string
	env   envelope.Envelope
}

func (m *mockPublisher) Publish(ctx context.Context, queue string, env envelope.Envelope) error {
	m.published = append(m.published, publishedMsg{queue: queue, env: env})
	if m.publishFn != nil {
		return m.publishFn(ctx, queue, env)
	}
	return nil
}

func newConsumerUnderTest(t *testing.T, st *mockStore, pub *mockPublisher) *Consumer {
	t.Helper()
	agg := NewAggregator(
		[]Provider{NewLocalProvider()},
		cache.NewMemory(),
		24*time.Hour, time.Second, 4,
		telemetry.NewMetrics(),
		zaptest.NewLogger(t),
	)
	return NewConsumer(st, pub, agg, zaptest.NewLogger(t))
}

func enrichedEnvelope(t *testing.T, in types.EnrichedAlert) envelope.Envelope {
	t.Helper()
	env, err := envelope.Wrap(context.Background(), "argus-enricher", in.Alert.AlertID, in)
	require.NoError(t, err)
	return env
}

func TestHandle_ContextualizesAndPublishes(t *testing.T) {
	var saved []types.IntelFinding
	st := &mockStore{saveFn: func(_ context.Context, _ string, findings []types.IntelFinding) error {
		saved = findings
		return nil
	}}
	pub := &mockPublisher{}
	c := newConsumerUnderTest(t, st, pub)

	in := types.EnrichedAlert{
		NormalizedAlert: types.NormalizedAlert{
			Alert: types.Alert{AlertID: "ALT-200", AlertType: types.AlertTypeMalware},
		},
	}
	in.IOCs.Add(types.IOCTypeHash, "5d41402abc4b2a76b9719d911017c592")

	err := c.Handle(context.Background(), enrichedEnvelope(t, in))
	require.NoError(t, err)

	require.Len(t, saved, 1)
	assert.Equal(t, types.VerdictMalicious, saved[0].Verdict)

	require.Len(t, pub.published, 1)
	assert.Equal(t, broker.QueueContextualized, pub.published[0].queue)

	var out types.ContextualizedAlert
	require.NoError(t, pub.published[0].env.Open(&out))
	assert.Equal(t, "ALT-200", out.Alert.AlertID)
	assert.Equal(t, types.VerdictMalicious, out.Intel.WorstVerdict)
	assert.InDelta(t, 95, out.Intel.ThreatScore, 0.01)
	assert.Contains(t, st.audits, "contextualized")
}

func TestHandle_PrivateIPsMarkedUnknown(t *testing.T) {
	pub := &mockPublisher{}
	c := newConsumerUnderTest(t, &mockStore{}, pub)

	in := types.EnrichedAlert{
		NormalizedAlert: types.NormalizedAlert{
			Alert: types.Alert{AlertID: "ALT-201", AlertType: types.AlertTypeBruteForce},
		},
	}
	in.IOCs.Add(types.IOCTypeIP, "10.0.0.5")
	in.IOCs.Add(types.IOCTypeIP, "10.0.0.20")

	err := c.Handle(context.Background(), enrichedEnvelope(t, in))
	require.NoError(t, err)

	var out types.ContextualizedAlert
	require.NoError(t, pub.published[0].env.Open(&out))
	require.Len(t, out.Intel.Assessments, 2)
	for _, a := range out.Intel.Assessments {
		assert.Equal(t, types.VerdictUnknown, a.Verdict)
	}
	assert.Equal(t, types.VerdictUnknown, out.Intel.WorstVerdict)
	assert.Zero(t, out.Intel.ThreatScore)
}

func TestHandle_NoIOCs(t *testing.T) {
	pub := &mockPublisher{}
	c := newConsumerUnderTest(t, &mockStore{}, pub)

	err := c.Handle(context.Background(), enrichedEnvelope(t, types.EnrichedAlert{
		NormalizedAlert: types.NormalizedAlert{Alert: types.Alert{AlertID: "ALT-202"}},
	}))
	require.NoError(t, err)

	var out types.ContextualizedAlert
	require.NoError(t, pub.published[0].env.Open(&out))
	assert.Empty(t, out.Intel.Assessments)
	assert.Equal(t, types.VerdictUnknown, out.Intel.WorstVerdict)
}

func TestHandle_MalformedPayloadIsFatal(t *testing.T) {
	c := newConsumerUnderTest(t, &mockStore{}, &mockPublisher{})

	env, err := envelope.Wrap(context.Background(), "argus-enricher", "ALT-203", map[string]any{
		"alert": map[string]any{"alert_id": "ALT-203", "alert_type": 7},
	})
	require.NoError(t, err)

	err = c.Handle(context.Background(), env)
	assert.True(t, broker.IsFatal(err))
}

func TestHandle_StoreFailureRetries(t *testing.T) {
	st := &mockStore{saveFn: func(context.Context, string, []types.IntelFinding) error {
		return errors.New("db down")
	}}
	pub := &mockPublisher{}
	c := newConsumerUnderTest(t, st, pub)

	in := types.EnrichedAlert{
		NormalizedAlert: types.NormalizedAlert{Alert: types.Alert{AlertID: "ALT-204"}},
	}
	in.IOCs.Add(types.IOCTypeDomain, "bad.example.net")

	err := c.Handle(context.Background(), enrichedEnvelope(t, in))
	require.Error(t, err)
	assert.False(t, broker.IsFatal(err))
	assert.Empty(t, pub.published)
}

func TestOnDeadLetter_MarksAlertError(t *testing.T) {
	var marked string
	st := &mockStore{errFn: func(_ context.Context, alertID string) error {
		marked = alertID
		return nil
	}}
	c := newConsumerUnderTest(t, st, &mockPublisher{})

	c.OnDeadLetter(context.Background(), "ALT-205", "handler: boom")
	assert.Equal(t, "ALT-205", marked)
	assert.Contains(t, st.audits, "dead_lettered")
}
