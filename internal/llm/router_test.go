package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/argus-sec/argus/internal/llm"
	"github.com/argus-sec/argus/internal/llm/llmmock"
	"github.com/argus-sec/argus/internal/telemetry"
)

func testCatalog() llm.Catalog {
	return llm.Catalog{Models: []llm.ModelSpec{
		{ID: "strong", Provider: "mock", Model: "m-strong", ContextWindow: 200000, Strengths: []string{"triage", "malware"}, CostTier: 2},
		{ID: "cheap", Provider: "mock", Model: "m-cheap", ContextWindow: 128000, Strengths: []string{"triage", "brute_force"}, CostTier: 1},
		{ID: "free", Provider: "mock", Model: "m-free", ContextWindow: 32768, Strengths: []string{"triage"}, CostTier: 0},
	}}
}

func newRouterUnderTest(t *testing.T, provider llm.Provider) *llm.Router {
	t.Helper()
	r, err := llm.NewRouter(
		testCatalog(),
		map[string]llm.Provider{"mock": provider},
		llm.RouterOptions{MaxRetries: 2, RetryInterval: time.Millisecond, Cooldown: 50 * time.Millisecond},
		telemetry.NewMetrics(),
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	return r
}

func transientErr(model string) error {
	return &llm.CallError{Provider: "mock", Model: model, Status: 503, Err: errors.New("upstream unavailable")}
}

func fatalErr(model string) error {
	return &llm.CallError{Provider: "mock", Model: model, Status: 401, Err: errors.New("invalid api key")}
}

func TestRoute_PinnedHealthyModelWins(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := llmmock.NewMockProvider(ctrl)
	provider.EXPECT().
		Complete(gomock.Any(), "m-cheap", gomock.Any()).
		Return(&llm.Response{Content: "pinned answer", Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}, nil)

	r := newRouterUnderTest(t, provider)
	res, err := r.Route(context.Background(), llm.Task{
		Type:        "malware",
		Complexity:  9,
		PinnedModel: "cheap",
		Request:     llm.Request{Prompt: "p", MaxTokens: 64},
	})
	require.NoError(t, err)
	assert.Equal(t, "cheap", res.ModelID)
	assert.Equal(t, "pinned answer", res.Content)
	assert.Equal(t, 10, res.Usage.InputTokens)
}

func TestRoute_PinnedUnknownModelErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := newRouterUnderTest(t, llmmock.NewMockProvider(ctrl))

	_, err := r.Route(context.Background(), llm.Task{Type: "triage", PinnedModel: "gpt-9000"})
	assert.ErrorIs(t, err, llm.ErrUnknownModel)
}

func TestRoute_SpecificStrengthOutranksCost(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := llmmock.NewMockProvider(ctrl)
	// Only "strong" names malware; it must win even though free is cheaper.
	provider.EXPECT().
		Complete(gomock.Any(), "m-strong", gomock.Any()).
		Return(&llm.Response{Content: "ok"}, nil)

	r := newRouterUnderTest(t, provider)
	res, err := r.Route(context.Background(), llm.Task{Type: "malware", Complexity: 1, Request: llm.Request{Prompt: "p"}})
	require.NoError(t, err)
	assert.Equal(t, "strong", res.ModelID)
}

func TestRoute_LowComplexityPicksCheapest(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := llmmock.NewMockProvider(ctrl)
	provider.EXPECT().
		Complete(gomock.Any(), "m-free", gomock.Any()).
		Return(&llm.Response{Content: "ok"}, nil)

	r := newRouterUnderTest(t, provider)
	res, err := r.Route(context.Background(), llm.Task{Type: "other", Complexity: 1, Request: llm.Request{Prompt: "p"}})
	require.NoError(t, err)
	assert.Equal(t, "free", res.ModelID)
}

func TestRoute_HighComplexityDemandsTopTier(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := llmmock.NewMockProvider(ctrl)
	provider.EXPECT().
		Complete(gomock.Any(), "m-strong", gomock.Any()).
		Return(&llm.Response{Content: "ok"}, nil)

	r := newRouterUnderTest(t, provider)
	res, err := r.Route(context.Background(), llm.Task{Type: "other", Complexity: 9, Request: llm.Request{Prompt: "p"}})
	require.NoError(t, err)
	assert.Equal(t, "strong", res.ModelID)
}

func TestRoute_TransientRetriesSameModel(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := llmmock.NewMockProvider(ctrl)
	gomock.InOrder(
		provider.EXPECT().
			Complete(gomock.Any(), "m-free", gomock.Any()).
			Return(nil, transientErr("m-free")).
			Times(2),
		provider.EXPECT().
			Complete(gomock.Any(), "m-free", gomock.Any()).
			Return(&llm.Response{Content: "third time lucky"}, nil),
	)

	r := newRouterUnderTest(t, provider)
	res, err := r.Route(context.Background(), llm.Task{Type: "other", Complexity: 0, Request: llm.Request{Prompt: "p"}})
	require.NoError(t, err)
	assert.Equal(t, "free", res.ModelID)
	assert.Equal(t, "third time lucky", res.Content)
}

func TestRoute_FatalSkipsStraightToNextModel(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := llmmock.NewMockProvider(ctrl)
	// A 401 must not be retried on the same model.
	provider.EXPECT().
		Complete(gomock.Any(), "m-free", gomock.Any()).
		Return(nil, fatalErr("m-free")).
		Times(1)
	provider.EXPECT().
		Complete(gomock.Any(), "m-cheap", gomock.Any()).
		Return(&llm.Response{Content: "fallback"}, nil)

	r := newRouterUnderTest(t, provider)
	res, err := r.Route(context.Background(), llm.Task{Type: "other", Complexity: 0, Request: llm.Request{Prompt: "p"}})
	require.NoError(t, err)
	assert.Equal(t, "cheap", res.ModelID)
}

func TestRoute_PrimaryOutageFallsBackAcrossModels(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := llmmock.NewMockProvider(ctrl)
	// Persistent 503 exhausts the primary (initial try + 2 retries),
	// then the next candidate serves the task.
	provider.EXPECT().
		Complete(gomock.Any(), "m-strong", gomock.Any()).
		Return(nil, transientErr("m-strong")).
		Times(3)
	provider.EXPECT().
		Complete(gomock.Any(), "m-cheap", gomock.Any()).
		Return(&llm.Response{Content: "fallback"}, nil)

	r := newRouterUnderTest(t, provider)
	res, err := r.Route(context.Background(), llm.Task{Type: "other", Complexity: 9, Request: llm.Request{Prompt: "p"}})
	require.NoError(t, err)
	assert.Equal(t, "cheap", res.ModelID)
	assert.Equal(t, "fallback", res.Content)
}

func TestRoute_AllModelsExhaustedUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := llmmock.NewMockProvider(ctrl)
	provider.EXPECT().
		Complete(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, fatalErr("any")).
		AnyTimes()

	r := newRouterUnderTest(t, provider)
	_, err := r.Route(context.Background(), llm.Task{Type: "other", Complexity: 0, Request: llm.Request{Prompt: "p"}})
	assert.ErrorIs(t, err, llm.ErrRouterUnavailable)
}

func TestRoute_BreakerTripsAndExcludesModel(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := llmmock.NewMockProvider(ctrl)
	// Three straight fatal failures trip the free model's breaker.
	provider.EXPECT().
		Complete(gomock.Any(), "m-free", gomock.Any()).
		Return(nil, fatalErr("m-free")).
		Times(3)
	// Each failed route falls back to the next candidate, and once the
	// breaker is open the free model is not called at all.
	provider.EXPECT().
		Complete(gomock.Any(), "m-cheap", gomock.Any()).
		Return(&llm.Response{Content: "ok"}, nil).
		Times(4)

	r := newRouterUnderTest(t, provider)
	task := llm.Task{Type: "other", Complexity: 0, Request: llm.Request{Prompt: "p"}}
	for i := 0; i < 4; i++ {
		res, err := r.Route(context.Background(), task)
		require.NoError(t, err)
		assert.Equal(t, "cheap", res.ModelID)
	}

	assert.False(t, r.Healthy("free"))
	assert.True(t, r.Healthy("cheap"))
	assert.Equal(t, "open", r.HealthSnapshot()["free"])
}

func TestRoute_PinnedUnhealthyFallsBackToRanking(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := llmmock.NewMockProvider(ctrl)
	provider.EXPECT().
		Complete(gomock.Any(), "m-free", gomock.Any()).
		Return(nil, fatalErr("m-free")).
		Times(3)
	provider.EXPECT().
		Complete(gomock.Any(), "m-cheap", gomock.Any()).
		Return(&llm.Response{Content: "ok"}, nil).
		Times(4)

	r := newRouterUnderTest(t, provider)
	task := llm.Task{Type: "other", Complexity: 0, Request: llm.Request{Prompt: "p"}}
	for i := 0; i < 3; i++ {
		_, err := r.Route(context.Background(), task)
		require.NoError(t, err)
	}

	// Pinning the now-open model must not resurrect it.
	res, err := r.Route(context.Background(), llm.Task{
		Type: "other", Complexity: 0, PinnedModel: "free",
		Request: llm.Request{Prompt: "p"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cheap", res.ModelID)
}

func TestNewRouter_RejectsMissingProvider(t *testing.T) {
	_, err := llm.NewRouter(
		llm.Catalog{Models: []llm.ModelSpec{{ID: "x", Provider: "nope", Model: "m"}}},
		map[string]llm.Provider{},
		llm.RouterOptions{},
		telemetry.NewMetrics(),
		zaptest.NewLogger(t),
	)
	assert.Error(t, err)
}

func TestNewRouter_RejectsEmptyCatalog(t *testing.T) {
	_, err := llm.NewRouter(llm.Catalog{}, nil, llm.RouterOptions{}, telemetry.NewMetrics(), zaptest.NewLogger(t))
	assert.Error(t, err)
}
