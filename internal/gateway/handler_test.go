package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/argus-sec/argus/internal/telemetry"
	"github.com/argus-sec/argus/pkg/types"
)

// ── stubs ──────────────────────────────────────────────────────────────────

type stubLimiter struct {
	allowFn func(context.Context, string) (bool, time.Duration, error)
}

func (l *stubLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.allowFn != nil {
		return l.allowFn(ctx, key)
	}
	return true, 0, nil
}

type stubBroker struct{ healthy bool }

func (b *stubBroker) Healthy() bool { return b.healthy }

type handlerEnv struct {
	store   *mockStore
	pub     *mockPublisher
	limiter *stubLimiter
	broker  *stubBroker
	echo    *echo.Echo
}

func newHandlerEnv(t *testing.T, jwtSecret string) *handlerEnv {
	t.Helper()
	env := &handlerEnv{
		store:   &mockStore{},
		pub:     &mockPublisher{},
		limiter: &stubLimiter{},
		broker:  &stubBroker{healthy: true},
		echo:    echo.New(),
	}
	metrics := telemetry.NewMetrics()
	svc := NewService(env.store, env.pub, metrics, zaptest.NewLogger(t))
	h := NewHandler(svc, env.limiter, env.broker, jwtSecret, metrics, zaptest.NewLogger(t))
	h.Register(env.echo)
	return env
}

func (env *handlerEnv) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// ── POST /api/v1/alerts ────────────────────────────────────────────────────

func TestHandler_IngestSingle_Accepted(t *testing.T) {
	env := newHandlerEnv(t, "")

	rec := env.do(http.MethodPost, "/api/v1/alerts", mustJSON(t, validAlert("h-1")), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var res IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "h-1", res.AlertID)
	assert.True(t, res.Accepted)
	require.Len(t, env.pub.published, 1)
}

func TestHandler_IngestSingle_ValidationProblems(t *testing.T) {
	env := newHandlerEnv(t, "")

	bad := validAlert("h-2")
	bad.FileHash = "zz"
	rec := env.do(http.MethodPost, "/api/v1/alerts", mustJSON(t, bad), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error    string   `json:"error"`
		Problems []string `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation failed", body.Error)
	require.Len(t, body.Problems, 1)
	assert.Contains(t, body.Problems[0], "file_hash")
}

func TestHandler_IngestSingle_MalformedBody(t *testing.T) {
	env := newHandlerEnv(t, "")

	rec := env.do(http.MethodPost, "/api/v1/alerts", `{"alert_id": `, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.pub.published)
}

func TestHandler_IngestSingle_ArrayBodyRedirected(t *testing.T) {
	env := newHandlerEnv(t, "")

	rec := env.do(http.MethodPost, "/api/v1/alerts", mustJSON(t, []types.Alert{validAlert("h-2b")}), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1/alerts/batch")
	assert.Empty(t, env.pub.published)
}

// ── POST /api/v1/alerts/batch ──────────────────────────────────────────────

func TestHandler_IngestBatch_PerItem(t *testing.T) {
	env := newHandlerEnv(t, "")

	batch := map[string]any{"alerts": []types.Alert{validAlert("h-3"), {AlertID: ""}, validAlert("h-4")}}
	rec := env.do(http.MethodPost, "/api/v1/alerts/batch", mustJSON(t, batch), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var res BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.Items, 3)
	assert.NotEmpty(t, res.Items[1].Problems)
}

func TestHandler_IngestBatch_TooLarge(t *testing.T) {
	env := newHandlerEnv(t, "")

	batch := make([]types.Alert, MaxBatchSize+1)
	for i := range batch {
		batch[i] = validAlert("h-5")
	}
	rec := env.do(http.MethodPost, "/api/v1/alerts/batch", mustJSON(t, map[string]any{"alerts": batch}), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "batch exceeds")
}

func TestHandler_IngestBatch_ExactlyFullSucceeds(t *testing.T) {
	env := newHandlerEnv(t, "")

	batch := make([]types.Alert, MaxBatchSize)
	for i := range batch {
		batch[i] = validAlert("h-5f")
	}
	rec := env.do(http.MethodPost, "/api/v1/alerts/batch", mustJSON(t, map[string]any{"alerts": batch}), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandler_IngestBatch_BareArrayTolerated(t *testing.T) {
	env := newHandlerEnv(t, "")

	body := "\n\t [" + mustJSON(t, validAlert("h-6")) + "]"
	rec := env.do(http.MethodPost, "/api/v1/alerts/batch", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var res BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Accepted)
}

func TestHandler_IngestBatch_Empty(t *testing.T) {
	env := newHandlerEnv(t, "")
	rec := env.do(http.MethodPost, "/api/v1/alerts/batch", `{"alerts":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ── GET /api/v1/alerts/:id ─────────────────────────────────────────────────

func TestHandler_GetAlert_Found(t *testing.T) {
	env := newHandlerEnv(t, "")
	a := validAlert("h-7")
	a.Status = types.StatusAnalyzed
	env.store.getFn = func(_ context.Context, id string) (*types.Alert, error) {
		assert.Equal(t, "h-7", id)
		return &a, nil
	}

	rec := env.do(http.MethodGet, "/api/v1/alerts/h-7", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, types.StatusAnalyzed, got.Status)
}

func TestHandler_GetAlert_NotFound(t *testing.T) {
	env := newHandlerEnv(t, "")
	rec := env.do(http.MethodGet, "/api/v1/alerts/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_GetResult_NotFound(t *testing.T) {
	env := newHandlerEnv(t, "")
	rec := env.do(http.MethodGet, "/api/v1/alerts/h-8/result", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_GetResult_Found(t *testing.T) {
	env := newHandlerEnv(t, "")
	env.store.resultFn = func(_ context.Context, _ string) (*types.TriageResult, error) {
		return &types.TriageResult{AlertID: "h-9", RiskScore: 85, RiskLevel: types.SeverityCritical}, nil
	}

	rec := env.do(http.MethodGet, "/api/v1/alerts/h-9/result", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"risk_score":85`)
}

// ── GET /health ────────────────────────────────────────────────────────────

func TestHandler_Health_OK(t *testing.T) {
	env := newHandlerEnv(t, "")
	rec := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandler_Health_Degraded(t *testing.T) {
	env := newHandlerEnv(t, "")
	env.store.pingFn = func(context.Context) error { return errors.New("no route to host") }
	env.broker.healthy = false

	rec := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status  string            `json:"status"`
		Service string            `json:"service"`
		Checks  map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "argus-gateway", body.Service)
	assert.Equal(t, "down", body.Checks["database"])
	assert.Equal(t, "down", body.Checks["message_queue"])
}

// ── rate limiting ──────────────────────────────────────────────────────────

func TestHandler_RateLimited(t *testing.T) {
	env := newHandlerEnv(t, "")
	env.limiter.allowFn = func(context.Context, string) (bool, time.Duration, error) {
		return false, 42 * time.Second, nil
	}

	rec := env.do(http.MethodPost, "/api/v1/alerts", mustJSON(t, validAlert("h-10")), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	assert.Empty(t, env.pub.published)
}

func TestHandler_RateLimiterFailsOpen(t *testing.T) {
	env := newHandlerEnv(t, "")
	env.limiter.allowFn = func(context.Context, string) (bool, time.Duration, error) {
		return false, 0, errors.New("redis timeout")
	}

	rec := env.do(http.MethodPost, "/api/v1/alerts", mustJSON(t, validAlert("h-11")), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandler_HealthBypassesRateLimit(t *testing.T) {
	env := newHandlerEnv(t, "")
	env.limiter.allowFn = func(context.Context, string) (bool, time.Duration, error) {
		return false, time.Minute, nil
	}

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ── JWT ────────────────────────────────────────────────────────────────────

func signToken(t *testing.T, secret string, method jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": "sensor-17",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestHandler_JWT_MissingToken(t *testing.T) {
	env := newHandlerEnv(t, "topsecret")
	rec := env.do(http.MethodPost, "/api/v1/alerts", mustJSON(t, validAlert("h-12")), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.pub.published)
}

func TestHandler_JWT_WrongSecret(t *testing.T) {
	env := newHandlerEnv(t, "topsecret")
	header := map[string]string{"Authorization": "Bearer " + signToken(t, "other", jwt.SigningMethodHS256)}
	rec := env.do(http.MethodPost, "/api/v1/alerts", mustJSON(t, validAlert("h-13")), header)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_JWT_WeakAlgRejected(t *testing.T) {
	env := newHandlerEnv(t, "topsecret")
	header := map[string]string{"Authorization": "Bearer " + signToken(t, "topsecret", jwt.SigningMethodHS512)}
	rec := env.do(http.MethodPost, "/api/v1/alerts", mustJSON(t, validAlert("h-14")), header)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_JWT_Valid(t *testing.T) {
	env := newHandlerEnv(t, "topsecret")
	header := map[string]string{"Authorization": "Bearer " + signToken(t, "topsecret", jwt.SigningMethodHS256)}
	rec := env.do(http.MethodPost, "/api/v1/alerts", mustJSON(t, validAlert("h-15")), header)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, env.pub.published, 1)
}

func TestHandler_JWT_DisabledWhenNoSecret(t *testing.T) {
	env := newHandlerEnv(t, "")
	rec := env.do(http.MethodPost, "/api/v1/alerts", mustJSON(t, validAlert("h-16")), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

// ── helpers ────────────────────────────────────────────────────────────────

func TestIsArray(t *testing.T) {
	assert.True(t, isArray([]byte(`[{"a":1}]`)))
	assert.True(t, isArray([]byte(" \n\t[]")))
	assert.False(t, isArray([]byte(`{"a":1}`)))
	assert.False(t, isArray([]byte("")))
	assert.False(t, isArray([]byte("   ")))
}
