package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/argus-sec/argus/internal/telemetry"
	"github.com/argus-sec/argus/pkg/types"
)

// ── Shared error response helper ─────────────────────────────────────────

type errResp struct {
	Error string `json:"error"`
}

func errResponse(c echo.Context, status int, msg string) error {
	return c.JSON(status, errResp{Error: msg})
}

func handleSvcError(c echo.Context, err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":    "validation failed",
			"problems": ve.Problems,
		})
	case errors.Is(err, ErrBatchTooLarge):
		return errResponse(c, http.StatusBadRequest, err.Error())
	case IsNotFound(err):
		return errResponse(c, http.StatusNotFound, "not found")
	default:
		return errResponse(c, http.StatusInternalServerError, "internal error")
	}
}

// ── Alert Handler ─────────────────────────────────────────────────────────

// BrokerHealth reports broker liveness for the health endpoint.
type BrokerHealth interface {
	Healthy() bool
}

type Handler struct {
	svc       *Service
	limiter   Limiter
	brokerHC  BrokerHealth
	jwtSecret string
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

func NewHandler(svc *Service, limiter Limiter, brokerHC BrokerHealth, jwtSecret string, metrics *telemetry.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		svc:       svc,
		limiter:   limiter,
		brokerHC:  brokerHC,
		jwtSecret: jwtSecret,
		metrics:   metrics,
		logger:    logger,
	}
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.health)
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))

	g := e.Group("/api/v1")
	g.Use(h.rateLimit)
	if h.jwtSecret != "" {
		g.Use(h.requireJWT)
	}
	g.POST("/alerts", h.ingest)
	g.POST("/alerts/batch", h.ingestBatch)
	g.GET("/alerts/:id", h.getAlert)
	g.GET("/alerts/:id/result", h.getResult)
}

// ingest accepts a single alert object.
func (h *Handler) ingest(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errResponse(c, http.StatusBadRequest, "unreadable request body")
	}
	if isArray(body) {
		return errResponse(c, http.StatusBadRequest, "array bodies go to /api/v1/alerts/batch")
	}

	var candidate types.Alert
	if err := json.Unmarshal(body, &candidate); err != nil {
		return errResponse(c, http.StatusBadRequest, "invalid request body")
	}
	result, err := h.svc.Ingest(c.Request().Context(), candidate)
	if err != nil {
		return handleSvcError(c, err)
	}
	return c.JSON(http.StatusAccepted, result)
}

// ingestBatch accepts {"alerts":[…]} with up to 100 items and returns
// per-item results; one bad alert never sinks its batch mates. A bare
// array body is tolerated for older sensors.
func (h *Handler) ingestBatch(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errResponse(c, http.StatusBadRequest, "unreadable request body")
	}

	var candidates []types.Alert
	if isArray(body) {
		if err := json.Unmarshal(body, &candidates); err != nil {
			return errResponse(c, http.StatusBadRequest, "invalid request body")
		}
	} else {
		var req struct {
			Alerts []types.Alert `json:"alerts"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return errResponse(c, http.StatusBadRequest, "invalid request body")
		}
		candidates = req.Alerts
	}
	if len(candidates) == 0 {
		return errResponse(c, http.StatusBadRequest, "batch contains no alerts")
	}

	result, err := h.svc.IngestBatch(c.Request().Context(), candidates)
	if err != nil {
		return handleSvcError(c, err)
	}
	return c.JSON(http.StatusAccepted, result)
}

func (h *Handler) getAlert(c echo.Context) error {
	a, err := h.svc.GetAlert(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleSvcError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) getResult(c echo.Context) error {
	r, err := h.svc.GetResult(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleSvcError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) health(c echo.Context) error {
	checks := map[string]string{"database": "up", "message_queue": "up"}
	healthy := true

	if err := h.svc.CheckDB(c.Request().Context()); err != nil {
		checks["database"] = "down"
		healthy = false
	}
	if h.brokerHC != nil && !h.brokerHC.Healthy() {
		checks["message_queue"] = "down"
		healthy = false
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	return c.JSON(status, map[string]any{"status": state, "service": producerName, "checks": checks})
}

// ── middleware ────────────────────────────────────────────────────────────

func (h *Handler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ok, retryAfter, err := h.limiter.Allow(c.Request().Context(), c.RealIP())
		if err != nil {
			// A broken limiter must not block ingestion.
			h.logger.Warn("rate limiter unavailable", zap.Error(err))
			return next(c)
		}
		if !ok {
			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			h.metrics.AlertsIngested.WithLabelValues("rate_limited").Inc()
			return errResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

func isArray(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
