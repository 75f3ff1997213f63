package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrRouterUnavailable is returned when no healthy model can serve the
// task. The caller decides what degraded mode looks like.
var ErrRouterUnavailable = errors.New("llm router: no healthy model available")

// ErrUnknownModel is returned when a pinned model id is not in the
// catalog at all.
var ErrUnknownModel = errors.New("llm router: unknown model id")

// CallError wraps a provider failure with the HTTP status that caused
// it, when there was one. Status zero means the call never got an HTTP
// answer (dial failure, timeout, cancelled context).
type CallError struct {
	Provider string
	Model    string
	Status   int
	Err      error
}

func (e *CallError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Model, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Transient reports whether a failed call is worth retrying: network
// errors, timeouts, 408, 429 and every 5xx. Client-side mistakes (bad
// request, bad key, missing model) are permanent and retrying them
// only burns quota.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var ce *CallError
	if errors.As(err, &ce) {
		switch {
		case ce.Status == 0:
			return true
		case ce.Status == http.StatusRequestTimeout, ce.Status == http.StatusTooManyRequests:
			return true
		case ce.Status >= 500:
			return true
		case ce.Status == http.StatusBadRequest,
			ce.Status == http.StatusUnauthorized,
			ce.Status == http.StatusForbidden,
			ce.Status == http.StatusNotFound:
			return false
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
