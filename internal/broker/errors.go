package broker

import (
	"errors"
	"fmt"
)

// ErrClientClosed is returned by operations attempted after Close.
var ErrClientClosed = errors.New("broker client is closed")

// FatalError marks a message as permanently unprocessable: malformed
// payloads, rejected credentials, anything a retry cannot cure. The
// consumer parks such messages on the DLQ immediately instead of
// spending retry budget on them.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
	}
	return "fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the consumer dead-letters instead of retrying.
// The reason becomes the x-death-reason header on the parked message.
func Fatal(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its
// chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// FatalReason extracts the park reason from err, or a generic label
// when err is not fatal.
func FatalReason(err error) string {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return "unclassified"
}

// PublishError reports a publish the broker did not confirm. Callers
// treat it as transient: the message was not durably enqueued.
type PublishError struct {
	Queue string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s not confirmed: %v", e.Queue, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
