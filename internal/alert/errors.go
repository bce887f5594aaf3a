package alert

import (
	"errors"
	"fmt"
)

var (
	// ErrThrottled means the pair already notified inside the cool-down window
	ErrThrottled = errors.New("alert throttled")

	// ErrAlreadyProcessed means this exact event was already delivered
	ErrAlreadyProcessed = errors.New("alert already processed")
)

// TransportError wraps a mail delivery failure
type TransportError struct {
	Recipient string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mail transport failed for %s: %v", e.Recipient, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
