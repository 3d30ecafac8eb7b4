package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureMismatch is returned when a payment callback fails
	// authentication.
	ErrSignatureMismatch = errors.New("gateway: signature mismatch")

	// ErrPaymentNotCaptured is returned when a provider reports the payment
	// exists but has not succeeded.
	ErrPaymentNotCaptured = errors.New("gateway: payment not captured")

	// ErrAmountTooSmall is returned before calling the provider for
	// non-positive amounts.
	ErrAmountTooSmall = errors.New("gateway: amount must be positive")
)

// Error wraps a provider API failure with additional context.
type Error struct {
	Provider   string // "razorpay", "stripe"
	Message    string // Human-readable error message
	Code       string // Provider error code, if any
	StatusCode int    // HTTP status from the provider, 0 on transport failure
	RequestID  string // Provider request ID for debugging
	Err        error  // Original error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the provider did not answer before the
// configured deadline.
func (e *Error) IsTimeout() bool {
	return e.Code == "timeout"
}
