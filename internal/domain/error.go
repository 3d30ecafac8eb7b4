package domain

import (
	"errors"
	"fmt"
)

// Application error codes.
// These map to HTTP status codes and determine user-facing messages.
const (
	ECONFLICT     = "conflict"         // 409 - Conflicting state (stock, duplicate order id, cancelled order)
	EINTERNAL     = "internal"         // 500 - Internal server error (hide details)
	EINVALID      = "invalid"          // 400 - Validation error (bad input, rejected coupon)
	ENOTFOUND     = "not_found"        // 404 - Resource not found
	EUNAUTHORIZED = "unauthorized"     // 401 - Authentication required
	EFORBIDDEN    = "forbidden"        // 403 - Authenticated but not permitted
	ERATELIMIT    = "rate_limit"       // 429 - Too many requests
	EPAYMENT      = "payment_required" // 402 - Payment verification failed
	EGATEWAY      = "gateway_error"    // 502 - Payment provider failure
)

// Machine-readable sub-reasons carried alongside a code.
const (
	ReasonEmptyCart          = "empty_cart"
	ReasonZeroAmount         = "zero_amount"
	ReasonProductNotFound    = "product_not_found"
	ReasonVariantNotFound    = "variant_not_found"
	ReasonOrderNotFound      = "order_not_found"
	ReasonInsufficientStock  = "insufficient_stock"
	ReasonOrderIDCollision   = "order_id_collision"
	ReasonOrderCancelled     = "order_cancelled"
	ReasonInvalidTransition  = "invalid_transition"
	ReasonCouponInvalid      = "invalid_code"
	ReasonCouponExpired      = "expired"
	ReasonCouponExhausted    = "usage_exceeded"
	ReasonCouponBelowMinimum = "below_minimum"
	ReasonCouponLogin        = "login_required"
	ReasonCouponNotEligible  = "not_eligible"
	ReasonCouponExists       = "coupon_exists"
	ReasonVerificationFailed = "verification_failed"
	ReasonGatewayUnavailable = "gateway_unavailable"
)

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, ENOTFOUND).
	Code string

	// Reason narrows Code for clients (e.g., "insufficient_stock").
	Reason string

	// Message is a human-readable error message safe to show to users.
	Message string

	// Op is the operation where the error occurred (e.g., "checkout.initiate").
	// Used for debugging and logging, not shown to users.
	Op string

	// Details holds client-safe structured context, such as available stock.
	Details map[string]any

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two domain errors by code and reason so that sentinel
// values can be compared with errors.Is after being re-wrapped.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Reason != "" && t.Reason == e.Reason
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for nil or non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if IsValidationError(err) {
		return EINVALID
	}

	return EINTERNAL
}

// ErrorReason extracts the sub-reason from an error, or "".
func ErrorReason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// ErrorDetails extracts client-safe details from an error.
func ErrorDetails(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) && e.Code != EINTERNAL {
		return e.Details
	}
	return nil
}

// ErrorMessage extracts a user-facing message from an error.
// For internal errors, returns a generic message to avoid leaking details.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return "Request validation failed"
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}

	return "An internal error occurred. Please try again later."
}

// ErrorOp extracts the operation from an error (for logging).
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}

	return ""
}

// Errorf creates a new domain error with formatted message.
// Example: domain.Errorf(domain.EINVALID, "coupon.create", "unknown discount type: %s", t)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a domain error code and operation.
// Returns nil if err is nil.
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// IsReason returns true if err carries the given sub-reason.
func IsReason(err error, reason string) bool {
	return ErrorReason(err) == reason
}

// =============================================================================
// Validation Errors (field-level errors for request bodies)
// =============================================================================

// ValidationError represents one or more field validation failures.
type ValidationError struct {
	// Fields maps field names to error messages.
	Fields map[string]string

	// Op is the operation where validation failed.
	Op string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		for field, msg := range e.Fields {
			if e.Op != "" {
				return fmt.Sprintf("%s: %s: %s", e.Op, field, msg)
			}
			return fmt.Sprintf("%s: %s", field, msg)
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: validation failed for %d fields", e.Op, len(e.Fields))
	}
	return fmt.Sprintf("validation failed for %d fields", len(e.Fields))
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(op, field, message string) error {
	return &ValidationError{
		Op:     op,
		Fields: map[string]string{field: message},
	}
}

// AddFieldError adds a field error to an existing ValidationError.
// If err is not a ValidationError, creates a new one with the field.
func AddFieldError(err error, field, message string) error {
	var ve *ValidationError
	if err != nil && errors.As(err, &ve) {
		ve.Fields[field] = message
		return ve
	}

	return &ValidationError{
		Fields: map[string]string{field: message},
	}
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GetValidationFields extracts field errors from a ValidationError.
// Returns nil if err is not a ValidationError.
func GetValidationFields(err error) map[string]string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// =============================================================================
// Common errors (convenience)
// =============================================================================

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("order.get", domain.ReasonOrderNotFound, "order", id)
func NotFound(op, reason, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Reason:  reason,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(op, message string) error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Forbidden creates a forbidden error.
func Forbidden(op, message string) error {
	return &Error{
		Code:    EFORBIDDEN,
		Op:      op,
		Message: message,
	}
}

// Invalid creates a validation error for a single issue.
func Invalid(op, reason, message string) error {
	return &Error{
		Code:    EINVALID,
		Reason:  reason,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, reason, message string) error {
	return &Error{
		Code:    ECONFLICT,
		Reason:  reason,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error (wraps underlying error).
// The message shown to users will be generic; the underlying error is for logging.
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// InsufficientStock reports a line whose quantity exceeds current stock.
func InsufficientStock(op, productName, weight string, requested, available int) error {
	return &Error{
		Code:    ECONFLICT,
		Reason:  ReasonInsufficientStock,
		Op:      op,
		Message: fmt.Sprintf("Insufficient stock for %s (%s)", productName, weight),
		Details: map[string]any{
			"requested": requested,
			"available": available,
		},
	}
}

// Pre-defined errors for comparison with errors.Is.
var (
	ErrVerificationFailed = &Error{
		Code:    EPAYMENT,
		Reason:  ReasonVerificationFailed,
		Message: "Payment verification failed",
	}

	ErrEmptyCart = &Error{
		Code:    EINVALID,
		Reason:  ReasonEmptyCart,
		Message: "Cart is empty",
	}
)
