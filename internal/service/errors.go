package service

import (
	"github.com/dukerupert/kcnuts/internal/domain"
)

// Caller errors - use domain.EUNAUTHORIZED
var (
	ErrLoginRequired = domain.Errorf(domain.EUNAUTHORIZED, "", "Please log in to continue")
)

// Checkout errors
var (
	ErrZeroAmount = &domain.Error{
		Code:    domain.EINVALID,
		Reason:  domain.ReasonZeroAmount,
		Message: "Order total must be greater than zero",
	}
	ErrGatewayUnavailable = &domain.Error{
		Code:    domain.EGATEWAY,
		Reason:  domain.ReasonGatewayUnavailable,
		Message: "Payment provider is unavailable, please try again",
	}
)

// Order errors
var (
	ErrOrderNotFound = &domain.Error{
		Code:    domain.ENOTFOUND,
		Reason:  domain.ReasonOrderNotFound,
		Message: "Order not found",
	}
	ErrOrderCancelled = &domain.Error{
		Code:    domain.ECONFLICT,
		Reason:  domain.ReasonOrderCancelled,
		Message: "Order was cancelled; the payment will be refunded",
	}
	ErrInvalidTransition = &domain.Error{
		Code:    domain.ECONFLICT,
		Reason:  domain.ReasonInvalidTransition,
		Message: "Order cannot move to the requested status",
	}
)

// wrap copies a sentinel, attaching the operation and cause. The copy
// still matches the sentinel with errors.Is.
func wrap(sentinel *domain.Error, op string, cause error) *domain.Error {
	e := *sentinel
	e.Op = op
	e.Err = cause
	return &e
}
