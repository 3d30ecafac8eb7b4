// Package domain provides core business types and context helpers for the
// checkout core.
//
// Context helpers centralize request-scoped data access so that services
// receive the verified caller identity and request ID the same way everywhere.
package domain

import (
	"context"
	"slices"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	// identityContextKey stores the verified caller identity in context.
	identityContextKey contextKey = iota

	// requestIDContextKey stores the request ID for tracing.
	requestIDContextKey
)

// Roles carried by the identity claim.
const (
	RoleCustomer         = "customer"
	RoleWholesale        = "wholesale"
	RoleAdmin            = "admin"
	RoleWholesaleManager = "wholesale_manager"
)

// Identity is the verified caller claim issued by the upstream
// authentication service. Role is passed through and only used to gate
// administrative routes.
type Identity struct {
	ID   string
	Role string
}

// IsAdmin reports whether the identity may use administrative operations.
func (i *Identity) IsAdmin() bool {
	return i != nil && slices.Contains([]string{RoleAdmin, RoleWholesaleManager}, i.Role)
}

// --- Identity Context Helpers ---

// NewContextWithIdentity returns a new context with the identity attached.
func NewContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext retrieves the identity from context.
// Returns nil if the caller is anonymous.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}

// IsAuthenticated returns true if there is an identity in context.
func IsAuthenticated(ctx context.Context) bool {
	return IdentityFromContext(ctx) != nil
}

// --- Request ID Context Helpers ---

// NewContextWithRequestID returns a new context with the request ID attached.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey).(string)
	return requestID
}
