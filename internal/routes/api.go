package routes

import (
	"github.com/dukerupert/kcnuts/internal/middleware"
	"github.com/dukerupert/kcnuts/internal/router"
)

// RegisterAPIRoutes registers the customer-facing API. The router must
// already carry middleware.Authenticate so identities are resolved.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	// Anonymous callers may validate carts and preview coupons; coupons
	// restricted to specific users reject them with login_required.
	r.Post("/api/cart/validate", deps.CartHandler.Validate)
	r.Post("/api/coupons/apply", deps.CouponHandler.Apply)

	authed := r.Group(middleware.RequireIdentity)
	authed.Post("/api/orders/checkout", deps.OrderHandler.Checkout)
	authed.Get("/api/orders/mine", deps.OrderHandler.ListMine)

	if deps.VerifyThrottle != nil {
		authed.Post("/api/orders/verify", deps.OrderHandler.Verify, deps.VerifyThrottle)
	} else {
		authed.Post("/api/orders/verify", deps.OrderHandler.Verify)
	}
}
