package routes

import (
	"net/http"

	"github.com/dukerupert/kcnuts/internal/handler/api"
	"github.com/dukerupert/kcnuts/internal/router"
)

// APIDeps contains dependencies for the public API routes
type APIDeps struct {
	OrderHandler  *api.OrderHandler
	CouponHandler *api.CouponHandler
	CartHandler   *api.CartHandler

	// VerifyThrottle limits repeated failed verifications. Nil disables it.
	VerifyThrottle router.Middleware
}

// AdminDeps contains dependencies for admin routes
type AdminDeps struct {
	OrderHandler  *api.OrderHandler
	CouponHandler *api.CouponHandler
}

// OpsDeps contains dependencies for health and metrics routes
type OpsDeps struct {
	Health  http.HandlerFunc
	Metrics http.Handler
}
