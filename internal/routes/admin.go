package routes

import (
	"github.com/dukerupert/kcnuts/internal/middleware"
	"github.com/dukerupert/kcnuts/internal/router"
)

// RegisterAdminRoutes registers order and coupon administration for the
// admin and wholesale_manager roles.
func RegisterAdminRoutes(r *router.Router, deps AdminDeps) {
	admin := r.Group(middleware.RequireAdmin)

	admin.Get("/api/admin/orders", deps.OrderHandler.AdminList)
	admin.Put("/api/admin/orders/{orderID}/status", deps.OrderHandler.AdminUpdateStatus)

	admin.Get("/api/admin/coupons", deps.CouponHandler.AdminList)
	admin.Post("/api/admin/coupons", deps.CouponHandler.AdminCreate)
}

// RegisterOpsRoutes registers health and metrics endpoints.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Get("/health", deps.Health)
	if deps.Metrics != nil {
		r.Handle("GET", "/metrics", deps.Metrics)
	}
}
