package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/pricing"
	"github.com/shopspring/decimal"
)

// ============================================================================
// Mock Implementations
// ============================================================================

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// memCatalog implements domain.CatalogStore
type memCatalog struct {
	mu       sync.Mutex
	variants map[string]*domain.Variant
}

func newMemCatalog(variants ...*domain.Variant) *memCatalog {
	c := &memCatalog{variants: map[string]*domain.Variant{}}
	for _, v := range variants {
		c.variants[v.ProductID+"/"+v.ID] = v
	}
	return c
}

func (c *memCatalog) GetVariant(_ context.Context, productID, variantID string) (*domain.Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.variants[productID+"/"+variantID]
	if !ok {
		return nil, domain.NotFound("catalog.get_variant", domain.ReasonVariantNotFound, "variant", variantID)
	}
	copied := *v
	return &copied, nil
}

func (c *memCatalog) stock(productID, variantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.variants[productID+"/"+variantID].Stock
}

// memCoupons implements domain.CouponStore
type memCoupons struct {
	mu      sync.Mutex
	coupons map[string]*domain.Coupon
	created []*domain.Coupon
	err     error
}

func newMemCoupons(cs ...*domain.Coupon) *memCoupons {
	m := &memCoupons{coupons: map[string]*domain.Coupon{}}
	for _, c := range cs {
		m.coupons[c.Code] = c
	}
	return m
}

func (m *memCoupons) GetCouponByCode(_ context.Context, code string) (*domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, domain.NotFound("coupon.get_by_code", domain.ReasonCouponInvalid, "coupon", code)
	}
	copied := *c
	return &copied, nil
}

func (m *memCoupons) CreateCoupon(_ context.Context, c *domain.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.coupons[c.Code]; ok {
		return domain.Conflict("coupon.create", domain.ReasonCouponExists, "A coupon with this code already exists")
	}
	c.ID = "coupon-" + c.Code
	c.CreatedAt = testNow
	m.coupons[c.Code] = c
	m.created = append(m.created, c)
	return nil
}

func (m *memCoupons) ListCoupons(context.Context) ([]domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memCoupons) usedCount(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[code].UsedCount
}

// memOrders implements domain.OrderStore with the same confirmation
// semantics as the PostgreSQL store.
type memOrders struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	catalog *memCatalog
	coupons *memCoupons

	createErr  error
	attachErr  error
	confirmErr error
	writes     int
}

func newMemOrders(catalog *memCatalog, coupons *memCoupons) *memOrders {
	return &memOrders{orders: map[string]*domain.Order{}, catalog: catalog, coupons: coupons}
}

func (m *memOrders) CreateOrder(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.orders[o.OrderID]; ok {
		return &domain.Error{Code: domain.ECONFLICT, Reason: domain.ReasonOrderIDCollision, Message: "Order could not be created, please retry"}
	}
	o.ID = "id-" + o.OrderID
	o.CreatedAt = testNow
	o.UpdatedAt = testNow
	copied := *o
	m.orders[o.OrderID] = &copied
	m.writes++
	return nil
}

func (m *memOrders) AttachGatewayOrder(_ context.Context, orderID, gatewayOrderID, gateway string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attachErr != nil {
		return m.attachErr
	}
	o, ok := m.orders[orderID]
	if !ok || o.Status != domain.OrderPending {
		return domain.NotFound("order.attach_gateway", domain.ReasonOrderNotFound, "pending order", orderID)
	}
	o.PaymentInfo.GatewayOrderID = gatewayOrderID
	o.PaymentInfo.Method = gateway
	m.writes++
	return nil
}

func (m *memOrders) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.NotFound("order.get", domain.ReasonOrderNotFound, "order", orderID)
	}
	copied := *o
	return &copied, nil
}

func (m *memOrders) ListOrdersByUser(_ context.Context, userID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID > out[j].OrderID })
	return out, nil
}

func (m *memOrders) ListOrders(_ context.Context, params domain.ListOrdersParams) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if params.Status == "" || o.Status == params.Status {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID > out[j].OrderID })
	return out, nil
}

func (m *memOrders) ListStalePending(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.Status == domain.OrderPending && o.CreatedAt.Before(before) {
			out = append(out, *o)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrders) ConfirmPayment(_ context.Context, params domain.ConfirmPaymentParams) (*domain.ConfirmPaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return nil, m.confirmErr
	}
	o, ok := m.orders[params.OrderID]
	if !ok {
		return nil, domain.NotFound("order.confirm_payment", domain.ReasonOrderNotFound, "order", params.OrderID)
	}

	result := &domain.ConfirmPaymentResult{PreviousStatus: o.Status}
	if o.Status != domain.OrderPending && o.Status != domain.OrderProcessing {
		return result, nil
	}
	o.Status = domain.OrderProcessing
	o.PaymentInfo = params.PaymentInfo
	m.writes++

	if result.PreviousStatus != domain.OrderPending {
		return result, nil
	}
	result.Transitioned = true

	if params.DecrementStock && m.catalog != nil {
		m.catalog.mu.Lock()
		for _, item := range o.Items {
			v := m.catalog.variants[item.ProductID+"/"+item.VariantID]
			if v == nil || v.Stock < item.Quantity {
				result.Shortfalls = append(result.Shortfalls, domain.StockShortfall{
					ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity,
				})
				continue
			}
			v.Stock -= item.Quantity
		}
		m.catalog.mu.Unlock()
	}

	if params.RedeemCoupon && o.CouponID != nil && m.coupons != nil {
		m.coupons.mu.Lock()
		if c := m.coupons.coupons[o.CouponCode]; c != nil && c.UsedCount < c.UsageLimit {
			c.UsedCount++
			result.CouponRedeemed = true
		}
		m.coupons.mu.Unlock()
	}
	return result, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, orderID string, from, to domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != from {
		return domain.Conflict("order.update_status", domain.ReasonInvalidTransition, "Order status changed concurrently, reload and retry")
	}
	o.Status = to
	m.writes++
	return nil
}

func (m *memOrders) put(o *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *o
	m.orders[o.OrderID] = &copied
}

func (m *memOrders) get(orderID string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[orderID]
}

func (m *memOrders) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// memTransactions implements domain.TransactionStore
type memTransactions struct {
	mu   sync.Mutex
	rows []domain.Transaction
	err  error
}

func (m *memTransactions) InsertTransaction(_ context.Context, t *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, *t)
	return nil
}

func (m *memTransactions) ListTransactionsByOrder(_ context.Context, orderID string) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, r := range m.rows {
		if r.OrderID != nil && *r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memTransactions) ListTransactionsByGatewayRef(_ context.Context, ref string) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, r := range m.rows {
		if r.GatewayOrderID == ref || r.GatewayPaymentID == ref {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memTransactions) ListRecentTransactions(_ context.Context, limit int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.rows) {
		limit = len(m.rows)
	}
	return append([]domain.Transaction(nil), m.rows[len(m.rows)-limit:]...), nil
}

func (m *memTransactions) all() []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Transaction(nil), m.rows...)
}

// ============================================================================
// Fixtures
// ============================================================================

func cashews() *domain.Variant {
	return &domain.Variant{
		ID:          "v-500",
		ProductID:   "p-cashew",
		ProductName: "Cashews",
		Weight:      "500g",
		Price:       dec("100"),
		Stock:       10,
	}
}

func flatCoupon(code, value, minimum string) *domain.Coupon {
	return &domain.Coupon{
		ID:            "coupon-" + code,
		Code:          code,
		DiscountType:  domain.DiscountFixed,
		DiscountValue: dec(value),
		MinOrderValue: dec(minimum),
		ValidFrom:     testNow.Add(-24 * time.Hour),
		ValidUntil:    testNow.Add(24 * time.Hour),
		UsageLimit:    10,
		ApplicableTo:  domain.ApplicableAll,
		IsActive:      true,
	}
}

func newTestEngine(catalog *memCatalog, coupons *memCoupons) *pricing.Engine {
	return pricing.NewEngine(catalog, coupons, discardLogger()).WithClock(func() time.Time { return testNow })
}

func customer(id string) *domain.Identity {
	return &domain.Identity{ID: id, Role: domain.RoleCustomer}
}

func testAddress() domain.ShippingAddress {
	return domain.ShippingAddress{
		Name:    "Asha Rao",
		Phone:   "9800000000",
		Street:  "12 MG Road",
		City:    "Bengaluru",
		State:   "KA",
		Zip:     "560001",
		Country: "IN",
		Type:    "home",
	}
}
