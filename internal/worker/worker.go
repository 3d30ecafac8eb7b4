// Package worker consumes delayed payment checks scheduled at checkout and
// flags orders that never received a verified payment.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/events"
	"github.com/dukerupert/kcnuts/internal/telemetry"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// MaxConcurrency is the maximum number of checks processed concurrently
	MaxConcurrency int

	// HandlerTimeout bounds a single check.
	HandlerTimeout time.Duration

	// ShutdownTimeout bounds the wait for in-flight checks on shutdown.
	ShutdownTimeout time.Duration
}

// Source delivers payment.check events.
type Source interface {
	ConsumePaymentChecks(ctx context.Context) (<-chan events.Delivery, error)
}

// LedgerReader is the part of the ledger the worker needs.
type LedgerReader interface {
	ByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error)
}

// Worker processes payment checks
type Worker struct {
	config Config
	source Source
	orders domain.OrderStore
	ledger LedgerReader
	logger *slog.Logger
}

// NewWorker creates a new payment check worker
func NewWorker(source Source, orders domain.OrderStore, ledger LedgerReader, config Config, logger *slog.Logger) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 30 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	return &Worker{
		config: config,
		source: source,
		orders: orders,
		ledger: ledger,
		logger: logger.With("worker_id", config.WorkerID),
	}
}

// Start processes deliveries until the context is cancelled or the source
// closes its channel.
func (w *Worker) Start(ctx context.Context) error {
	deliveries, err := w.source.ConsumePaymentChecks(ctx)
	if err != nil {
		return fmt.Errorf("worker: consume payment checks: %w", err)
	}

	w.logger.Info("worker starting", "max_concurrency", w.config.MaxConcurrency)

	sem := make(chan struct{}, w.config.MaxConcurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			w.drain(&wg)
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				w.logger.Info("delivery channel closed")
				w.drain(&wg)
				return nil
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = d.Nack(true)
				w.drain(&wg)
				return ctx.Err()
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				w.process(ctx, d)
			}()
		}
	}
}

func (w *Worker) drain(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("shutdown timeout with checks still in flight")
	}
}

// process handles one delivery and acknowledges it. Failed checks are
// rejected without requeue so the broker dead-letters them.
func (w *Worker) process(ctx context.Context, d events.Delivery) {
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.HandlerTimeout)
	defer cancel()

	logger := w.logger.With("event_id", d.Event.ID, "type", d.Event.Type, "order_id", d.Event.OrderID)

	if err := w.handle(checkCtx, logger, d.Event); err != nil {
		logger.Error("payment check failed", "error", err)
		if err := d.Nack(false); err != nil {
			logger.Error("failed to nack delivery", "error", err)
		}
		return
	}
	if err := d.Ack(); err != nil {
		logger.Error("failed to ack delivery", "error", err)
	}
}

func (w *Worker) handle(ctx context.Context, logger *slog.Logger, e events.Event) error {
	if e.Type != events.TypePaymentCheck {
		logger.Warn("ignoring unexpected event type")
		return nil
	}

	order, err := w.orders.GetOrder(ctx, e.OrderID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			logger.Warn("payment check for unknown order")
			return nil
		}
		return err
	}

	if order.Status != domain.OrderPending {
		logger.Debug("order settled", "status", order.Status)
		return nil
	}

	entries, err := w.ledger.ByOrder(ctx, order.OrderID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Status == domain.TransactionSuccess {
			// Captured money against an order that never left pending.
			logger.Error("verified payment recorded for pending order",
				"transaction_id", entry.ID,
				"gateway_payment_id", entry.GatewayPaymentID,
			)
			telemetry.CaptureMessage(ctx, "verified payment recorded for pending order", sentry.LevelError, map[string]any{
				"order_id":       order.OrderID,
				"transaction_id": entry.ID,
			})
			return nil
		}
	}

	logger.Info("order abandoned before payment",
		"gateway_order_id", order.PaymentInfo.GatewayOrderID,
		"failed_attempts", len(entries),
		"age", time.Since(order.CreatedAt).Round(time.Second),
	)
	if telemetry.Business != nil {
		telemetry.Business.AbandonedOrders.Inc()
	}
	return nil
}
