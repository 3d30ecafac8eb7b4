package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/kcnuts/internal/events"
	"github.com/dukerupert/kcnuts/internal/telemetry"
)

// publish sends e and only logs on failure. The writes that produced the
// event are already committed.
func publish(ctx context.Context, p events.Publisher, logger *slog.Logger, e events.Event) {
	if err := p.Publish(ctx, e); err != nil {
		logger.WarnContext(ctx, "failed to publish event", "type", e.Type, "order_id", e.OrderID, "error", err)
		if telemetry.Business != nil {
			telemetry.Business.EventsPublishFailed.WithLabelValues(e.Type).Inc()
		}
		return
	}
	if telemetry.Business != nil {
		telemetry.Business.EventsPublished.WithLabelValues(e.Type).Inc()
	}
}

func publishDelayed(ctx context.Context, p events.Publisher, logger *slog.Logger, e events.Event, delay time.Duration) {
	if err := p.PublishDelayed(ctx, e, delay); err != nil {
		logger.WarnContext(ctx, "failed to schedule event", "type", e.Type, "order_id", e.OrderID, "error", err)
		if telemetry.Business != nil {
			telemetry.Business.EventsPublishFailed.WithLabelValues(e.Type).Inc()
		}
		return
	}
	if telemetry.Business != nil {
		telemetry.Business.EventsPublished.WithLabelValues(e.Type).Inc()
	}
}
