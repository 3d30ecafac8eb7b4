// Command reconcile prints stale pending orders next to their ledger
// history and can schedule payment checks for them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukerupert/kcnuts/internal"
	"github.com/dukerupert/kcnuts/internal/events"
	"github.com/dukerupert/kcnuts/internal/ledger"
	"github.com/dukerupert/kcnuts/internal/postgres"
	"github.com/dukerupert/kcnuts/internal/reconcile"
)

func run() error {
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	var (
		staleAfter  = flag.Duration("stale-after", cfg.Checkout.StaleAfter, "report pending orders older than this")
		limit       = flag.Int("limit", 100, "maximum stale orders to report")
		recentLimit = flag.Int("recent", 20, "number of recent ledger entries to show")
		publish     = flag.Bool("publish", false, "schedule a payment.check event for every stale order")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := internal.NewLogger(os.Stderr, cfg.Env, cfg.LogLevel, "kcnuts-reconcile")

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{URL: cfg.Database.URL, MaxConns: 2})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	var publisher events.Publisher
	if *publish {
		if cfg.Events.URL == "" {
			return fmt.Errorf("-publish requires RABBITMQ_URL")
		}
		broker, err := events.Dial(events.Config{
			URL:                cfg.Events.URL,
			Exchange:           cfg.Events.Exchange,
			DelayExchange:      cfg.Events.DelayExchange,
			PaymentCheckQueue:  cfg.Events.PaymentCheckQueue,
			DeadLetterExchange: cfg.Events.DeadLetterExchange,
		}, logger)
		if err != nil {
			return fmt.Errorf("event broker connection failed: %w", err)
		}
		defer broker.Close()
		publisher = broker
	}

	r := reconcile.New(
		postgres.NewOrderStore(pool),
		ledger.New(postgres.NewTransactionStore(pool), cfg.Checkout.Currency),
		publisher,
		logger,
	)
	report, err := r.Run(ctx, reconcile.Options{
		StaleAfter:  *staleAfter,
		Limit:       *limit,
		RecentLimit: *recentLimit,
		Publish:     *publish,
	})
	if err != nil {
		return err
	}
	return report.Render(os.Stdout)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
