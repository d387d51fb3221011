// Command paywatch follows a submitted payment until a reviewer verifies or rejects it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/platform/observability"
	"github.com/lionbidi/storefront/internal/storefront"
)

func main() {
	var (
		baseURL  string
		token    string
		number   string
		interval time.Duration
		level    string
	)
	flag.StringVar(&baseURL, "api", envOr("STOREFRONT_API_URL", "http://localhost:8080/api"), "storefront API base URL")
	flag.StringVar(&token, "token", os.Getenv("STOREFRONT_ID_TOKEN"), "Firebase ID token of the buyer")
	flag.StringVar(&number, "order", "", "order number, e.g. LB-2026-000042")
	flag.DurationVar(&interval, "interval", time.Minute, "status check interval")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.Parse()

	logger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if number == "" {
		logger.Fatal("order number is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, baseURL, token, number, interval); err != nil {
		logger.Fatal("paywatch failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, baseURL, token, number string, interval time.Duration) error {
	client := storefront.NewClient(baseURL,
		storefront.WithTokenSource(storefront.StaticToken(token)),
		storefront.WithClientLogger(logger.Named("client")),
	)

	order, err := client.GetOrderByNumber(ctx, number)
	if err != nil {
		return fmt.Errorf("load order %s: %w", number, err)
	}
	if order.Payment.Status != domain.PaymentStatusPendingVerification {
		logger.Info("payment not awaiting review",
			zap.String("order_number", order.OrderNumber),
			zap.String("payment_status", string(order.Payment.Status)),
		)
		return nil
	}

	poller, err := storefront.NewVerificationPoller(client,
		storefront.WithPollInterval(interval),
		storefront.WithPollLogger(logger.Named("poller")),
		storefront.WithOnUpdate(func(state storefront.PollState) {
			logger.Info("payment status",
				zap.String("order_number", state.OrderNumber),
				zap.String("status", string(state.Status)),
				zap.String("payment_status", string(state.PaymentStatus)),
				zap.Int("checks", state.Checks),
				zap.String("last_error", state.LastError),
			)
		}),
	)
	if err != nil {
		return err
	}

	watch, err := poller.Watch(ctx, order)
	if err != nil {
		return err
	}
	defer watch.Stop()
	watch.RefreshNow()

	select {
	case <-watch.Done():
	case <-ctx.Done():
		return nil
	}

	switch final := watch.State(); final.Status {
	case storefront.PollVerified:
		logger.Info("payment verified", zap.String("order_number", final.OrderNumber))
		return nil
	case storefront.PollFailed:
		return errors.New("payment verification failed")
	default:
		return nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
