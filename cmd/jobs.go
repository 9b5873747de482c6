package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/service"
	"github.com/vibast-solutions/ms-go-lavago-payments/config"
)

var (
	workerMode bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Poll the gateway for pending and authorized payments without a recent notification",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"reconcile",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ReconcileInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunReconcileBatch(ctx)
			},
		)
	},
}

var callbacksCmd = &cobra.Command{
	Use:   "callbacks",
	Short: "Run status callback related commands",
}

var callbacksDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver settled-status callbacks to caller services",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"callbacks_dispatch",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.CallbackDispatchInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunDispatchCallbacksBatch(ctx)
			},
		)
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run expiration-related commands",
}

var expirePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Cancel payments left pending past the pending timeout",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"expire_pending",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ExpirePendingInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunExpirePendingBatch(ctx)
			},
		)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Run payment event stream commands",
}

var eventsPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Relay unpublished payment events to Kafka",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"events_publish",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.EventsPublishInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				return s.RunPublishEventsBatch(ctx)
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(callbacksCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(eventsCmd)
	callbacksCmd.AddCommand(callbacksDispatchCmd)
	expireCmd.AddCommand(expirePendingCmd)
	eventsCmd.AddCommand(eventsPublishCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *service.PaymentService, ctx context.Context) error,
) {
	cfg, paymentService, cleanup := mustCreatePaymentService()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(cfg), paymentService, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(paymentService, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	paymentService *service.PaymentService,
	fn func(s *service.PaymentService, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logrus.WithFields(logrus.Fields{"job": name, "interval": interval.String()}).Info("Worker started")
	runJob(name, func() error { return fn(paymentService, ctx) })

	for {
		select {
		case <-ctx.Done():
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(paymentService, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"job": name, "latency": latency.String()}).Error("job_failed")
		return
	}
	logrus.WithFields(logrus.Fields{"job": name, "latency": latency.String()}).Info("job_completed")
}
