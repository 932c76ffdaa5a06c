// Package main is the entry point for the mandate sync webhook service.
//
// It loads configuration, opens the customer database pool, builds the Stripe
// clients and AWS clients, and serves POST /webhooks/stripe through the core
// chassis. Inside AWS Lambda the same router is driven by API Gateway HTTP
// events; elsewhere it listens on the configured port with graceful shutdown
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"mandatesync/internal/api/handlers"
	"mandatesync/internal/billing"
	"mandatesync/internal/config"
	"mandatesync/internal/core"
	"mandatesync/internal/db"
	"mandatesync/internal/external"
	"mandatesync/internal/notifications"
	"mandatesync/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// dependencies are the process-wide clients the server is assembled from.
type dependencies struct {
	store    billing.CustomerStore
	pinger   core.Pinger
	cw       telemetry.CloudWatchClient
	sqs      notifications.SQSSender
	regOpts  []external.RegistryOption
	closeAll func()
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("mandate sync starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"test_mode", cfg.IsTestMode,
	)
	if !cfg.WebhookSecretConfigured() {
		logger.Error("STRIPE_WEBHOOK_SECRET is not set; deliveries will be rejected with 500")
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}

	deps := dependencies{
		store:  db.NewCustomerRepository(pool, logger.With("component", "customer_repo")),
		pinger: pool,
		cw: cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		}),
		sqs: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		}),
		closeAll: pool.Close,
	}

	srv, err := buildServer(cfg, logger, deps)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	if isLambdaEnvironment() {
		logger.Info("running in Lambda mode")
		lambda.Start(core.LambdaHandler(srv.Handler()))
		return nil
	}

	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the verification, decoding and reconciliation pipeline
// onto a core.Server with all routes mounted.
func buildServer(cfg *config.Config, logger *slog.Logger, deps dependencies) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}

	var metrics interface {
		core.MetricsCollector
		handlers.OutcomeRecorder
		RecordExternalFailure(ctx context.Context, provider string)
		Flush(ctx context.Context) error
	} = telemetry.Noop{}
	if cfg.Observability.EnableMetrics && deps.cw != nil {
		metrics = telemetry.NewCloudWatchMetrics(deps.cw, cfg.Observability.MetricNamespace, logger.With("component", "metrics"))
	}
	srv.Metrics = metrics

	regOpts := append([]external.RegistryOption{external.WithFailureHook(metrics.RecordExternalFailure)}, deps.regOpts...)
	clients := external.NewClientRegistry(cfg, logger, regOpts...)

	reconcilerOpts := []billing.ReconcilerOption{
		billing.WithMetadataKey(cfg.Billing.CustomerMetadataKey),
	}
	if cfg.AWS.NotificationQueueURL != "" && deps.sqs != nil {
		publisher := notifications.NewMandatePublisher(deps.sqs, cfg.AWS.NotificationQueueURL, logger.With("component", "mandate_publisher"))
		reconcilerOpts = append(reconcilerOpts, billing.WithFailureNotifier(publisher))
	} else {
		logger.Info("mandate failure notifications disabled; no queue configured")
	}
	reconciler := billing.NewReconciler(deps.store, clients.SetupIntents, logger.With("component", "reconciler"), reconcilerOpts...)

	webhookHandler := handlers.NewStripeWebhookHandler(
		billing.NewSignatureVerifier(clients.Verifier),
		reconciler,
		cfg.Billing.StripeWebhookSecret,
		logger.With("component", "stripe_webhook"),
		handlers.WithMaxBodySize(cfg.Server.MaxBodyBytes),
		handlers.WithOutcomeRecorder(metrics),
	)
	srv.RouteRegistrars = append(srv.RouteRegistrars, webhookHandler.RegisterRoutes)

	if deps.pinger != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.DatabaseProbe{DB: deps.pinger})
	}
	if deps.closeAll != nil {
		srv.OnShutdown(deps.closeAll)
	}
	srv.OnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetry.DefaultPutTimeout)
		defer cancel()
		if err := metrics.Flush(ctx); err != nil {
			logger.Warn("metrics not flushed before shutdown", "error", err)
		}
	})

	srv.MountRoutes()
	return srv, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger for the given level name.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
