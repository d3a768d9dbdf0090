package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/di"
	"github.com/hanko-field/orders/internal/handlers"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/config"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/jobs"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/storage"
	firestoreRepo "github.com/hanko-field/orders/internal/repositories/firestore"
	"github.com/hanko-field/orders/internal/services"
)

const drainTimeout = 10 * time.Second

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "orders: logger: %v\n", err)
		os.Exit(1)
	}
	logger := baseLogger.Named("orders")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(observability.WithLogger(ctx, logger), logger, time.Now().UTC())
	stop()
	_ = baseLogger.Sync()
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		} else {
			logger.Error("orders api stopped", zap.Error(err))
		}
		os.Exit(1)
	}
}

// run wires every dependency, serves until ctx is cancelled and then drains
// the server, background workers and clients in reverse order.
func run(ctx context.Context, logger *zap.Logger, startedAt time.Time) error {
	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer closeWith(logger, "secret fetcher", fetcher.Close)

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		return err
	}
	build := buildInfoFromEnv(envValues, cfg, startedAt)

	provider := pfirestore.NewProvider(cfg.Firestore)
	client, err := provider.Client(ctx)
	if err != nil {
		return fmt.Errorf("firestore: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, pubsubProjectID(cfg))
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	eventsTopic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
	notificationsTopic := pubsubClient.Topic(cfg.PubSub.NotificationsTopic)
	defer closeWith(logger, "pubsub", func() error {
		eventsTopic.Stop()
		notificationsTopic.Stop()
		return pubsubClient.Close()
	})

	events, err := jobs.NewPubSubOrderEventPublisher(eventsTopic)
	if err != nil {
		return fmt.Errorf("order event publisher: %w", err)
	}
	notifier, err := jobs.NewPubSubNotifier(notificationsTopic)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	health, err := newHealthRepository(client, fetcher, eventsTopic)
	if err != nil {
		return err
	}
	registry, err := firestoreRepo.NewRegistry(provider, health)
	if err != nil {
		return fmt.Errorf("repositories: %w", err)
	}

	gateway, err := newPaymentGateway(cfg, logger.Named("payments"))
	if err != nil {
		return fmt.Errorf("payment gateway: %w", err)
	}
	webhooks, err := payments.NewWebhookVerifier(cfg.Payments.StripeWebhookSecret, cfg.Payments.WebhookTolerance)
	if err != nil {
		return fmt.Errorf("stripe webhook verifier: %w", err)
	}
	carrier, err := newShippingClient(cfg, logger.Named("shipping"))
	if err != nil {
		return fmt.Errorf("shipping client: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Gateway:  gateway,
		Webhooks: webhooks,
		Shipping: carrier,
		Events:   events,
		Notifier: notifier,
		Logger:   logger,
		Build:    build,
	})
	if err != nil {
		return fmt.Errorf("services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Background.Timeout+5*time.Second)
		defer cancel()
		closeWith(logger, "container", func() error { return container.Close(closeCtx) })
	}()

	idemStore, err := idempotency.NewFirestoreStore(client, "")
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}

	workers, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancelWorkers()
		wg.Wait()
	}()
	if cfg.Idempotency.CleanupInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runIdempotencyCleanup(workers, idemStore, cfg.Idempotency, logger.Named("idempotency"))
		}()
	}
	if container.Sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			container.Sweeper.Run(workers)
		}()
	}

	archive, closeArchive, err := newPayloadArchive(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("payload archive: %w", err)
	}
	defer closeWith(logger, "storage", closeArchive)

	router, err := buildRouter(ctx, cfg, logger, container, idemStore, archive, build)
	if err != nil {
		return err
	}
	return serve(ctx, logger, cfg.Server, router)
}

func buildRouter(ctx context.Context, cfg config.Config, logger *zap.Logger, container *di.Container, idemStore idempotency.Store, archive *storage.Archive, build services.BuildInfo) (http.Handler, error) {
	svc := container.Services

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("firebase verifier: %w", err)
	}
	authLogger := logger.Named("auth")
	recorder := authRecorder(authLogger)
	authenticator := auth.NewAuthenticator(verifier,
		auth.WithAuthenticatorLogger(authLogger),
		auth.WithAuthenticatorRecorder(recorder),
	)
	oidc := buildOIDCMiddleware(authLogger, cfg, recorder)
	hmac, err := buildHMACMiddleware(authLogger, cfg, recorder)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verifier: %w", err)
	}

	idem := idempotency.Middleware(idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	paymentOpts := []handlers.PaymentHandlerOption{}
	webhookOpts := []handlers.WebhookHandlerOption{
		handlers.WithWebhookRateLimit(cfg.RateLimits.WebhookBurst, time.Now),
	}
	if archive != nil {
		paymentOpts = append(paymentOpts, handlers.WithPaymentArchive(archive))
		webhookOpts = append(webhookOpts, handlers.WithWebhookArchive(archive))
	}

	traceProject := traceProjectID(cfg)
	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(traceProject),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(traceProject),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithHealthSystemService(svc.System),
		)),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Payments, handlers.WithOrderIdempotency(idem)).Routes),
		handlers.WithCouponRoutes(handlers.NewCouponHandlers(svc.Coupons, handlers.WithCouponRateLimit(cfg.RateLimits.DefaultPerMinute, time.Now)).Routes),
		handlers.WithPaymentRoutes(handlers.NewPaymentHandlers(svc.Payments, cfg.Payments.SuccessURL, cfg.Payments.FailureURL, paymentOpts...).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminOrderHandlers(authenticator, svc.Orders, svc.Payments, svc.Fulfillment, svc.Coupons).Routes),
		handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(svc.Fulfillment, webhookOpts...).Routes),
		handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Fulfillment).Routes),
	}
	if oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidc))
	}
	if hmac != nil {
		opts = append(opts, handlers.WithWebhookMiddlewares(hmac))
	}
	return handlers.NewRouter(opts...), nil
}

// serve blocks until ctx is done or the listener fails.
func serve(ctx context.Context, logger *zap.Logger, cfg config.ServerConfig, handler http.Handler) error {
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	httpLogger := logger.Named("http").With(zap.String("addr", server.Addr))

	listenErr := make(chan error, 1)
	go func() {
		httpLogger.Info("orders api listening")
		listenErr <- server.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	httpLogger.Info("shutdown requested, draining")
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("drain http server: %w", err)
	}
	return nil
}

func closeWith(logger *zap.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close failed", zap.String("component", name), zap.Error(err))
	}
}
