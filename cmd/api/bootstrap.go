package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/breaker"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/secrets"
	"github.com/hanko-field/orders/internal/platform/storage"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
	"github.com/hanko-field/orders/internal/shipping"
)

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newHealthRepository probes Firestore, Secret Manager and the order events topic.
func newHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher, events *pubsub.Topic) (repositories.HealthRepository, error) {
	probes := make([]repositories.Probe, 0, 3)
	if client != nil {
		probes = append(probes, repositories.Probe{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Ping: func(ctx context.Context) error {
				_, err := client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		probes = append(probes, repositories.Probe{
			Name:    "secretManager",
			Timeout: time.Second,
			Ping: func(ctx context.Context) error {
				return fetcher.Probe(ctx, "secret://system/healthz")
			},
		})
	}
	if events != nil {
		probes = append(probes, repositories.Probe{
			Name:    "pubsub",
			Timeout: time.Second,
			Ping: func(ctx context.Context) error {
				exists, err := events.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s not found", events.ID())
				}
				return nil
			},
		})
	}
	if len(probes) == 0 {
		return nil, errors.New("health: no dependency probes configured")
	}
	return repositories.NewProbeHealthRepository(probes)
}

func newPaymentGateway(cfg config.Config, logger *zap.Logger) (payments.Gateway, error) {
	stripeGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:    cfg.Payments.StripeAPIKey,
		AccountID: cfg.Payments.StripeAccountID,
		Timeout:   cfg.Payments.Timeout,
		Logger:    observability.EventLogger(logger, "stripe"),
		Clock:     time.Now,
	})
	if err != nil {
		return nil, err
	}
	guarded, err := payments.NewBreakerGateway(stripeGateway, breaker.Settings{
		Name:          "stripe",
		OnStateChange: breakerStateLogger(logger),
	})
	if err != nil {
		return nil, err
	}
	return guarded, nil
}

func newShippingClient(cfg config.Config, logger *zap.Logger) (*shipping.Client, error) {
	return shipping.NewClient(shipping.ClientConfig{
		BaseURL:       cfg.Shipping.BaseURL,
		Email:         cfg.Shipping.Email,
		Password:      cfg.Shipping.Password,
		AuthTimeout:   cfg.Shipping.AuthTimeout,
		CreateTimeout: cfg.Shipping.CreateTimeout,
		TrackTimeout:  cfg.Shipping.TrackTimeout,
		TokenTTL:      cfg.Shipping.TokenTTL,
		TokenSkew:     cfg.Shipping.TokenSkew,
		Breaker: breaker.Settings{
			Name:          "shipping",
			OnStateChange: breakerStateLogger(logger),
		},
		Logger: observability.EventLogger(logger, "shipping"),
		Clock:  time.Now,
	})
}

func breakerStateLogger(logger *zap.Logger) func(name, from, to string) {
	return func(name, from, to string) {
		logger.Warn("circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from),
			zap.String("to", to),
		)
	}
}

func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, cfg config.IdempotencyConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.Purge(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder auth.VerificationRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(logger), auth.WithOIDCRecorder(recorder))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("oidc audience not configured; internal routes will reject requests")
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		logger.Warn("oidc issuers not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC([]string{audience}, cfg.Security.OIDC.Issuers)
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config, recorder auth.VerificationRecorder) (func(http.Handler) http.Handler, error) {
	secrets := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		secrets[strings.ToLower(key)] = value
	}
	if len(secrets) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	verifier, err := auth.NewSignatureVerifier(staticSecretProvider{secrets: secrets}, auth.NewMemoryNonceStore(),
		auth.WithSignatureLogger(logger),
		auth.WithSignatureRecorder(recorder),
		auth.WithSignatureHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithNonceTTL(cfg.Security.HMAC.NonceTTL),
	)
	if err != nil {
		return nil, err
	}
	return verifier.RequireSignature(webhookSecretResolver(secrets)), nil
}

// authRecorder exports verification outcomes on the global meter provider. Metrics are best
// effort; a failure leaves verification unrecorded.
func authRecorder(logger *zap.Logger) auth.VerificationRecorder {
	recorder, err := auth.NewMeterRecorder(otel.GetMeterProvider().Meter("github.com/hanko-field/orders/auth"))
	if err != nil {
		logger.Warn("auth metrics disabled", zap.Error(err))
		return nil
	}
	return recorder
}

type staticSecretProvider struct {
	secrets map[string]string
}

func (p staticSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if len(p.secrets) == 0 {
		return "", errors.New("auth: hmac secrets not configured")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("auth: secret name required")
	}
	if secret, ok := p.secrets[key]; ok && secret != "" {
		return secret, nil
	}
	return "", errors.New("auth: secret not found")
}

// webhookSecretResolver picks the secret named after the first path segment below
// /webhooks/ (e.g. "shipping"), falling back to "default".
func webhookSecretResolver(secrets map[string]string) func(*http.Request) (string, bool) {
	return func(r *http.Request) (string, bool) {
		path := r.URL.Path
		if idx := strings.Index(path, "/webhooks/"); idx >= 0 {
			path = path[idx+len("/webhooks/"):]
		}
		path = strings.Trim(path, "/")

		candidates := make([]string, 0, 2)
		if path != "" {
			segment, _, _ := strings.Cut(path, "/")
			candidates = append(candidates, strings.ToLower(segment))
		}
		candidates = append(candidates, "default")

		for _, candidate := range candidates {
			if secret, ok := secrets[candidate]; ok && secret != "" {
				return candidate, true
			}
		}
		return "", false
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func pubsubProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.PubSub.ProjectID); id != "" {
		return id
	}
	return traceProjectID(cfg)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := secretProjectMapFromEnv(env); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPinsFromEnv(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Payments.StripeAPIKey",
		"Payments.StripeWebhookSecret",
		"Shipping.Password",
	}
	for _, key := range parseHMACSecretKeys(env["API_SECURITY_HMAC_SECRETS"]) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return uniqueStrings(required)
}

// secretProjectMapFromEnv parses API_SECRET_PROJECT_IDS ("prod=proj-a,stg=proj-b").
func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	for label, project := range parseKeyValueList(env["API_SECRET_PROJECT_IDS"]) {
		projects[strings.ToLower(label)] = project
	}
	return projects
}

// secretVersionPinsFromEnv parses API_SECRET_VERSION_PINS. Keys may carry an environment
// prefix ("prod:orders/stripe-key=3") and the sm:// shorthand.
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(env["API_SECRET_VERSION_PINS"]) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseHMACSecretKeys(raw string) []string {
	values := parseKeyValueList(raw)
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)
	return keys
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

// newPayloadArchive returns a nil archive when no bucket is configured.
func newPayloadArchive(ctx context.Context, cfg config.ArchiveConfig) (*storage.Archive, func() error, error) {
	noop := func() error { return nil }
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, noop, nil
	}
	client, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return nil, noop, err
	}
	archive, err := storage.NewArchive(client, cfg.Bucket, storage.WithArchivePrefix(cfg.Prefix))
	if err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	return archive, client.Close, nil
}
