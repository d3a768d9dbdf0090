package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const defaultEnvFile = ".env"

var defaultIssuers = []string{"https://accounts.google.com", "https://cloud.google.com/iap"}

// Config captures all runtime configuration organised by concern. Fields are bound from
// API_* environment variables through their env tags; default tags apply when a variable is
// unset or blank.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Payments    PaymentsConfig
	Shipping    ShippingConfig
	Fulfillment FulfillmentConfig
	Background  BackgroundConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Archive     ArchiveConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string        `env:"API_SERVER_PORT" default:"8080" validate:"required,numeric"`
	ReadTimeout  time.Duration `env:"API_SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"API_SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `env:"API_SERVER_IDLE_TIMEOUT" default:"2m"`
	// HealthCacheTTL bounds how often /readyz probes dependencies.
	HealthCacheTTL time.Duration `env:"API_SERVER_HEALTH_CACHE_TTL" default:"2s"`
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string `env:"API_FIREBASE_PROJECT_ID" validate:"required"`
	CredentialsFile string `env:"API_FIREBASE_CREDENTIALS_FILE"`
}

// FirestoreConfig stores database parameters. ProjectID falls back to the Firebase project.
type FirestoreConfig struct {
	ProjectID    string `env:"API_FIRESTORE_PROJECT_ID" validate:"required"`
	EmulatorHost string `env:"API_FIRESTORE_EMULATOR_HOST"`
}

// PubSubConfig names the topics order events and customer notifications are published to.
type PubSubConfig struct {
	ProjectID          string `env:"API_PUBSUB_PROJECT_ID"`
	OrderEventsTopic   string `env:"API_PUBSUB_ORDER_EVENTS_TOPIC" default:"order-events" validate:"required"`
	NotificationsTopic string `env:"API_PUBSUB_NOTIFICATIONS_TOPIC" default:"order-notifications" validate:"required"`
}

// PaymentsConfig configures the payment gateway and the customer redirect targets.
type PaymentsConfig struct {
	StripeAPIKey        string        `env:"API_PAYMENTS_STRIPE_API_KEY" secret:"true"`
	StripeWebhookSecret string        `env:"API_PAYMENTS_STRIPE_WEBHOOK_SECRET" secret:"true"`
	StripeAccountID     string        `env:"API_PAYMENTS_STRIPE_ACCOUNT_ID"`
	Currency            string        `env:"API_PAYMENTS_CURRENCY,upper" default:"INR" validate:"len=3,alpha"`
	CallbackURL         string        `env:"API_PAYMENTS_CALLBACK_URL" validate:"required,http_url"`
	SuccessURL          string        `env:"API_PAYMENTS_SUCCESS_URL" validate:"omitempty,http_url"`
	FailureURL          string        `env:"API_PAYMENTS_FAILURE_URL" validate:"omitempty,http_url"`
	Timeout             time.Duration `env:"API_PAYMENTS_TIMEOUT" default:"20s"`
	WebhookTolerance    time.Duration `env:"API_PAYMENTS_WEBHOOK_TOLERANCE" default:"5m"`
}

// ShippingConfig configures the shipping provider client.
type ShippingConfig struct {
	BaseURL        string        `env:"API_SHIPPING_BASE_URL" default:"https://apiv2.shiprocket.in/v1/external" validate:"http_url"`
	Email          string        `env:"API_SHIPPING_EMAIL" validate:"omitempty,email"`
	Password       string        `env:"API_SHIPPING_PASSWORD" secret:"true"`
	PickupLocation string        `env:"API_SHIPPING_PICKUP_LOCATION" validate:"required"`
	AuthTimeout    time.Duration `env:"API_SHIPPING_AUTH_TIMEOUT" default:"10s"`
	CreateTimeout  time.Duration `env:"API_SHIPPING_CREATE_TIMEOUT" default:"20s"`
	TrackTimeout   time.Duration `env:"API_SHIPPING_TRACK_TIMEOUT" default:"10s"`
	TokenTTL       time.Duration `env:"API_SHIPPING_TOKEN_TTL" default:"23h"`
	TokenSkew      time.Duration `env:"API_SHIPPING_TOKEN_SKEW" default:"5m"`
}

// FulfillmentConfig tunes the durable dispatch retry table and its sweeper.
type FulfillmentConfig struct {
	MaxRetries      int           `env:"API_FULFILLMENT_MAX_RETRIES" default:"3" validate:"gte=0"`
	SweepInterval   time.Duration `env:"API_FULFILLMENT_SWEEP_INTERVAL" default:"5m" validate:"gt=0"`
	SweepDelay      time.Duration `env:"API_FULFILLMENT_SWEEP_DELAY" default:"5s"`
	SweepBatchSize  int           `env:"API_FULFILLMENT_SWEEP_BATCH" default:"25" validate:"gt=0"`
	LeaseDuration   time.Duration `env:"API_FULFILLMENT_LEASE" default:"2m"`
	DispatchTimeout time.Duration `env:"API_FULFILLMENT_DISPATCH_TIMEOUT" default:"30s"`
	InitialBackoff  time.Duration `env:"API_FULFILLMENT_BACKOFF_INITIAL" default:"1m"`
	MaxBackoff      time.Duration `env:"API_FULFILLMENT_BACKOFF_MAX" default:"30m"`
}

// BackgroundConfig bounds post-commit side effects.
type BackgroundConfig struct {
	Timeout time.Duration `env:"API_BACKGROUND_TIMEOUT" default:"30s"`
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute int `env:"API_RATELIMIT_DEFAULT_PER_MIN" default:"120" validate:"gte=0"`
	WebhookBurst     int `env:"API_RATELIMIT_WEBHOOK_BURST" default:"60" validate:"gte=0"`
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string `env:"API_SECURITY_ENVIRONMENT,lower" default:"local"`
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig controls Google-signed token verification. Audience falls back to the
// Audiences entry for the security environment.
type OIDCConfig struct {
	JWKSURL   string            `env:"API_SECURITY_OIDC_JWKS_URL" default:"https://www.googleapis.com/oauth2/v3/certs" validate:"http_url"`
	Audience  string            `env:"API_SECURITY_OIDC_AUDIENCE"`
	Audiences map[string]string `env:"API_SECURITY_OIDC_AUDIENCES"`
	Issuers   []string          `env:"API_SECURITY_OIDC_ISSUERS"`
}

// HMACConfig captures webhook signing expectations. Secrets maps a webhook name to its
// signing secret or a secret reference.
type HMACConfig struct {
	Secrets         map[string]string `env:"API_SECURITY_HMAC_SECRETS" secret:"true"`
	SignatureHeader string            `env:"API_SECURITY_HMAC_HEADER_SIGNATURE" default:"X-Signature"`
	TimestampHeader string            `env:"API_SECURITY_HMAC_HEADER_TIMESTAMP" default:"X-Signature-Timestamp"`
	NonceHeader     string            `env:"API_SECURITY_HMAC_HEADER_NONCE" default:"X-Signature-Nonce"`
	ClockSkew       time.Duration     `env:"API_SECURITY_HMAC_CLOCK_SKEW" default:"5m"`
	NonceTTL        time.Duration     `env:"API_SECURITY_HMAC_NONCE_TTL" default:"5m"`
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string        `env:"API_IDEMPOTENCY_HEADER" default:"Idempotency-Key" validate:"required"`
	TTL              time.Duration `env:"API_IDEMPOTENCY_TTL" default:"24h" validate:"gt=0"`
	CleanupInterval  time.Duration `env:"API_IDEMPOTENCY_CLEANUP_INTERVAL" default:"1h" validate:"gt=0"`
	CleanupBatchSize int           `env:"API_IDEMPOTENCY_CLEANUP_BATCH" default:"200" validate:"gt=0"`
}

// ArchiveConfig locates the raw webhook payload archive. Archiving is off
// while Bucket is empty.
type ArchiveConfig struct {
	Bucket string `env:"API_ARCHIVE_BUCKET"`
	Prefix string `env:"API_ARCHIVE_PREFIX" default:"webhooks"`
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secrets               SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secrets:      unconfiguredResolver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the .env file path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver resolves secret:// and sm:// references found in secret fields.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		if resolver != nil {
			o.secrets = resolver
		}
	}
}

// WithRequiredSecrets marks secret fields that must resolve to a non-empty value. Names use
// the field path, e.g. "Payments.StripeAPIKey" or "Security.HMAC.Secrets[shipping]".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// EnvironmentValues returns the merged environment Load would see, so callers can build
// dependencies such as the secret fetcher before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.values(), nil
}

// Load binds the configuration from the environment, resolves secret references, and
// validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	src, err := newSource(options)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := bind(&cfg, src.lookup); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	applyDerivedDefaults(&cfg)

	resolved, err := resolveSecrets(ctx, &cfg, options.secrets)
	if err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = append([]string(nil), defaultIssuers...)
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[strings.ToLower(cfg.Security.Environment)]
	}
}
