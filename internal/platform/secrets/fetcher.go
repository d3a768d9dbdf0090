package secrets

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCacheTTL = 10 * time.Minute
	latestVersion   = "latest"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// AccessClient is the subset of the Secret Manager client the fetcher uses.
type AccessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references against Secret Manager. Values are cached per version for
// a bounded time. A dotenv style fallback file serves local development and answers when Secret
// Manager is unreachable or denies access.
type Fetcher struct {
	client     AccessClient
	ownsClient bool
	logger     *zap.Logger
	clock      func() time.Time
	ttl        time.Duration

	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cached

	resolutions metric.Int64Counter
	latency     metric.Float64Histogram
}

type cached struct {
	value     string
	expiresAt time.Time
}

type settings struct {
	logger         *zap.Logger
	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string
	fallbackPath   string
	client         AccessClient
	clientOpts     []option.ClientOption
	meter          metric.Meter
	ttl            time.Duration
	clock          func() time.Time
}

// Option customises NewFetcher.
type Option func(*settings)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects the project map entry and version pins for env.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject is used when the project map has no entry for the environment.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.defaultProject = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(projects map[string]string) Option {
	return func(s *settings) { s.projects = projects }
}

// WithVersionPins fixes versions by canonical reference, optionally prefixed "env:".
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) { s.pins = pins }
}

// WithFallbackFile names the dotenv file consulted when Secret Manager cannot answer.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

// WithClient injects the Secret Manager client.
func WithClient(client AccessClient) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions are passed to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithMeter overrides the global meter.
func WithMeter(meter metric.Meter) Option {
	return func(s *settings) { s.meter = meter }
}

// WithCacheTTL bounds how long a resolved value is reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewFetcher builds a Fetcher. When no client is injected and one cannot be created the
// fetcher serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{env: "local", ttl: defaultCacheTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter("github.com/hanko-field/orders/internal/platform/secrets")
	}

	resolutions, err := s.meter.Int64Counter("orders.secrets.resolutions",
		metric.WithDescription("Secret resolutions by source."))
	if err != nil {
		return nil, fmt.Errorf("secrets: register counter: %w", err)
	}
	latency, err := s.meter.Float64Histogram("orders.secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving secrets."))
	if err != nil {
		return nil, fmt.Errorf("secrets: register histogram: %w", err)
	}

	f := &Fetcher{
		client:         s.client,
		logger:         s.logger,
		clock:          s.clock,
		ttl:            s.ttl,
		env:            s.env,
		defaultProject: s.defaultProject,
		projects:       normaliseKeys(s.projects),
		pins:           s.pins,
		fallbackPath:   s.fallbackPath,
		cache:          make(map[string]cached),
		resolutions:    resolutions,
		latency:        latency,
	}
	if f.client == nil {
		client, err := secretmanager.NewClient(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secret manager unavailable; serving fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind ref.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := f.clock()
	parsed, err := ParseReference(ref)
	if err != nil {
		return "", err
	}
	version := f.version(parsed)
	key := parsed.Canonical + "@" + version

	if value, ok := f.cached(key); ok {
		f.record(ctx, "cache", start)
		return value, nil
	}

	result, err, _ := f.group.Do(key, func() (any, error) {
		value, source, err := f.load(ctx, parsed, version)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[key] = cached{value: value, expiresAt: f.clock().Add(f.ttl)}
		f.mu.Unlock()
		f.record(ctx, source, start)
		return value, nil
	})
	if err != nil {
		f.record(ctx, "error", start)
		return "", err
	}
	return result.(string), nil
}

// Probe reads ref from Secret Manager, bypassing the cache and fallback. A missing secret still
// proves the service is reachable and is not an error.
func (f *Fetcher) Probe(ctx context.Context, ref string) error {
	parsed, err := ParseReference(ref)
	if err != nil {
		return err
	}
	project := f.project(parsed)
	if f.client == nil || project == "" {
		return errors.New("secrets: secret manager not configured")
	}
	_, err = f.access(ctx, project, parsed, f.version(parsed))
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// Invalidate drops every cached version of ref.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := ParseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if strings.HasPrefix(key, parsed.Canonical+"@") {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok || !f.clock().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) load(ctx context.Context, ref Reference, version string) (string, string, error) {
	project := f.project(ref)
	if f.client != nil && project != "" {
		value, err := f.access(ctx, project, ref, version)
		if err == nil {
			return value, "secret_manager", nil
		}
		if !fallbackEligible(err) {
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.Canonical, err)
		}
		f.logger.Warn("secret manager unavailable; trying fallback file", zap.String("secret", ref.Canonical), zap.Error(err))
	}

	if value, ok := f.fallbackValue(ref, version); ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("secrets: %s not found in fallback file", ref.Canonical)
}

func (f *Fetcher) access(ctx context.Context, project string, ref Reference, version string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.secretID(), version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name},
		gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes([]codes.Code{codes.Unavailable, codes.ResourceExhausted}, gax.Backoff{
				Initial:    100 * time.Millisecond,
				Max:        2 * time.Second,
				Multiplier: 2,
			})
		}),
	)
	if err != nil {
		return "", err
	}
	payload := resp.GetPayload()
	if payload == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	if payload.DataCrc32C != nil && int64(crc32.Checksum(payload.GetData(), castagnoli)) != payload.GetDataCrc32C() {
		return "", fmt.Errorf("secrets: checksum mismatch for %s", name)
	}
	return string(payload.GetData()), nil
}

func (f *Fetcher) project(ref Reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	if project := f.projects[f.env]; project != "" {
		return project
	}
	return f.defaultProject
}

func (f *Fetcher) version(ref Reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	for _, key := range []string{f.env + ":" + ref.Canonical, ref.Canonical} {
		if pin := strings.TrimSpace(f.pins[key]); pin != "" {
			return pin
		}
	}
	return latestVersion
}

// fallbackValue reads the dotenv file once. Secret "stripe/api" is stored under STRIPE_API and
// version 3 of it under STRIPE_API__3.
func (f *Fetcher) fallbackValue(ref Reference, version string) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secret fallback file unreadable", zap.String("path", f.fallbackPath), zap.Error(err))
			}
			return
		}
		f.fallback = values
	})
	key := ref.envKey()
	if value, ok := f.fallback[key+"__"+strings.ToUpper(version)]; ok {
		return value, true
	}
	value, ok := f.fallback[key]
	return value, ok
}

func (f *Fetcher) record(ctx context.Context, source string, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	f.resolutions.Add(ctx, 1, attrs)
	f.latency.Record(ctx, float64(f.clock().Sub(start))/float64(time.Millisecond), attrs)
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func normaliseKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		if value = strings.TrimSpace(value); value != "" {
			out[strings.ToLower(strings.TrimSpace(key))] = value
		}
	}
	return out
}
