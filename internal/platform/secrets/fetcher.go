package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
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
	defaultCacheTTL     = 10 * time.Minute
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/lionbidi/storefront/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file holds the secret.
var ErrNotFound = errors.New("secrets: secret not found")

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references through Google Secret Manager. Values are cached for a
// TTL; in local environments, or when Secret Manager refuses access, a key=value fallback file
// is consulted.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	projectID  string
	allowLocal bool
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cached

	latency metric.Float64Histogram
	lookups metric.Int64Counter
}

type cached struct {
	value     string
	expiresAt time.Time
}

type fetcherConfig struct {
	client       accessClient
	clientOpts   []option.ClientOption
	projectID    string
	environment  string
	ttl          time.Duration
	fallbackPath string
	logger       *zap.Logger
	meter        metric.Meter
	now          func() time.Time
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithProject sets the project holding the secrets. References may override it with ?project=.
func WithProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.projectID = strings.TrimSpace(projectID) }
}

// WithEnvironment names the deployment; "local" enables the fallback file unconditionally.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) { cfg.environment = strings.ToLower(strings.TrimSpace(env)) }
}

// WithCacheTTL overrides how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithFallbackFile overrides the local fallback file path.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMeter injects an OpenTelemetry meter.
func WithMeter(meter metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = meter }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

func withAccessClient(client accessClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

func withClock(now func() time.Time) Option {
	return func(cfg *fetcherConfig) { cfg.now = now }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is tolerated in
// the local environment.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		environment:  "local",
		ttl:          defaultCacheTTL,
		fallbackPath: defaultFallbackPath,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:       cfg.client,
		projectID:    cfg.projectID,
		allowLocal:   cfg.environment == "local",
		ttl:          cfg.ttl,
		now:          cfg.now,
		logger:       cfg.logger,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cached),
	}

	var err error
	if f.latency, err = cfg.meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution by source")); err != nil {
		return nil, fmt.Errorf("secrets: register latency metric: %w", err)
	}
	if f.lookups, err = cfg.meter.Int64Counter("secrets.resolve.total",
		metric.WithDescription("Secret resolutions by source and outcome")); err != nil {
		return nil, fmt.Errorf("secrets: register lookup metric: %w", err)
	}

	if f.client == nil && f.projectID != "" {
		client, err := secretmanager.NewClient(ctx, cfg.clientOpts...)
		switch {
		case err == nil:
			f.client = client
			f.ownsClient = true
		case f.allowLocal:
			f.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err))
		default:
			return nil, fmt.Errorf("secrets: create secret manager client: %w", err)
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when owned.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret returns the value behind ref, e.g. secret://redis-password?version=3.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	start := f.now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	if value, ok := f.cachedValue(parsed.key()); ok {
		f.record(ctx, start, "cache", nil)
		return value, nil
	}

	v, err, _ := f.group.Do(parsed.key(), func() (any, error) {
		value, source, err := f.load(ctx, parsed)
		f.record(ctx, start, source, err)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[parsed.key()] = cached{value: value, expiresAt: f.now().Add(f.ttl)}
		f.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops a cached value so the next resolution fetches it again.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.cache, parsed.key())
	f.mu.Unlock()
}

func (f *Fetcher) cachedValue(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok || !f.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) load(ctx context.Context, ref reference) (string, string, error) {
	project := ref.project
	if project == "" {
		project = f.projectID
	}
	if f.client != nil && project != "" {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err == nil {
			return string(resp.GetPayload().GetData()), "remote", nil
		}
		if !f.allowLocal || !fallbackEligible(err) {
			if status.Code(err) == codes.NotFound {
				return "", "remote", fmt.Errorf("%w: %s", ErrNotFound, ref.canonical)
			}
			return "", "remote", fmt.Errorf("secrets: access %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secret manager refused, trying fallback", zap.String("secret", ref.name), zap.Error(err))
	} else if !f.allowLocal {
		return "", "remote", fmt.Errorf("secrets: no secret manager project configured for %s", ref.canonical)
	}

	f.fallbackOnce.Do(f.loadFallback)
	if value, ok := f.fallback[ref.key()]; ok {
		return value, "fallback", nil
	}
	if value, ok := f.fallback[ref.canonical]; ok {
		return value, "fallback", nil
	}
	return "", "fallback", fmt.Errorf("%w: %s", ErrNotFound, ref.canonical)
}

// loadFallback reads lines of the form secret://name=value (sm:// accepted).
func (f *Fetcher) loadFallback() {
	f.fallback = map[string]string{}
	if f.fallbackPath == "" {
		return
	}
	file, err := os.Open(f.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("secrets fallback file unreadable", zap.String("path", f.fallbackPath), zap.Error(err))
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		parsed, err := parseReference(strings.TrimSpace(name))
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		f.fallback[parsed.key()] = value
		if parsed.version == "latest" {
			f.fallback[parsed.canonical] = value
		}
	}
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("source", source), attribute.String("outcome", outcome))
	f.latency.Record(ctx, float64(f.now().Sub(start))/float64(time.Millisecond), attrs)
	f.lookups.Add(ctx, 1, attrs)
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func (r reference) key() string { return r.canonical + "#" + r.version }

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: invalid reference %q", ref)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{
		canonical: "secret://" + name,
		name:      strings.ReplaceAll(name, "/", "_"),
		version:   version,
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}
