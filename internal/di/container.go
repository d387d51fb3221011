package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/lionbidi/storefront/internal/handlers"
	"github.com/lionbidi/storefront/internal/platform/auth"
	"github.com/lionbidi/storefront/internal/platform/cache"
	"github.com/lionbidi/storefront/internal/platform/config"
	"github.com/lionbidi/storefront/internal/platform/events"
	pfirestore "github.com/lionbidi/storefront/internal/platform/firestore"
	"github.com/lionbidi/storefront/internal/platform/idempotency"
	"github.com/lionbidi/storefront/internal/platform/observability"
	"github.com/lionbidi/storefront/internal/platform/postal"
	"github.com/lionbidi/storefront/internal/platform/storage"
	"github.com/lionbidi/storefront/internal/repositories"
	firestoreRepo "github.com/lionbidi/storefront/internal/repositories/firestore"
	"github.com/lionbidi/storefront/internal/services"
)

const (
	firestoreCheckTimeout = 2 * time.Second
	redisCheckTimeout     = time.Second
	authVerifyTimeout     = 5 * time.Second
	idempotencyKeyPrefix  = "storefront:idem:"
)

// Services bundles the service layer the handlers are built on.
type Services struct {
	Orders   *services.OrderService
	Payments *services.PaymentService
	Reviewer *services.ReviewerService
	Carts    *services.CartService
	Delivery *services.DeliveryChargeResolver
}

// Container wires repositories, services, and HTTP handlers for runtime use.
type Container struct {
	Config      config.Config
	Services    Services
	Router      http.Handler
	Idempotency idempotency.Store
	Metrics     *observability.Metrics

	logger  *zap.Logger
	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger    *zap.Logger
	build     handlers.BuildInfo
	startedAt time.Time
	clock     func() time.Time
}

// WithLogger sets the base logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildInfo reports the binary version on /healthz.
func WithBuildInfo(info handlers.BuildInfo) Option {
	return func(o *containerOptions) { o.build = info }
}

// WithStartedAt overrides the process start time used for uptime.
func WithStartedAt(ts time.Time) Option {
	return func(o *containerOptions) {
		if !ts.IsZero() {
			o.startedAt = ts
		}
	}
}

// NewContainer constructs the runtime dependencies. On error every resource opened so far is released.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	options := containerOptions{
		logger:    zap.NewNop(),
		startedAt: time.Now().UTC(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{Config: cfg, logger: options.logger, Metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOptions(cfg)...))
	c.closers = append(c.closers, provider.Close)

	repos, err := buildRepositories(provider)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return redisClient.Close() })
	}

	publisher, err := c.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	screenshots, err := c.buildScreenshotStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(cfg, repos, publisher, screenshots, redisClient, c.Metrics, options)
	if err != nil {
		return nil, err
	}
	c.Services = svc

	switch cfg.Idempotency.Backend {
	case "redis":
		if redisClient == nil {
			return nil, errors.New("idempotency backend redis requires STOREFRONT_REDIS_ADDR")
		}
		c.Idempotency = idempotency.NewRedisStore(redisClient, idempotencyKeyPrefix)
	default:
		c.Idempotency = idempotency.NewMemoryStore()
	}

	router, err := c.buildRouter(ctx, cfg, provider, redisClient, options)
	if err != nil {
		return nil, err
	}
	c.Router = router
	return c, nil
}

// Close releases clients in reverse order of construction.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

type repositorySet struct {
	orders    *firestoreRepo.OrderRepository
	counters  *firestoreRepo.CounterRepository
	unit      *firestoreRepo.UnitOfWork
	ledger    *firestoreRepo.MergeLedger
	registry  *firestoreRepo.TransactionRegistry
	carts     *firestoreRepo.CartRepository
	wishlists *firestoreRepo.WishlistRepository
}

func buildRepositories(provider *pfirestore.Provider) (repositorySet, error) {
	var (
		set repositorySet
		err error
	)
	if set.orders, err = firestoreRepo.NewOrderRepository(provider); err != nil {
		return set, fmt.Errorf("build order repository: %w", err)
	}
	if set.counters, err = firestoreRepo.NewCounterRepository(provider); err != nil {
		return set, fmt.Errorf("build counter repository: %w", err)
	}
	if set.unit, err = firestoreRepo.NewUnitOfWork(provider); err != nil {
		return set, fmt.Errorf("build unit of work: %w", err)
	}
	if set.ledger, err = firestoreRepo.NewMergeLedger(provider); err != nil {
		return set, fmt.Errorf("build merge ledger: %w", err)
	}
	if set.registry, err = firestoreRepo.NewTransactionRegistry(provider); err != nil {
		return set, fmt.Errorf("build transaction registry: %w", err)
	}
	if set.carts, err = firestoreRepo.NewCartRepository(provider); err != nil {
		return set, fmt.Errorf("build cart repository: %w", err)
	}
	if set.wishlists, err = firestoreRepo.NewWishlistRepository(provider); err != nil {
		return set, fmt.Errorf("build wishlist repository: %w", err)
	}
	return set, nil
}

// buildPublisher returns nil when no topic is configured; services then skip event emission.
func (c *Container) buildPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, error) {
	topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	if topicName == "" || cfg.PubSub.ProjectID == "" {
		c.logger.Info("order events disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })

	publisher, err := events.NewPubSubOrderPublisher(client.Topic(topicName))
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func(context.Context) error {
		publisher.Stop()
		return nil
	})
	return publisher, nil
}

// buildScreenshotStore returns nil when no bucket is configured; payments are then accepted
// without screenshots.
func (c *Container) buildScreenshotStore(ctx context.Context, cfg config.Config) (services.ScreenshotStore, error) {
	bucket := strings.TrimSpace(cfg.Storage.PaymentsBucket)
	if bucket == "" {
		c.logger.Warn("payments bucket not configured; screenshots disabled")
		return nil, nil
	}
	client, err := gcs.NewClient(ctx, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })

	var opts []storage.Option
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		signer, err := storage.NewKeySignerFromFile(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, storage.WithSigner(signer))
	} else if cfg.Storage.SignerEmail != "" {
		opts = append(opts, storage.WithAccessID(cfg.Storage.SignerEmail))
	}
	store, err := storage.NewScreenshotStore(client, bucket, opts...)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func buildServices(cfg config.Config, repos repositorySet, publisher services.OrderEventPublisher, screenshots services.ScreenshotStore, redisClient *redis.Client, metrics *observability.Metrics, options containerOptions) (Services, error) {
	logEvent := observability.EventLogger(options.logger)

	pricing, err := services.NewPricingEngine()
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     repos.orders,
		Carts:      repos.carts,
		Counters:   repos.counters,
		UnitOfWork: repos.unit,
		Pricing:    pricing,
		Clock:      options.clock,
		Events:     publisher,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	payments, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:       repos.orders,
		Registry:     repos.registry,
		UnitOfWork:   repos.unit,
		Screenshots:  screenshots,
		MaxAttempts:  cfg.Payments.MaxAttempts,
		SignedURLTTL: cfg.Storage.SignedURLTTL,
		Clock:        options.clock,
		Events:       publisher,
		Logger:       logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	reviewer, err := services.NewReviewerService(services.ReviewerServiceDeps{
		Orders:     repos.orders,
		UnitOfWork: repos.unit,
		Clock:      options.clock,
		Events:     publisher,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reviewer service: %w", err)
	}

	carts, err := services.NewCartService(services.CartServiceDeps{
		Carts:      repos.carts,
		Wishlists:  repos.wishlists,
		Ledger:     repos.ledger,
		UnitOfWork: repos.unit,
		Clock:      options.clock,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	delivery, err := buildDeliveryResolver(cfg.Delivery, redisClient, metrics, options.logger)
	if err != nil {
		return Services{}, err
	}

	return Services{
		Orders:   orders,
		Payments: payments,
		Reviewer: reviewer,
		Carts:    carts,
		Delivery: delivery,
	}, nil
}

func buildDeliveryResolver(cfg config.DeliveryConfig, redisClient *redis.Client, metrics *observability.Metrics, logger *zap.Logger) (*services.DeliveryChargeResolver, error) {
	lookup, err := postal.NewClient(postal.Config{
		BaseURL:     cfg.LookupBaseURL,
		Timeout:     cfg.LookupTimeout,
		Failures:    cfg.BreakerFailures,
		OpenTimeout: cfg.BreakerOpenTimeout,
		Logger:      logger.Named("postal"),
	})
	if err != nil {
		return nil, fmt.Errorf("build postal client: %w", err)
	}

	policy, err := services.NewStaticShippingPolicy(
		services.ShippingRate{Charge: cfg.DefaultCharge, FreeThreshold: cfg.FreeThreshold},
		cfg.StateCharges, cfg.CityCharges, cfg.StateThresholds,
	)
	if err != nil {
		return nil, fmt.Errorf("build shipping policy: %w", err)
	}

	var regionCache services.RegionCache
	if redisClient != nil {
		regionCache = cache.NewRegionCache(redisClient)
	} else {
		regionCache = services.NewMemoryRegionCache(time.Now)
	}

	resolver, err := services.NewDeliveryChargeResolver(services.DeliveryChargeResolverDeps{
		Lookup:   lookup,
		Policy:   policy,
		Cache:    regionCache,
		CacheTTL: cfg.CacheTTL,
		Logger:   observability.EventLogger(logger),
		Observe:  metrics.ObserveDeliveryLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("build delivery resolver: %w", err)
	}
	return resolver, nil
}

func (c *Container) buildRouter(ctx context.Context, cfg config.Config, provider *pfirestore.Provider, redisClient *redis.Client, options containerOptions) (http.Handler, error) {
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, authVerifyTimeout)
	if err != nil {
		return nil, fmt.Errorf("build firebase verifier: %w", err)
	}
	authn := auth.NewAuthenticator(verifier, auth.WithVerificationTimeout(authVerifyTimeout))

	checks := []repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: firestoreCheckTimeout,
		Check:   provider.Ping,
	}}
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  redisCheckTimeout,
			Optional: true,
			Check:    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	idempotencyMW := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithRequiredKey(),
		idempotency.WithLogger(c.logger.Named("idempotency")),
	)

	orderHandlers := handlers.NewOrderHandlers(authn, c.Services.Orders, c.Services.Payments, c.Services.Reviewer,
		handlers.WithCreateMiddlewares(idempotencyMW),
		handlers.WithOperationRecorder(c.Metrics),
	)
	cartHandlers := handlers.NewCartHandlers(authn, c.Services.Carts)
	deliveryHandlers := handlers.NewDeliveryHandlers(c.Services.Delivery)
	internalHandlers := handlers.NewInternalHandlers(c.Idempotency)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthReporter(health),
		handlers.WithHealthBuildInfo(options.build),
		handlers.WithHealthStartedAt(options.startedAt),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.Trace(traceProjectID(cfg)),
		observability.RequestLogger(c.logger),
		observability.Recovery(c.logger),
		c.Metrics.Middleware,
	}

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.CartRoutes),
		handlers.WithWishlistRoutes(cartHandlers.WishlistRoutes),
		handlers.WithDeliveryRoutes(deliveryHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if mw := c.buildOIDCMiddleware(cfg.Security); mw != nil {
		routerOpts = append(routerOpts, handlers.WithInternalMiddlewares(mw))
	}
	if cfg.Metrics.Enabled {
		routerOpts = append(routerOpts, handlers.WithMetricsHandler(cfg.Metrics.Path, c.Metrics.Handler()))
	}
	return handlers.NewRouter(routerOpts...), nil
}

// buildOIDCMiddleware guards /internal. It returns nil only in the local environment without an
// audience, where the scheduler is not in play.
func (c *Container) buildOIDCMiddleware(cfg config.SecurityConfig) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(cfg.OIDC.Audience)
	if audience == "" && cfg.Environment == "local" {
		c.logger.Warn("internal endpoints unauthenticated in local environment")
		return nil
	}
	cache := auth.NewJWKSCache(cfg.OIDC.JWKSURL, auth.WithJWKSLogger(c.logger.Named("jwks")))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(c.logger.Named("oidc")))
	return validator.RequireOIDC(audience, cfg.OIDC.Issuers)
}

func clientOptions(cfg config.Config) []option.ClientOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func traceProjectID(cfg config.Config) string {
	if cfg.Firebase.ProjectID != "" {
		return cfg.Firebase.ProjectID
	}
	return cfg.Firestore.ProjectID
}
