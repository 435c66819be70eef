package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/product-options/internal/platform/config"
	pfirestore "github.com/hanko-field/product-options/internal/platform/firestore"
	"github.com/hanko-field/product-options/internal/platform/jobs"
	"github.com/hanko-field/product-options/internal/platform/observability"
	"github.com/hanko-field/product-options/internal/repositories"
	firestorerepo "github.com/hanko-field/product-options/internal/repositories/firestore"
	"github.com/hanko-field/product-options/internal/repositories/memory"
	"github.com/hanko-field/product-options/internal/repositories/sqlite"
	"github.com/hanko-field/product-options/internal/selection"
	"github.com/hanko-field/product-options/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog   services.CatalogService
	Selection services.SelectionService
	Cart      services.CartService
	Orders    services.OrderService
	System    services.SystemService
}

// Container wires repositories, services, and event publishing for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Localizer    *selection.Localizer

	closers []func(context.Context) error
}

type containerOptions struct {
	registry  repositories.Registry
	publisher services.SelectionEventPublisher
	logger    *zap.Logger
	meter     metric.Meter
	clock     func() time.Time
	checks    []repositories.DependencyCheck
	build     services.BuildInfo
}

// Option customises container construction.
type Option func(*containerOptions)

// WithRegistry injects a repository registry instead of opening one from config.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) { o.registry = reg }
}

// WithSelectionPublisher injects the selection event publisher instead of dialling Pub/Sub.
func WithSelectionPublisher(publisher services.SelectionEventPublisher) Option {
	return func(o *containerOptions) { o.publisher = publisher }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) { o.meter = meter }
}

func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// WithDependencyChecks adds readiness probes beyond the registry's own, e.g. Secret Manager.
func WithDependencyChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *containerOptions) { o.checks = append(o.checks, checks...) }
}

// WithBuildInfo sets the metadata reported by the readiness endpoint.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) { o.build = info }
}

// NewContainer constructs the runtime dependencies. Tests can supply an in-memory registry
// and a stub publisher through options.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	c := &Container{Config: cfg}

	reg := o.registry
	if reg == nil {
		opened, err := OpenRegistry(ctx, cfg, o.logger)
		if err != nil {
			return nil, err
		}
		reg = opened
	}
	c.Repositories = reg
	c.closers = append(c.closers, reg.Close)

	publisher := o.publisher
	if publisher == nil && strings.TrimSpace(cfg.PubSub.ProjectID) != "" {
		pub, closer, err := newSelectionPublisher(ctx, cfg.PubSub)
		if err != nil {
			o.logger.Warn("selection events disabled: pubsub unavailable", zap.Error(err))
		} else {
			publisher = pub
			c.closers = append(c.closers, closer)
		}
	}

	c.Localizer = selection.NewLocalizer(
		selection.WithDefaultLocale(cfg.Selection.DefaultLocale),
		selection.WithDisplayLabel(cfg.Selection.DisplayLabel),
	)

	svc, err := buildServices(reg, publisher, c.Localizer, cfg, o)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// Close releases repository clients and the Pub/Sub topic in reverse construction order.
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

// OpenRegistry opens the repository backend selected by cfg.Storage.
func OpenRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Storage.Backend {
	case config.StorageBackendFirestore, "":
		reg, err := firestorerepo.NewRegistry(pfirestore.NewProvider(cfg.Firestore))
		if err != nil {
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, nil
	case config.StorageBackendSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite registry: %w", err)
		}
		return store, nil
	case config.StorageBackendMemory:
		reg := memory.NewRegistry()
		if seed := strings.TrimSpace(cfg.Storage.SeedFile); seed != "" {
			count, err := reg.LoadSeedFile(ctx, seed)
			if err != nil {
				return nil, fmt.Errorf("seed memory registry: %w", err)
			}
			logger.Info("memory registry seeded", zap.String("file", seed), zap.Int("catalogs", count))
		}
		return reg, nil
	}
	return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
}

func buildServices(reg repositories.Registry, publisher services.SelectionEventPublisher, localizer *selection.Localizer, cfg config.Config, o containerOptions) (Services, error) {
	serviceLogger := observability.ServiceLogger(o.logger)

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalogs: reg.Catalogs(),
		Clock:    o.clock,
		Logger:   serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}

	selectionSvc, err := services.NewSelectionService(services.SelectionServiceDeps{
		Catalogs:  catalogSvc,
		Localizer: localizer,
		Meter:     o.meter,
		Logger:    serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build selection service: %w", err)
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		CartLines:         reg.CartLines(),
		Catalogs:          catalogSvc,
		Localizer:         localizer,
		StrictCatalog:     cfg.Selection.StrictCatalog,
		MaxTransportBytes: cfg.Selection.MaxTransportBytes,
		Clock:             o.clock,
		Logger:            serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		OrderLines: reg.OrderLines(),
		CartLines:  reg.CartLines(),
		UnitOfWork: reg,
		Localizer:  localizer,
		MetaKey:    cfg.Selection.OrderMetaKey,
		Events:     publisher,
		Clock:      o.clock,
		Logger:     serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	checks := append(append([]repositories.DependencyCheck(nil), reg.Checks()...), o.checks...)
	healthRepo, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(o.clock))
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	build := o.build
	if build.StorageBackend == "" {
		build.StorageBackend = cfg.Storage.Backend
		if build.StorageBackend == "" {
			build.StorageBackend = config.StorageBackendFirestore
		}
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            o.clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return Services{
		Catalog:   catalogSvc,
		Selection: selectionSvc,
		Cart:      cartSvc,
		Orders:    orderSvc,
		System:    systemSvc,
	}, nil
}

func newSelectionPublisher(ctx context.Context, cfg config.PubSubConfig) (services.SelectionEventPublisher, func(context.Context) error, error) {
	var clientOpts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		clientOpts = append(clientOpts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.SelectionTopic)
	publisher, err := jobs.NewPubSubSelectionPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closer := func(context.Context) error {
		topic.Stop()
		return client.Close()
	}
	return publisher, closer, nil
}
