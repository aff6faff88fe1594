package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/checks"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
	"github.com/xkilldash9x/checkout-inspector/internal/browser"
	"github.com/xkilldash9x/checkout-inspector/internal/config"
	"github.com/xkilldash9x/checkout-inspector/internal/network"
	"github.com/xkilldash9x/checkout-inspector/internal/orchestrator"
	"github.com/xkilldash9x/checkout-inspector/internal/sdk"
	"github.com/xkilldash9x/checkout-inspector/internal/store"
	"github.com/xkilldash9x/checkout-inspector/internal/version"
)

// ComponentFactory creates the set of components a command needs. Commands
// depend on the interface so tests can substitute fakes.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

// HostBuilder creates the browser host.
type HostBuilder func(cfg config.BrowserConfig, logger *zap.Logger) schemas.BrowserHost

// StoreBuilder opens the result store.
type StoreBuilder func(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.ResultStore, error)

type concreteFactory struct {
	newHost  HostBuilder
	newStore StoreBuilder
}

// FactoryOption customizes the production factory.
type FactoryOption func(*concreteFactory)

// WithHostBuilder replaces the chromedp host.
func WithHostBuilder(b HostBuilder) FactoryOption {
	return func(f *concreteFactory) { f.newHost = b }
}

// WithStoreBuilder replaces the configured store.
func WithStoreBuilder(b StoreBuilder) FactoryOption {
	return func(f *concreteFactory) { f.newStore = b }
}

// NewComponentFactory creates the production component factory.
func NewComponentFactory(opts ...FactoryOption) ComponentFactory {
	f := &concreteFactory{
		newHost: func(cfg config.BrowserConfig, logger *zap.Logger) schemas.BrowserHost {
			return browser.NewManager(cfg, logger)
		},
		newStore: store.New,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create wires every component. On failure anything already opened is
// released before returning.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cannot create components without configuration")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Initializing components.")

	c := &Components{logger: logger}

	resultStore, err := f.newStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	c.Store = resultStore

	c.Profile = sdk.NewProfile(cfg.SDK)
	c.HTTPClient = network.NewClient(cfg.Network, logger)

	registry, err := checks.NewRegistry(c.Profile)
	if err != nil {
		c.Shutdown()
		return nil, fmt.Errorf("failed to register checks: %w", err)
	}
	c.Registry = registry
	c.Engine = core.NewEngine(registry, logger)

	latest := version.NewNPMRegistry(c.HTTPClient, cfg.SDK.RegistryURL, cfg.SDK.LatestCacheTTL, logger)
	c.Resolver = version.NewResolver(latest, c.HTTPClient, c.Profile, cfg.SDK.BundleScanLimit, logger)

	c.Host = f.newHost(cfg.Browser, logger)

	orch, err := orchestrator.New(cfg.Scan, orchestrator.Dependencies{
		Host:     c.Host,
		Resolver: c.Resolver,
		Engine:   c.Engine,
		Store:    c.Store,
		Prober:   c.HTTPClient,
		Profile:  c.Profile,
	}, logger)
	if err != nil {
		c.Shutdown()
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	c.Orchestrator = orch

	logger.Debug("Components initialized.",
		zap.String("store", cfg.Store.Backend),
		zap.Int("checks", registry.Len()),
	)
	return c, nil
}
