// Package browser hosts checkout pages in a headless Chrome driven over the
// DevTools protocol. It implements schemas.BrowserHost: tabs, readiness,
// tab-scoped network events and page extraction.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the browser process and every open tab.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	tabs map[schemas.TabID]*tab
	mu   sync.RWMutex

	// Initialization state management
	initOnce sync.Once
	initErr  error
	closed   bool
}

var _ schemas.BrowserHost = (*Manager)(nil)

// NewManager creates a browser manager. The browser is launched lazily when
// the first tab is opened.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
		tabs:   make(map[schemas.TabID]*tab),
	}
	m.logger.Debug("Browser manager created (initialization deferred).")
	return m
}

// AllocatorOptions builds the exec allocator options for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-networking", true),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// initialize launches the browser process once.
func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching headless browser...")
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), AllocatorOptions(m.cfg)...)
		m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx,
			chromedp.WithLogf(m.logger.Sugar().Debugf),
			chromedp.WithErrorf(m.logger.Sugar().Debugf),
		)
		// An empty Run starts the browser and its first target.
		if err := chromedp.Run(m.browserCtx); err != nil {
			m.browserCancel()
			m.allocCancel()
			m.initErr = fmt.Errorf("failed to launch browser instance: %w", err)
			return
		}
		m.logger.Info("Browser launched.")
	})
	return m.initErr
}

// OpenTab creates a tab, installs the configuration hook and navigates to
// url. It returns once the navigation has committed and loaded.
func (m *Manager) OpenTab(ctx context.Context, url string) (schemas.TabID, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("browser manager is shut down")
	}
	if err := m.initialize(); err != nil {
		return "", err
	}

	id := schemas.TabID(uuid.NewString())
	tabCtx, cancel := chromedp.NewContext(m.browserCtx)
	t := newTab(id, tabCtx, cancel, m.logger)
	t.listen()

	if err := chromedp.Run(tabCtx, t.prepare()...); err != nil {
		t.close()
		return "", fmt.Errorf("failed to prepare tab: %w", err)
	}

	m.mu.Lock()
	m.tabs[id] = t
	m.mu.Unlock()

	if err := t.navigate(ctx, url); err != nil {
		m.removeTab(id)
		t.close()
		return "", fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	m.logger.Info("Tab opened.", zap.String("tab_id", id.String()), zap.String("url", url))
	return id, nil
}

// CloseTab closes the tab and drops every subscription on it.
func (m *Manager) CloseTab(ctx context.Context, id schemas.TabID) error {
	t := m.removeTab(id)
	if t == nil {
		return fmt.Errorf("%w: %s", schemas.ErrTabNotFound, id)
	}
	t.close()
	m.logger.Debug("Tab closed.", zap.String("tab_id", id.String()))
	return nil
}

// TabStatus reports the document ready state of the tab.
func (m *Manager) TabStatus(ctx context.Context, id schemas.TabID) (schemas.TabStatus, error) {
	t, err := m.tab(id)
	if err != nil {
		return "", err
	}
	return t.status(ctx)
}

// SubscribeReady calls onComplete on the tab's next load event.
func (m *Manager) SubscribeReady(id schemas.TabID, onComplete func()) (func(), error) {
	t, err := m.tab(id)
	if err != nil {
		return nil, err
	}
	return t.subscribeReady(onComplete), nil
}

// OnResponseHeaders delivers every response the tab receives to fn.
func (m *Manager) OnResponseHeaders(id schemas.TabID, fn func(schemas.ResponseEvent)) (func(), error) {
	t, err := m.tab(id)
	if err != nil {
		return nil, err
	}
	return t.subscribeResponses(fn), nil
}

// OnRequestBody delivers every request that carries a body to fn.
func (m *Manager) OnRequestBody(id schemas.TabID, fn func(schemas.RequestEvent)) (func(), error) {
	t, err := m.tab(id)
	if err != nil {
		return nil, err
	}
	return t.subscribeRequests(fn), nil
}

// Extract runs the introspection script in the tab.
func (m *Manager) Extract(ctx context.Context, id schemas.TabID) (*schemas.PageSnapshot, error) {
	t, err := m.tab(id)
	if err != nil {
		return nil, err
	}
	return t.extract(ctx)
}

// Shutdown closes every tab and then the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	tabs := make([]*tab, 0, len(m.tabs))
	for id, t := range m.tabs {
		tabs = append(tabs, t)
		delete(m.tabs, id)
	}
	m.mu.Unlock()

	for _, t := range tabs {
		t.close()
	}

	if m.browserCtx == nil {
		m.logger.Debug("Browser never launched, nothing to shut down.")
		return nil
	}

	// chromedp.Cancel blocks until the browser exits.
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(m.browserCtx) }()

	var shutdownErr error
	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			shutdownErr = fmt.Errorf("failed to close browser: %w", err)
		}
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for the browser to exit. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Browser did not exit within the grace period.")
	}
	m.browserCancel()
	m.allocCancel()

	m.logger.Info("Browser manager shutdown complete.")
	return shutdownErr
}

func (m *Manager) tab(id schemas.TabID) (*tab, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schemas.ErrTabNotFound, id)
	}
	return t, nil
}

func (m *Manager) removeTab(id schemas.TabID) *tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[id]
	if !ok {
		return nil
	}
	delete(m.tabs, id)
	return t
}
