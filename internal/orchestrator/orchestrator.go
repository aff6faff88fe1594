// Package orchestrator drives one scan end to end: it waits for the tab,
// extracts the page snapshot, gathers network and version signals, assembles
// the payload, evaluates every check and persists the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/collector"
	"github.com/xkilldash9x/checkout-inspector/internal/config"
	"github.com/xkilldash9x/checkout-inspector/internal/results"
	"github.com/xkilldash9x/checkout-inspector/internal/sdk"
	"github.com/xkilldash9x/checkout-inspector/internal/version"
)

// Host is the slice of the browser host a scan drives.
type Host interface {
	schemas.TabController
	schemas.Extractor
	schemas.NetworkEventSource
}

// VersionResolver detects the running SDK version and the latest release.
type VersionResolver interface {
	Detect(ctx context.Context, s version.Signals) (string, schemas.VersionSource)
	Latest(ctx context.Context) *string
}

// Evaluator runs the check table against a payload.
type Evaluator interface {
	Evaluate(ctx context.Context, payload *schemas.ScanPayload) []schemas.CheckResult
}

// Dependencies are the collaborators of an Orchestrator. Prober is optional.
type Dependencies struct {
	Host     Host
	Resolver VersionResolver
	Engine   Evaluator
	Store    schemas.ResultStore
	Prober   schemas.HeaderProber
	Profile  *sdk.Profile
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleeper replaces the context-aware sleep used for the settle delay and
// extraction retries.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithIDGenerator replaces the scan id generator.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// Orchestrator implements schemas.Scanner.
type Orchestrator struct {
	cfg      config.ScanConfig
	host     Host
	resolver VersionResolver
	engine   Evaluator
	store    schemas.ResultStore
	prober   schemas.HeaderProber
	profile  *sdk.Profile
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string

	// inflight coalesces concurrent scans of the same tab. flights tracks the
	// callers waiting on each one so the scan is cancelled only once all of
	// them have gone.
	inflight singleflight.Group
	mu       sync.Mutex
	flights  map[schemas.TabID]*flight
}

// flight is the context shared by every caller of one coalesced scan.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

var _ schemas.Scanner = (*Orchestrator)(nil)

// New creates an Orchestrator. Every dependency except the prober is required.
func New(cfg config.ScanConfig, deps Dependencies, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if deps.Host == nil || deps.Resolver == nil || deps.Engine == nil || deps.Store == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Profile == nil {
		deps.Profile = sdk.DefaultProfile()
	}
	o := &Orchestrator{
		cfg:      cfg,
		host:     deps.Host,
		resolver: deps.Resolver,
		engine:   deps.Engine,
		store:    deps.Store,
		prober:   deps.Prober,
		profile:  deps.Profile,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
		sleep:    sleepContext,
		newID:    uuid.NewString,
		flights:  make(map[schemas.TabID]*flight),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// RunScan executes one full scan of tab, persists the result and returns it.
// It fails only when the tab never becomes ready or the page cannot be
// extracted; every other signal degrades to unknown. A RunScan issued while a
// scan of the same tab is running joins that scan and receives its result.
// A caller whose ctx ends returns at once; the shared scan keeps running for
// the others and is cancelled when the last caller leaves.
func (o *Orchestrator) RunScan(ctx context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	fl := o.joinFlight(ctx, tab)
	defer o.leaveFlight(tab, fl)

	ch := o.inflight.DoChan(string(tab), func() (interface{}, error) {
		return o.scan(fl.ctx, tab)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			o.logger.Debug("Joined an in-flight scan.", zap.String("tab_id", tab.String()))
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*schemas.ScanResult), nil
	}
}

// joinFlight registers a caller with the scan of tab, creating its context
// when no scan is running. The context keeps ctx's values but not its
// cancellation.
func (o *Orchestrator) joinFlight(ctx context.Context, tab schemas.TabID) *flight {
	o.mu.Lock()
	defer o.mu.Unlock()
	fl, ok := o.flights[tab]
	if !ok {
		scanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: scanCtx, cancel: cancel}
		o.flights[tab] = fl
	}
	fl.waiters++
	return fl
}

// leaveFlight drops a caller. The last one out cancels the scan and makes
// the next RunScan for tab start afresh.
func (o *Orchestrator) leaveFlight(tab schemas.TabID, fl *flight) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if o.flights[tab] == fl {
		delete(o.flights, tab)
		o.inflight.Forget(string(tab))
	}
}

// GetStoredResult returns the last persisted result for tab, or nil.
func (o *Orchestrator) GetStoredResult(ctx context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	res, err := o.store.Get(ctx, tab)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored result for tab %s: %w", tab, err)
	}
	return res, nil
}

func (o *Orchestrator) scan(ctx context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	logger := o.logger.With(zap.String("tab_id", tab.String()))
	started := o.now()
	logger.Info("Starting scan.")

	col := collector.New(tab, o.host, o.profile, o.logger)
	if err := col.Start(); err != nil {
		// The snapshot-derived request list still covers what the page loaded.
		logger.Warn("Network collector unavailable, continuing with snapshot data only.", zap.Error(err))
	}
	defer col.Stop()

	if err := o.awaitTabReady(ctx, tab); err != nil {
		logger.Warn("Scan aborted: tab not ready.", zap.Error(err))
		return nil, err
	}
	if err := o.sleep(ctx, o.cfg.SettleDelay); err != nil {
		return nil, fmt.Errorf("scan interrupted during settle delay: %w", err)
	}

	snapshot, err := o.extractWithRetry(ctx, tab, logger)
	if err != nil {
		logger.Warn("Scan aborted: extraction failed.", zap.Error(err))
		return nil, err
	}

	latest := o.resolver.Latest(ctx)

	col.Stop()
	collected := col.Result()

	headers := collected.MainDocumentHeaders
	if len(headers) == 0 {
		headers = o.probeHeaders(ctx, snapshot.PageURL, logger)
	}

	requests := MergeRequests(collected.CapturedRequests, FallbackRequests(snapshot))
	snap := BackfillLocale(*snapshot, requests)

	detected, source := o.resolver.Detect(ctx, version.Signals{
		Snapshot:  &snap,
		Analytics: collected.AnalyticsData,
		Requests:  requests,
	})

	scannedAt := o.now().UTC()
	payload := &schemas.ScanPayload{
		TabID:               tab,
		PageURL:             snap.PageURL,
		Snapshot:            snap,
		MainDocumentHeaders: headers,
		CapturedRequests:    requests,
		Version:             version.Info(detected, source, latest),
		Analytics:           collected.AnalyticsData,
		ScannedAt:           scannedAt,
	}

	checks := o.engine.Evaluate(ctx, payload)
	health := results.ComputeHealth(checks)

	result := &schemas.ScanResult{
		ScanID:    o.newID(),
		TabID:     tab,
		PageURL:   payload.PageURL,
		ScannedAt: scannedAt,
		Checks:    checks,
		Health:    health,
		Payload:   *payload,
	}

	if err := o.store.Save(ctx, result); err != nil {
		logger.Error("Failed to persist scan result.", zap.String("scan_id", result.ScanID), zap.Error(err))
	}

	logger.Info("Scan complete.",
		zap.String("scan_id", result.ScanID),
		zap.Int("score", health.Score),
		zap.String("tier", string(health.Tier)),
		zap.Int("requests", len(requests)),
		zap.Duration("duration", o.now().Sub(started)),
	)
	return result, nil
}

// awaitTabReady blocks until tab reports complete or the ready timeout
// elapses. The subscription is taken before the status query so a load that
// finishes in between is not missed.
func (o *Orchestrator) awaitTabReady(ctx context.Context, tab schemas.TabID) error {
	ready := make(chan struct{})
	var once sync.Once
	unsubscribe, err := o.host.SubscribeReady(tab, func() {
		once.Do(func() { close(ready) })
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to tab readiness: %w", err)
	}
	defer unsubscribe()

	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.ReadyTimeout)
	defer cancel()

	status, err := o.host.TabStatus(waitCtx, tab)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w (%s)", schemas.ErrTabTimeout, o.cfg.ReadyTimeout)
		}
		return fmt.Errorf("failed to query tab status: %w", err)
	}
	if status == schemas.TabComplete {
		return nil
	}

	select {
	case <-ready:
		return nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w (%s)", schemas.ErrTabTimeout, o.cfg.ReadyTimeout)
	}
}

// extractWithRetry returns the first snapshot unless it lacks configuration
// while the SDK is evidently on the page. In that case extraction repeats at
// the retry interval until a configured snapshot appears or the deadline
// passes, and the most recent snapshot wins. Only the first attempt can fail
// the scan.
func (o *Orchestrator) extractWithRetry(ctx context.Context, tab schemas.TabID, logger *zap.Logger) (*schemas.PageSnapshot, error) {
	first, err := o.host.Extract(ctx, tab)
	if err != nil {
		return nil, fmt.Errorf("failed to extract page snapshot: %w", err)
	}
	if first == nil {
		return nil, schemas.ErrExtractionNoResult
	}
	if first.HasConfig() || !o.sdkEvidence(first) {
		return first, nil
	}

	interval := o.cfg.ExtractRetryInterval
	deadline := o.now().Add(o.cfg.ExtractRetryDeadline)
	best := first
	attempts := 1
	for interval > 0 && !o.now().Add(interval).After(deadline) {
		if err := o.sleep(ctx, interval); err != nil {
			break
		}
		attempts++
		snap, err := o.host.Extract(ctx, tab)
		if err != nil || snap == nil {
			logger.Debug("Extraction retry produced nothing.", zap.Int("attempt", attempts), zap.Error(err))
			continue
		}
		best = snap
		if snap.HasConfig() {
			logger.Debug("Configuration appeared after retry.", zap.Int("attempt", attempts))
			return snap, nil
		}
	}
	logger.Debug("Extraction deadline reached without configuration.", zap.Int("attempts", attempts))
	return best, nil
}

// sdkEvidence reports whether the snapshot shows the SDK is on the page.
func (o *Orchestrator) sdkEvidence(snap *schemas.PageSnapshot) bool {
	if snap.SDK != nil {
		return true
	}
	for _, src := range snap.ScriptURLs() {
		if o.profile.IsSDKScript(src) {
			return true
		}
	}
	return false
}

// probeHeaders fetches the page once for its response headers when the
// collector missed the main document. Failure yields no headers.
func (o *Orchestrator) probeHeaders(ctx context.Context, pageURL string, logger *zap.Logger) schemas.Headers {
	if !o.cfg.ProbeHeaders || o.prober == nil || pageURL == "" {
		return nil
	}
	headers, status, err := o.prober.ProbeHeaders(ctx, pageURL)
	if err != nil {
		logger.Debug("Header probe failed.", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	logger.Debug("Main document headers taken from probe.", zap.Int("status", status), zap.Int("headers", len(headers)))
	return headers
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
