package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/checks"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
	"github.com/xkilldash9x/checkout-inspector/internal/config"
	"github.com/xkilldash9x/checkout-inspector/internal/sdk"
	"github.com/xkilldash9x/checkout-inspector/internal/version"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testTab    = schemas.TabID("T1")
	pageURL    = "https://shop.example/checkout"
	sdkScript  = "https://checkoutshopper-test.adyen.com/checkoutshopper/sdk/5.67.5/adyen.js"
	analytics  = "https://checkoutanalytics-test.adyen.com/checkoutanalytics/v3/analytics?clientKey=test_ABC"
	translated = "https://checkoutshopper-test.adyen.com/checkoutshopper/sdk/5.67.5/translations/nl_NL.json"
)

// -- Fakes --

// fakeHost scripts a tab: its load state, the network traffic observed while
// it loads and the sequence of snapshots extraction returns.
type fakeHost struct {
	mu sync.Mutex

	status     schemas.TabStatus
	statusErr  error
	readyAfter time.Duration
	readyWG    sync.WaitGroup

	traffic []schemas.ResponseEvent
	bodies  []schemas.RequestEvent

	snapshots   []*schemas.PageSnapshot
	extractErrs []error
	extracts    int
	extractGate chan struct{}

	nextID        int
	responseSubs  map[int]func(schemas.ResponseEvent)
	requestSubs   map[int]func(schemas.RequestEvent)
	readySubs     map[int]func()
	subscriptions int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		status:       schemas.TabComplete,
		responseSubs: make(map[int]func(schemas.ResponseEvent)),
		requestSubs:  make(map[int]func(schemas.RequestEvent)),
		readySubs:    make(map[int]func()),
	}
}

func (h *fakeHost) TabStatus(ctx context.Context, tab schemas.TabID) (schemas.TabStatus, error) {
	h.mu.Lock()
	status, err := h.status, h.statusErr
	traffic, bodies := h.traffic, h.bodies
	responseSubs := make([]func(schemas.ResponseEvent), 0, len(h.responseSubs))
	for _, fn := range h.responseSubs {
		responseSubs = append(responseSubs, fn)
	}
	requestSubs := make([]func(schemas.RequestEvent), 0, len(h.requestSubs))
	for _, fn := range h.requestSubs {
		requestSubs = append(requestSubs, fn)
	}
	h.mu.Unlock()

	// Deliver the page's traffic to whoever is listening.
	for _, ev := range traffic {
		for _, fn := range responseSubs {
			fn(ev)
		}
	}
	for _, ev := range bodies {
		for _, fn := range requestSubs {
			fn(ev)
		}
	}
	return status, err
}

func (h *fakeHost) SubscribeReady(tab schemas.TabID, onComplete func()) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.readySubs[id] = onComplete
	if h.readyAfter > 0 {
		h.readyWG.Add(1)
		go func(d time.Duration) {
			defer h.readyWG.Done()
			time.Sleep(d)
			h.mu.Lock()
			fn, ok := h.readySubs[id]
			h.mu.Unlock()
			if ok {
				fn()
			}
		}(h.readyAfter)
	}
	return h.unsubscriber(func() { delete(h.readySubs, id) }), nil
}

func (h *fakeHost) OnResponseHeaders(tab schemas.TabID, fn func(schemas.ResponseEvent)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.responseSubs[id] = fn
	h.subscriptions++
	return h.unsubscriber(func() { delete(h.responseSubs, id) }), nil
}

func (h *fakeHost) OnRequestBody(tab schemas.TabID, fn func(schemas.RequestEvent)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.requestSubs[id] = fn
	h.subscriptions++
	return h.unsubscriber(func() { delete(h.requestSubs, id) }), nil
}

func (h *fakeHost) unsubscriber(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			remove()
		})
	}
}

func (h *fakeHost) Extract(ctx context.Context, tab schemas.TabID) (*schemas.PageSnapshot, error) {
	h.mu.Lock()
	gate := h.extractGate
	h.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.extracts
	h.extracts++
	if i < len(h.extractErrs) && h.extractErrs[i] != nil {
		return nil, h.extractErrs[i]
	}
	if len(h.snapshots) == 0 {
		return nil, nil
	}
	if i >= len(h.snapshots) {
		i = len(h.snapshots) - 1
	}
	snap := *h.snapshots[i]
	return &snap, nil
}

func (h *fakeHost) activeListeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.responseSubs) + len(h.requestSubs) + len(h.readySubs)
}

func (h *fakeHost) extractCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.extracts
}

type fakeStore struct {
	mu      sync.Mutex
	results map[schemas.TabID]*schemas.ScanResult
	saves   int
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{results: make(map[schemas.TabID]*schemas.ScanResult)}
}

func (s *fakeStore) Save(_ context.Context, r *schemas.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.results[r.TabID] = r
	return nil
}

func (s *fakeStore) Get(_ context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[tab], nil
}

func (s *fakeStore) Close() error { return nil }

type fakeLatest struct {
	version string
	err     error
}

func (f fakeLatest) FetchLatestVersion(context.Context) (string, error) {
	return f.version, f.err
}

type fakeProber struct {
	headers schemas.Headers
	err     error
	calls   int
}

func (p *fakeProber) ProbeHeaders(context.Context, string) (schemas.Headers, int, error) {
	p.calls++
	return p.headers, 200, p.err
}

// fakeClock advances only when the orchestrator sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

// -- Fixture --

type fixture struct {
	host   *fakeHost
	store  *fakeStore
	prober *fakeProber
	clock  *fakeClock
	latest fakeLatest
	cfg    config.ScanConfig
}

func newFixture() *fixture {
	return &fixture{
		host:   newFakeHost(),
		store:  newFakeStore(),
		prober: &fakeProber{},
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		latest: fakeLatest{version: "5.68.0"},
		cfg: config.ScanConfig{
			ReadyTimeout:         50 * time.Millisecond,
			SettleDelay:          1500 * time.Millisecond,
			ExtractRetryInterval: 500 * time.Millisecond,
			ExtractRetryDeadline: 5 * time.Second,
			ProbeHeaders:         true,
		},
	}
}

func (f *fixture) build(t *testing.T) *Orchestrator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	profile := sdk.DefaultProfile()
	reg, err := checks.NewRegistry(profile)
	require.NoError(t, err)

	o, err := New(f.cfg, Dependencies{
		Host:     f.host,
		Resolver: version.NewResolver(f.latest, nil, profile, 0, logger),
		Engine:   core.NewEngine(reg, logger),
		Store:    f.store,
		Prober:   f.prober,
		Profile:  profile,
	}, logger,
		WithClock(f.clock.Now),
		WithSleeper(f.clock.Sleep),
		WithIDGenerator(func() string { return "scan-1" }),
	)
	require.NoError(t, err)
	return o
}

func configuredSnapshot() *schemas.PageSnapshot {
	return &schemas.PageSnapshot{
		PageURL:      pageURL,
		PageProtocol: "https:",
		CheckoutConfig: &schemas.CheckoutConfig{
			ClientKey:   "test_ABC",
			Environment: "test",
			CountryCode: "NL",
			Amount:      &schemas.Amount{Value: 1000, Currency: "EUR"},
			Callbacks:   []string{"onError"},
		},
		SDK:     &schemas.SDKMetadata{Version: "5.67.5"},
		Scripts: []schemas.ScriptRef{{Src: sdkScript}},
	}
}

func bareSnapshot(scripts ...string) *schemas.PageSnapshot {
	snap := &schemas.PageSnapshot{PageURL: pageURL, PageProtocol: "https:"}
	for _, s := range scripts {
		snap.Scripts = append(snap.Scripts, schemas.ScriptRef{Src: s})
	}
	return snap
}

// -- Construction --

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(newFixture().cfg, Dependencies{}, nil)
	assert.Error(t, err)

	f := newFixture()
	f.cfg.ReadyTimeout = 0
	_, err = New(f.cfg, Dependencies{
		Host: f.host, Resolver: version.NewResolver(nil, nil, nil, 0, nil),
		Engine: core.NewEngine(core.NewRegistry(), nil), Store: f.store,
	}, nil)
	assert.ErrorContains(t, err, "ready_timeout")
}

// -- Happy path --

func TestRunScan_EndToEnd(t *testing.T) {
	f := newFixture()
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	f.host.traffic = []schemas.ResponseEvent{
		{TabID: testTab, URL: pageURL, ResourceType: "Document", StatusCode: 200, Headers: schemas.Headers{
			{Name: "strict-transport-security", Value: "max-age=31536000"},
		}},
		{TabID: testTab, URL: sdkScript, ResourceType: "Script", StatusCode: 200},
		{TabID: testTab, URL: "https://tracker.example/pixel.gif", ResourceType: "Image", StatusCode: 200},
	}
	f.host.bodies = []schemas.RequestEvent{
		{TabID: testTab, URL: analytics, Method: "POST", Body: []byte(`{"flavor":"dropin"}`)},
		{TabID: testTab, URL: analytics, Method: "POST", Body: []byte(`{"version":"5.67.0"}`)},
	}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)

	assert.Equal(t, "scan-1", res.ScanID)
	assert.Equal(t, testTab, res.TabID)
	assert.Equal(t, pageURL, res.PageURL)
	assert.Equal(t, f.clock.Now(), res.ScannedAt)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, f.clock.sleeps, "only the settle delay; no retry when configured")

	p := res.Payload
	assert.Equal(t, "max-age=31536000", p.MainDocumentHeaders.Get("strict-transport-security"))
	assert.Equal(t, schemas.AnalyticsData{Flavor: "dropin", Version: "5.67.0"}, p.Analytics)
	assert.Equal(t, "5.67.5", p.Version.DetectedString(), "metadata beats analytics")
	assert.Equal(t, schemas.VersionFromMetadata, p.Version.DetectedFrom)
	assert.Equal(t, "5.68.0", p.Version.LatestString())

	for _, req := range p.CapturedRequests {
		assert.NotContains(t, req.URL, "tracker.example", "unknown-domain noise is dropped")
	}

	c, ok := res.Check("version-latest")
	require.True(t, ok)
	assert.Equal(t, schemas.SeverityWarn, c.Severity)
	c, _ = res.Check("analytics-flavor")
	assert.Equal(t, schemas.SeverityInfo, c.Severity)
	assert.Len(t, res.Checks, 17)
	assert.Equal(t, res.Health.Total, res.Health.Passing+res.Health.Failing+res.Health.Warnings)

	stored, err := o.GetStoredResult(context.Background(), testTab)
	require.NoError(t, err)
	assert.Same(t, res, stored)
	assert.Equal(t, 0, f.host.activeListeners(), "every listener is released")
	assert.Equal(t, 0, f.prober.calls, "no probe when the main document was observed")
}

func TestGetStoredResult_Absent(t *testing.T) {
	o := newFixture().build(t)
	res, err := o.GetStoredResult(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, res)
}

// -- Readiness --

func TestRunScan_ReadyTimeout(t *testing.T) {
	f := newFixture()
	f.host.status = schemas.TabLoading
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, schemas.ErrTabTimeout)
	assert.Equal(t, 0, f.host.extractCount(), "no extraction after a readiness failure")
	assert.Equal(t, 0, f.store.saves, "no partial result is persisted")
	assert.Equal(t, 0, f.host.activeListeners())
}

func TestRunScan_ReadyViaSubscription(t *testing.T) {
	f := newFixture()
	f.cfg.ReadyTimeout = 2 * time.Second
	f.host.status = schemas.TabLoading
	f.host.readyAfter = 10 * time.Millisecond
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	f.host.readyWG.Wait()
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, 0, f.host.activeListeners())
}

func TestRunScan_TabNotFound(t *testing.T) {
	f := newFixture()
	f.host.statusErr = fmt.Errorf("lookup T1: %w", schemas.ErrTabNotFound)
	o := f.build(t)

	_, err := o.RunScan(context.Background(), testTab)
	assert.ErrorIs(t, err, schemas.ErrTabNotFound)
	assert.Equal(t, 0, f.host.activeListeners())
}

// -- Extraction --

func TestRunScan_ExtractionFailureIsFatal(t *testing.T) {
	for _, sentinel := range []error{schemas.ErrExtractionInjection, schemas.ErrExtractionNoResult} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			f := newFixture()
			f.host.extractErrs = []error{sentinel}
			f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
			o := f.build(t)

			_, err := o.RunScan(context.Background(), testTab)
			assert.ErrorIs(t, err, sentinel)
			assert.Equal(t, 0, f.store.saves)
			assert.Equal(t, 0, f.host.activeListeners())
		})
	}
}

func TestRunScan_NilSnapshotIsNoResult(t *testing.T) {
	f := newFixture()
	o := f.build(t)
	_, err := o.RunScan(context.Background(), testTab)
	assert.ErrorIs(t, err, schemas.ErrExtractionNoResult)
}

func TestExtractWithRetry_StopsWhenConfigAppears(t *testing.T) {
	f := newFixture()
	f.host.snapshots = []*schemas.PageSnapshot{
		bareSnapshot(sdkScript),
		bareSnapshot(sdkScript),
		configuredSnapshot(),
	}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)
	assert.Equal(t, 3, f.host.extractCount())
	assert.NotNil(t, res.Payload.Snapshot.CheckoutConfig)
}

func TestExtractWithRetry_DeadlineReturnsLatestSnapshot(t *testing.T) {
	f := newFixture()
	last := bareSnapshot(sdkScript)
	last.PageProtocol = "last:"
	f.host.snapshots = []*schemas.PageSnapshot{bareSnapshot(sdkScript)}
	for i := 0; i < 9; i++ {
		f.host.snapshots = append(f.host.snapshots, bareSnapshot(sdkScript))
	}
	f.host.snapshots = append(f.host.snapshots, last)
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)
	assert.Equal(t, 11, f.host.extractCount(), "first attempt plus one retry per interval within the deadline")
	assert.Equal(t, "last:", res.Payload.Snapshot.PageProtocol)
	assert.Nil(t, res.Payload.Snapshot.CheckoutConfig)
	c, _ := res.Check("sdk-config-found")
	assert.Equal(t, schemas.SeverityNotice, c.Severity)
}

func TestExtractWithRetry_RetryErrorsDegrade(t *testing.T) {
	f := newFixture()
	f.host.snapshots = []*schemas.PageSnapshot{bareSnapshot(sdkScript), bareSnapshot(sdkScript), configuredSnapshot()}
	f.host.extractErrs = []error{nil, errors.New("context destroyed")}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)
	assert.NotNil(t, res.Payload.Snapshot.CheckoutConfig)
}

func TestExtractWithRetry_NoEvidenceNoRetry(t *testing.T) {
	f := newFixture()
	f.host.snapshots = []*schemas.PageSnapshot{bareSnapshot("https://shop.example/app.js"), configuredSnapshot()}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)
	assert.Equal(t, 1, f.host.extractCount())
	c, _ := res.Check("sdk-detected")
	assert.Equal(t, schemas.SeverityFail, c.Severity)
}

// -- Degraded signals --

func TestRunScan_LatestLookupFailureDegrades(t *testing.T) {
	f := newFixture()
	f.latest = fakeLatest{err: errors.New("registry unreachable")}
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)
	assert.Nil(t, res.Payload.Version.Latest)
	c, _ := res.Check("version-latest")
	assert.Equal(t, schemas.SeveritySkip, c.Severity)
}

func TestRunScan_StoreFailureStillReturnsResult(t *testing.T) {
	f := newFixture()
	f.store.saveErr = errors.New("disk full")
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, 1, f.store.saves)
}

func TestRunScan_HeaderProbe(t *testing.T) {
	f := newFixture()
	f.prober.headers = schemas.Headers{{Name: "content-security-policy", Value: "default-src 'self'"}}
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)
	assert.Equal(t, 1, f.prober.calls)
	assert.Equal(t, "default-src 'self'", res.Payload.MainDocumentHeaders.Get("content-security-policy"))
	c, _ := res.Check("security-csp-sdk")
	assert.Equal(t, schemas.SeverityFail, c.Severity)
}

func TestRunScan_HeaderProbeDisabledOrFailing(t *testing.T) {
	f := newFixture()
	f.cfg.ProbeHeaders = false
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	res, err := f.build(t).RunScan(context.Background(), testTab)
	require.NoError(t, err)
	assert.Equal(t, 0, f.prober.calls)
	assert.Empty(t, res.Payload.MainDocumentHeaders)

	f = newFixture()
	f.prober.err = errors.New("connection refused")
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	res, err = f.build(t).RunScan(context.Background(), testTab)
	require.NoError(t, err)
	assert.Empty(t, res.Payload.MainDocumentHeaders)
}

// -- Merge and backfill through the pipeline --

func TestRunScan_CollectorEntriesWinOverFallback(t *testing.T) {
	f := newFixture()
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	f.host.traffic = []schemas.ResponseEvent{
		{TabID: testTab, URL: sdkScript, ResourceType: "Script", StatusCode: 404},
	}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)

	var matches []schemas.CapturedRequest
	for _, r := range res.Payload.CapturedRequests {
		if r.Key() == (schemas.RequestKey{Type: schemas.ResourceScript, URL: sdkScript}) {
			matches = append(matches, r)
		}
	}
	require.Len(t, matches, 1)
	assert.Equal(t, 404, matches[0].StatusCode)
	c, _ := res.Check("network-sdk-errors")
	assert.Equal(t, schemas.SeverityFail, c.Severity)
}

func TestRunScan_LocaleBackfill(t *testing.T) {
	f := newFixture()
	snap := configuredSnapshot()
	f.host.snapshots = []*schemas.PageSnapshot{snap}
	f.host.traffic = []schemas.ResponseEvent{
		{TabID: testTab, URL: translated, ResourceType: "Fetch", StatusCode: 200},
	}
	o := f.build(t)

	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)
	require.NotNil(t, res.Payload.Snapshot.InferredConfig)
	assert.Equal(t, "nl-NL", res.Payload.Snapshot.InferredConfig.Locale)
	assert.Empty(t, res.Payload.Snapshot.CheckoutConfig.Locale, "explicit configuration is untouched")
	assert.Nil(t, snap.InferredConfig, "the extracted snapshot is not mutated")
}

// -- Concurrency --

func TestRunScan_ConcurrentScansOfOneTabAreCoalesced(t *testing.T) {
	f := newFixture()
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	f.host.extractGate = make(chan struct{})
	o := f.build(t)

	var wg sync.WaitGroup
	out := make([]*schemas.ScanResult, 2)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.RunScan(context.Background(), testTab)
			assert.NoError(t, err)
			out[i] = res
		}(i)
	}
	// Let both callers reach the in-flight scan before extraction proceeds.
	time.Sleep(100 * time.Millisecond)
	close(f.host.extractGate)
	wg.Wait()

	require.NotNil(t, out[0])
	assert.Same(t, out[0], out[1])
	assert.Equal(t, 1, f.host.extractCount())
	assert.Equal(t, 2, f.host.subscriptions, "listeners are registered once")
	assert.Equal(t, 1, f.store.saves)
	assert.Equal(t, 0, f.host.activeListeners())
}

func TestRunScan_CancelledCallerDoesNotAbortJoinedScan(t *testing.T) {
	f := newFixture()
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	f.host.extractGate = make(chan struct{})
	o := f.build(t)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	firstErr := make(chan error, 1)
	go func() {
		_, err := o.RunScan(firstCtx, testTab)
		firstErr <- err
	}()
	// The first caller starts the scan; the second joins it.
	time.Sleep(50 * time.Millisecond)
	type outcome struct {
		res *schemas.ScanResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := o.RunScan(context.Background(), testTab)
		second <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(f.host.extractGate)
	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.res)
	assert.Equal(t, 1, f.host.extractCount())
	assert.Equal(t, 1, f.store.saves)
	assert.Equal(t, 0, f.host.activeListeners())
}

func TestRunScan_LastCallerLeavingCancelsScan(t *testing.T) {
	f := newFixture()
	f.host.snapshots = []*schemas.PageSnapshot{configuredSnapshot()}
	f.host.extractGate = make(chan struct{})
	o := f.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.RunScan(ctx, testTab)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// The abandoned scan unwinds without persisting anything.
	assert.Eventually(t, func() bool { return f.host.activeListeners() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.store.saves)

	// A later caller starts a fresh scan instead of inheriting the cancelled one.
	close(f.host.extractGate)
	res, err := o.RunScan(context.Background(), testTab)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, 1, f.store.saves)
}
