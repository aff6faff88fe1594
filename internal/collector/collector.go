// Package collector captures response headers and analytics request bodies
// for one tab over the lifetime of one scan.
package collector

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/sdk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMaxRequests bounds how many requests one collector retains.
const DefaultMaxRequests = 500

// Collector owns the interception listeners of one tab for one scan. Start
// acquires them and Stop releases them. Stop is idempotent and may be called
// without a prior Start.
type Collector struct {
	tab         schemas.TabID
	events      schemas.NetworkEventSource
	profile     *sdk.Profile
	logger      *zap.Logger
	maxRequests int

	mu          sync.Mutex
	started     bool
	unsubscribe []func()
	mainHeaders schemas.Headers
	requests    []schemas.CapturedRequest
	seen        map[schemas.RequestKey]struct{}
	analytics   schemas.AnalyticsData
}

// New creates a collector for tab. It does nothing until Start is called.
func New(tab schemas.TabID, events schemas.NetworkEventSource, profile *sdk.Profile, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profile == nil {
		profile = sdk.DefaultProfile()
	}
	return &Collector{
		tab:         tab,
		events:      events,
		profile:     profile,
		logger:      logger.Named("collector").With(zap.String("tab_id", tab.String())),
		maxRequests: DefaultMaxRequests,
		seen:        make(map[schemas.RequestKey]struct{}),
	}
}

// Start attaches the response-header and request-body listeners. Calling
// Start on a started collector is a no-op. If the second listener cannot be
// attached the first is released before returning.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	unsubHeaders, err := c.events.OnResponseHeaders(c.tab, c.handleResponse)
	if err != nil {
		return fmt.Errorf("attach response listener: %w", err)
	}
	unsubBodies, err := c.events.OnRequestBody(c.tab, c.handleRequest)
	if err != nil {
		unsubHeaders()
		return fmt.Errorf("attach request listener: %w", err)
	}

	c.unsubscribe = []func(){unsubHeaders, unsubBodies}
	c.started = true
	c.logger.Debug("Collector started.")
	return nil
}

// Stop detaches every listener. Accumulated state stays readable.
func (c *Collector) Stop() {
	c.mu.Lock()
	unsubs := c.unsubscribe
	c.unsubscribe = nil
	wasStarted := c.started
	c.started = false
	c.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	if wasStarted {
		c.logger.Debug("Collector stopped.")
	}
}

// Active reports whether listeners are currently attached.
func (c *Collector) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Result returns a copy of the state accumulated so far without stopping
// collection.
func (c *Collector) Result() schemas.CollectorResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	requests := make([]schemas.CapturedRequest, len(c.requests))
	copy(requests, c.requests)
	headers := make(schemas.Headers, len(c.mainHeaders))
	copy(headers, c.mainHeaders)

	return schemas.CollectorResult{
		MainDocumentHeaders: headers,
		CapturedRequests:    requests,
		AnalyticsData:       c.analytics,
	}
}

func (c *Collector) handleResponse(ev schemas.ResponseEvent) {
	if ev.TabID != "" && ev.TabID != c.tab {
		return
	}
	kind := schemas.ClassifyResourceType(ev.ResourceType)
	if kind != schemas.ResourceMainFrame && !c.profile.IsRelevant(ev.URL) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Redirect hops carry no document headers worth checking.
	if kind == schemas.ResourceMainFrame && !isRedirect(ev.StatusCode) {
		c.mainHeaders = append(schemas.Headers(nil), ev.Headers...)
	}

	req := schemas.CapturedRequest{
		URL:             ev.URL,
		Type:            kind,
		ResponseHeaders: ev.Headers,
		StatusCode:      ev.StatusCode,
	}
	if _, dup := c.seen[req.Key()]; dup {
		return
	}
	if len(c.requests) >= c.maxRequests {
		return
	}
	c.seen[req.Key()] = struct{}{}
	c.requests = append(c.requests, req)
}

func (c *Collector) handleRequest(ev schemas.RequestEvent) {
	if ev.TabID != "" && ev.TabID != c.tab {
		return
	}
	if !strings.EqualFold(ev.Method, http.MethodPost) || len(ev.Body) == 0 {
		return
	}
	if !c.profile.IsAnalyticsURL(ev.URL) {
		return
	}

	fields, ok := decodeAnalytics(ev.Body)
	if !ok {
		c.logger.Debug("Ignoring undecodable analytics body.", zap.String("url", ev.URL))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range schemas.AnalyticsKeys {
		if v, present := fields[key]; present {
			c.analytics.Set(key, v)
		}
	}
}

// decodeAnalytics reads the known analytics keys from a JSON object body.
// Scalars are rendered as strings; objects and arrays are ignored.
func decodeAnalytics(body []byte) (map[string]string, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, false
	}
	out := make(map[string]string, len(schemas.AnalyticsKeys))
	for _, key := range schemas.AnalyticsKeys {
		switch v := raw[key].(type) {
		case string:
			out[key] = v
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[key] = strconv.FormatBool(v)
		}
	}
	return out, true
}

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}
