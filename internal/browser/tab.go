package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

// resourceTypeSubFrame labels documents loaded inside iframes.
const resourceTypeSubFrame = "sub_frame"

// tab is one browser target and its subscriptions.
type tab struct {
	id     schemas.TabID
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu        sync.Mutex
	nextSub   uint64
	readySubs map[uint64]func()
	respSubs  map[uint64]func(schemas.ResponseEvent)
	reqSubs   map[uint64]func(schemas.RequestEvent)
	// methods remembers request methods until the request settles.
	methods map[network.RequestID]string
	// mainFrame is the top-level frame. Documents loaded by any other frame
	// are iframes.
	mainFrame      cdp.FrameID
	mainFrameKnown bool

	closeOnce sync.Once
}

func newTab(id schemas.TabID, ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) *tab {
	return &tab{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(zap.String("tab_id", id.String())),
		readySubs: make(map[uint64]func()),
		respSubs:  make(map[uint64]func(schemas.ResponseEvent)),
		reqSubs:   make(map[uint64]func(schemas.RequestEvent)),
		methods:   make(map[network.RequestID]string),
	}
}

// listen attaches the CDP event listener for the lifetime of the tab.
func (t *tab) listen() {
	chromedp.ListenTarget(t.ctx, t.handleEvent)
}

// prepare enables the domains the tab relies on and installs the persistent
// configuration hook.
func (t *tab) prepare() []chromedp.Action {
	return []chromedp.Action{
		network.Enable(),
		page.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hookScript).Do(ctx)
			return err
		}),
	}
}

func (t *tab) navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.Navigate(url))
}

// run executes actions on the tab, bounded by both the caller's context and
// the tab's lifetime.
func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (t *tab) status(ctx context.Context) (schemas.TabStatus, error) {
	var state string
	if err := t.run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
		return "", fmt.Errorf("failed to read document state: %w", err)
	}
	return readyStateToStatus(state), nil
}

func readyStateToStatus(state string) schemas.TabStatus {
	if state == "complete" {
		return schemas.TabComplete
	}
	return schemas.TabLoading
}

// -- Subscriptions --

func (t *tab) subscribeReady(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.readySubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.readySubs, id)
		t.mu.Unlock()
	}
}

func (t *tab) subscribeResponses(fn func(schemas.ResponseEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.respSubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.respSubs, id)
		t.mu.Unlock()
	}
}

func (t *tab) subscribeRequests(fn func(schemas.RequestEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.reqSubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.reqSubs, id)
		t.mu.Unlock()
	}
}

// -- Event Handlers --

// handleEvent runs on the CDP event goroutine and must not block.
func (t *tab) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventLoadEventFired:
		t.handleLoadEventFired()
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			t.mu.Lock()
			t.mainFrame, t.mainFrameKnown = e.Frame.ID, true
			t.mu.Unlock()
		}
	case *network.EventRequestWillBeSent:
		t.handleRequestWillBeSent(e)
	case *network.EventResponseReceived:
		t.handleResponseReceived(e)
	case *network.EventLoadingFinished:
		t.forget(e.RequestID)
	case *network.EventLoadingFailed:
		t.forget(e.RequestID)
	}
}

func (t *tab) handleLoadEventFired() {
	t.mu.Lock()
	subs := make([]func(), 0, len(t.readySubs))
	for _, fn := range t.readySubs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (t *tab) handleRequestWillBeSent(e *network.EventRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	t.mu.Lock()
	t.methods[e.RequestID] = e.Request.Method
	// The top-level navigation is the first document request of a tab.
	if e.Type == network.ResourceTypeDocument && !t.mainFrameKnown {
		t.mainFrame, t.mainFrameKnown = e.FrameID, true
	}
	resourceType := t.resourceTypeLocked(e.Type, e.FrameID)
	var subs []func(schemas.RequestEvent)
	if e.Request.HasPostData {
		subs = make([]func(schemas.RequestEvent), 0, len(t.reqSubs))
		for _, fn := range t.reqSubs {
			subs = append(subs, fn)
		}
	}
	t.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	body := t.postBody(e.Request)
	if len(body) == 0 {
		return
	}
	event := schemas.RequestEvent{
		TabID:        t.id,
		URL:          e.Request.URL,
		Method:       e.Request.Method,
		ResourceType: resourceType,
		Body:         body,
	}
	for _, fn := range subs {
		fn(event)
	}
}

func (t *tab) handleResponseReceived(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	t.mu.Lock()
	method := t.methods[e.RequestID]
	resourceType := t.resourceTypeLocked(e.Type, e.FrameID)
	subs := make([]func(schemas.ResponseEvent), 0, len(t.respSubs))
	for _, fn := range t.respSubs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	event := schemas.ResponseEvent{
		TabID:        t.id,
		URL:          e.Response.URL,
		Method:       method,
		ResourceType: resourceType,
		StatusCode:   int(e.Response.Status),
		Headers:      convertHeaders(e.Response.Headers),
	}
	for _, fn := range subs {
		fn(event)
	}
}

// resourceTypeLocked reports iframe documents as sub_frame so only the
// top-level document classifies as the main frame. Callers hold t.mu.
func (t *tab) resourceTypeLocked(rt network.ResourceType, frame cdp.FrameID) string {
	if rt == network.ResourceTypeDocument && t.mainFrameKnown && frame != t.mainFrame {
		return resourceTypeSubFrame
	}
	return string(rt)
}

func (t *tab) forget(id network.RequestID) {
	t.mu.Lock()
	delete(t.methods, id)
	t.mu.Unlock()
}

// postBody reassembles the request body from its post data entries.
func (t *tab) postBody(req *network.Request) []byte {
	if len(req.PostDataEntries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, entry := range req.PostDataEntries {
		if entry == nil {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			t.logger.Debug("Post data entry is not base64, using raw bytes.", zap.String("url", req.URL))
			buf.WriteString(entry.Bytes)
			continue
		}
		buf.Write(decoded)
	}
	return buf.Bytes()
}

// convertHeaders flattens CDP headers into name-sorted pairs. CDP joins
// repeated headers with newlines; those are split back apart.
func convertHeaders(h network.Headers) schemas.Headers {
	if len(h) == 0 {
		return nil
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(schemas.Headers, 0, len(h))
	for _, name := range names {
		var value string
		switch v := h[name].(type) {
		case string:
			value = v
		case nil:
			continue
		default:
			value = fmt.Sprint(v)
		}
		for _, part := range strings.Split(value, "\n") {
			out = append(out, schemas.CapturedHeader{Name: strings.ToLower(name), Value: part})
		}
	}
	return out
}

func (t *tab) close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.readySubs = make(map[uint64]func())
		t.respSubs = make(map[uint64]func(schemas.ResponseEvent))
		t.reqSubs = make(map[uint64]func(schemas.RequestEvent))
		t.mu.Unlock()
		if t.cancel != nil {
			t.cancel()
		}
	})
}
