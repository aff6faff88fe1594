package schemas

import (
	"context"
)

// -- Host Interfaces --
//
// The host is whatever owns the browser tabs: a headless Chrome driven over
// CDP in production, fakes in tests.

// TabStatus is the load state of a tab.
type TabStatus string

const (
	TabLoading  TabStatus = "loading"
	TabComplete TabStatus = "complete"
)

// TabController answers readiness questions about a tab.
type TabController interface {
	// TabStatus returns the current load state. It fails with ErrTabNotFound
	// for unknown tabs.
	TabStatus(ctx context.Context, tab TabID) (TabStatus, error)
	// SubscribeReady calls onComplete when the tab finishes loading. The
	// returned function removes the subscription and is safe to call twice.
	SubscribeReady(tab TabID, onComplete func()) (unsubscribe func(), err error)
}

// TabOpener creates and disposes tabs.
type TabOpener interface {
	OpenTab(ctx context.Context, url string) (TabID, error)
	CloseTab(ctx context.Context, tab TabID) error
}

// Extractor runs the page introspection script in a tab. It fails with
// ErrExtractionInjection when the script cannot run and ErrExtractionNoResult
// when it produced nothing.
type Extractor interface {
	Extract(ctx context.Context, tab TabID) (*PageSnapshot, error)
}

// ResponseEvent is delivered when a tab receives response headers.
type ResponseEvent struct {
	TabID        TabID
	URL          string
	Method       string
	ResourceType string // browser-level type, see ClassifyResourceType
	StatusCode   int
	Headers      Headers
}

// RequestEvent is delivered when a tab sends a request that carries a body.
type RequestEvent struct {
	TabID        TabID
	URL          string
	Method       string
	ResourceType string
	Body         []byte
}

// NetworkEventSource exposes tab-scoped request interception. Each
// subscription returns an unsubscribe function that is safe to call twice.
type NetworkEventSource interface {
	OnResponseHeaders(tab TabID, fn func(ResponseEvent)) (unsubscribe func(), err error)
	OnRequestBody(tab TabID, fn func(RequestEvent)) (unsubscribe func(), err error)
}

// BrowserHost is the full set of host capabilities a scan needs.
type BrowserHost interface {
	TabController
	TabOpener
	Extractor
	NetworkEventSource
	Shutdown(ctx context.Context) error
}

// -- Signal Sources --

// LatestVersionSource looks up the most recently published SDK version.
type LatestVersionSource interface {
	FetchLatestVersion(ctx context.Context) (string, error)
}

// HeaderProber fetches a URL and returns its response headers.
type HeaderProber interface {
	ProbeHeaders(ctx context.Context, url string) (Headers, int, error)
}

// -- Persistence --

// ResultStore persists one ScanResult per tab. Writes replace any previous
// result wholesale. Get returns (nil, nil) when there is no result.
type ResultStore interface {
	Save(ctx context.Context, result *ScanResult) error
	Get(ctx context.Context, tab TabID) (*ScanResult, error)
	Close() error
}

// ResultKey is the storage key of a tab's scan result.
func ResultKey(tab TabID) string {
	return "scan-result:" + string(tab)
}

// -- Caller-facing --

// Scanner is the caller-facing scan surface.
type Scanner interface {
	RunScan(ctx context.Context, tab TabID) (*ScanResult, error)
	GetStoredResult(ctx context.Context, tab TabID) (*ScanResult, error)
}
