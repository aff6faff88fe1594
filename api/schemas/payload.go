package schemas

import (
	"strings"
	"time"
)

// -- Network Capture Schemas --

// CapturedHeader is one name/value pair from an HTTP response.
type CapturedHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered list of captured headers with case-insensitive lookup.
type Headers []CapturedHeader

// Get returns the first value for name, or "" when absent.
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Values returns every value recorded for name.
func (h Headers) Values(name string) []string {
	var out []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			out = append(out, hdr.Value)
		}
	}
	return out
}

// CapturedRequest is one retained network request.
type CapturedRequest struct {
	URL             string       `json:"url"`
	Type            ResourceType `json:"type"`
	ResponseHeaders Headers      `json:"response_headers,omitempty"`
	StatusCode      int          `json:"status_code,omitempty"`
}

// RequestKey is the deduplication identity of a captured request.
type RequestKey struct {
	Type ResourceType
	URL  string
}

// Key returns the (type, url) identity of the request.
func (r CapturedRequest) Key() RequestKey {
	return RequestKey{Type: r.Type, URL: r.URL}
}

// -- Analytics --

// AnalyticsKeys is the fixed set of wire keys read from analytics payloads.
var AnalyticsKeys = []string{"flavor", "version", "buildType", "channel", "platform", "locale", "sessionId"}

// AnalyticsData is a sparse view of fields merged across every analytics call
// observed during one scan. Unset fields are omitted when serialized.
type AnalyticsData struct {
	Flavor    string `json:"flavor,omitempty"`
	Version   string `json:"version,omitempty"`
	BuildType string `json:"build_type,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Locale    string `json:"locale,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Set assigns the field named by wire key. Empty values never clear a field
// and unknown keys are ignored. It reports whether a field was written.
func (a *AnalyticsData) Set(key, value string) bool {
	if value == "" {
		return false
	}
	switch key {
	case "flavor":
		a.Flavor = value
	case "version":
		a.Version = value
	case "buildType":
		a.BuildType = value
	case "channel":
		a.Channel = value
	case "platform":
		a.Platform = value
	case "locale":
		a.Locale = value
	case "sessionId":
		a.SessionID = value
	default:
		return false
	}
	return true
}

// IsEmpty reports whether no analytics field was ever observed.
func (a AnalyticsData) IsEmpty() bool {
	return a == AnalyticsData{}
}

// CollectorResult is the state accumulated by a collector at one instant.
type CollectorResult struct {
	MainDocumentHeaders Headers           `json:"main_document_headers"`
	CapturedRequests    []CapturedRequest `json:"captured_requests"`
	AnalyticsData       AnalyticsData     `json:"analytics_data"`
}

// -- Version --

// VersionSource names the signal a detected version came from.
type VersionSource string

const (
	VersionFromMetadata  VersionSource = "sdk_metadata"
	VersionFromAnalytics VersionSource = "analytics"
	VersionFromScriptURL VersionSource = "script_url"
	VersionFromRequest   VersionSource = "request_url"
	VersionFromBundle    VersionSource = "bundle"
)

// VersionInfo pairs the detected SDK version with the latest published one.
// Either side is nil when unknown.
type VersionInfo struct {
	Detected     *string       `json:"detected"`
	Latest       *string       `json:"latest"`
	DetectedFrom VersionSource `json:"detected_from,omitempty"`
}

// DetectedString returns the detected version or "".
func (v VersionInfo) DetectedString() string {
	if v.Detected == nil {
		return ""
	}
	return *v.Detected
}

// LatestString returns the latest version or "".
func (v VersionInfo) LatestString() string {
	if v.Latest == nil {
		return ""
	}
	return *v.Latest
}

// -- Payload & Results --

// ScanPayload is the immutable fact base every check evaluates. It is built
// exactly once per scan and never changed after evaluation begins.
type ScanPayload struct {
	TabID               TabID             `json:"tab_id"`
	PageURL             string            `json:"page_url"`
	Snapshot            PageSnapshot      `json:"snapshot"`
	MainDocumentHeaders Headers           `json:"main_document_headers"`
	CapturedRequests    []CapturedRequest `json:"captured_requests"`
	Version             VersionInfo       `json:"version"`
	Analytics           AnalyticsData     `json:"analytics"`
	ScannedAt           time.Time         `json:"scanned_at"`
}

// CheckOutcome is what a single rule returns.
type CheckOutcome struct {
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Detail      string   `json:"detail,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
	DocsURL     string   `json:"docs_url,omitempty"`
}

// CheckResult is an outcome stamped with its owning check's identity.
type CheckResult struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	CheckOutcome
}

// HealthScore aggregates check results into one number and tier.
type HealthScore struct {
	Score    int  `json:"score"`
	Passing  int  `json:"passing"`
	Failing  int  `json:"failing"`
	Warnings int  `json:"warnings"`
	Total    int  `json:"total"`
	Tier     Tier `json:"tier"`
}

// ScanResult is the persisted artifact of one scan.
type ScanResult struct {
	ScanID    string        `json:"scan_id"`
	TabID     TabID         `json:"tab_id"`
	PageURL   string        `json:"page_url"`
	ScannedAt time.Time     `json:"scanned_at"`
	Checks    []CheckResult `json:"checks"`
	Health    HealthScore   `json:"health"`
	Payload   ScanPayload   `json:"payload"`
}

// Check returns the result with the given id.
func (r *ScanResult) Check(id string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.ID == id {
			return c, true
		}
	}
	return CheckResult{}, false
}
