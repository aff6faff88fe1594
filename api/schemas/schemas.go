package schemas

import "strings"

// TabID identifies one browser page target. For the chromedp host this is the
// CDP target id.
type TabID string

// String returns the raw identifier.
func (t TabID) String() string { return string(t) }

// -- Severity --

// Severity is the closed set of outcomes a check can produce.
type Severity string

const (
	// SeverityPass means the integration is compliant.
	SeverityPass Severity = "pass"
	// SeverityFail is a defect requiring remediation.
	SeverityFail Severity = "fail"
	// SeverityWarn is a risk worth addressing.
	SeverityWarn Severity = "warn"
	// SeverityNotice means the check could not verify automatically and action may be needed.
	SeverityNotice Severity = "notice"
	// SeverityInfo is observational and never scored.
	SeverityInfo Severity = "info"
	// SeveritySkip means the preconditions for evaluation were not met.
	SeveritySkip Severity = "skip"
)

// Valid reports whether s is one of the six known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityPass, SeverityFail, SeverityWarn, SeverityNotice, SeverityInfo, SeveritySkip:
		return true
	}
	return false
}

// Scoreable reports whether results of this severity count toward the health score.
func (s Severity) Scoreable() bool {
	return s == SeverityPass || s == SeverityFail || s == SeverityWarn
}

// -- Health Tier --

// Tier is the three-level aggregate health classification.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierIssues    Tier = "issues"
	TierCritical  Tier = "critical"
)

// -- Resource Types --

// ResourceType is the coarse classification of a captured request.
type ResourceType string

const (
	ResourceMainFrame  ResourceType = "main_frame"
	ResourceScript     ResourceType = "script"
	ResourceStylesheet ResourceType = "stylesheet"
	ResourceOther      ResourceType = "other"
)

// ClassifyResourceType maps a browser-level resource type onto the four coarse
// categories. Both extension webRequest names ("main_frame", "script") and CDP
// names ("Document", "Script") are understood.
func ClassifyResourceType(browserType string) ResourceType {
	switch strings.ToLower(browserType) {
	case "main_frame", "document":
		return ResourceMainFrame
	case "script":
		return ResourceScript
	case "stylesheet":
		return ResourceStylesheet
	default:
		return ResourceOther
	}
}

// ClassifyLinkRel maps a <link> element onto a resource type using its rel and
// "as" attributes.
func ClassifyLinkRel(rel, as string) ResourceType {
	rels := strings.Fields(strings.ToLower(rel))
	for _, r := range rels {
		switch r {
		case "stylesheet":
			return ResourceStylesheet
		case "modulepreload":
			return ResourceScript
		case "preload", "prefetch":
			switch strings.ToLower(as) {
			case "script":
				return ResourceScript
			case "style":
				return ResourceStylesheet
			}
		}
	}
	return ResourceOther
}
