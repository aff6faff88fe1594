package orchestrator

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

// MergeRequests concatenates the lists and drops every entry whose
// (type, url) was already seen. The first occurrence wins, so collector
// entries passed first take precedence over snapshot-derived ones.
func MergeRequests(lists ...[]schemas.CapturedRequest) []schemas.CapturedRequest {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	seen := make(map[schemas.RequestKey]struct{}, total)
	out := make([]schemas.CapturedRequest, 0, total)
	for _, l := range lists {
		for _, req := range l {
			key := req.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, req)
		}
	}
	return out
}

// FallbackRequests synthesizes the requests a snapshot implies: the main
// document, every script and link, and whatever the page recorded itself.
// They carry no headers or status.
func FallbackRequests(snap *schemas.PageSnapshot) []schemas.CapturedRequest {
	if snap == nil {
		return nil
	}
	var out []schemas.CapturedRequest
	add := func(u string, t schemas.ResourceType) {
		if u != "" {
			out = append(out, schemas.CapturedRequest{URL: u, Type: t})
		}
	}
	add(snap.PageURL, schemas.ResourceMainFrame)
	for _, s := range snap.Scripts {
		add(s.Src, schemas.ResourceScript)
	}
	for _, l := range snap.Links {
		add(l.Href, schemas.ClassifyLinkRel(l.Rel, l.As))
	}
	for _, r := range snap.ObservedRequests {
		add(r.URL, classifyInitiator(r.InitiatorType))
	}
	return out
}

// classifyInitiator maps a resource timing initiator type onto a coarse type.
func classifyInitiator(initiator string) schemas.ResourceType {
	switch strings.ToLower(initiator) {
	case "navigation":
		return schemas.ResourceMainFrame
	case "script":
		return schemas.ResourceScript
	case "css":
		return schemas.ResourceStylesheet
	default:
		return schemas.ResourceOther
	}
}

var localeSegment = regexp.MustCompile(`^([a-z]{2})[-_]([A-Z]{2})(\.json)?$`)

// LocaleFromURL returns the first locale-shaped path segment of rawURL
// normalized to "xx-YY", or "".
func LocaleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if m := localeSegment.FindStringSubmatch(seg); m != nil {
			return m[1] + "-" + m[2]
		}
	}
	return ""
}

// BackfillLocale infers a locale from request URLs when the snapshot carries
// neither an explicit nor a previously inferred one. The first match in
// request order is used and an existing locale is never replaced.
func BackfillLocale(snap schemas.PageSnapshot, requests []schemas.CapturedRequest) schemas.PageSnapshot {
	if snap.ExplicitLocale() != "" || snap.InferredLocale() != "" {
		return snap
	}
	for _, req := range requests {
		if locale := LocaleFromURL(req.URL); locale != "" {
			return snap.WithInferredLocale(locale)
		}
	}
	return snap
}
