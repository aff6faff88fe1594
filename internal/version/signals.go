package version

import (
	"regexp"
)

var (
	// Hosted bundles: .../checkoutshopper/sdk/5.67.0/adyen.js
	sdkPathPattern = regexp.MustCompile(`/sdk/(\d+\.\d+\.\d+)/`)
	// npm CDNs: .../@adyen/adyen-web@5.67.0/... and .../adyen-web/5.67.0/...
	npmPathPattern = regexp.MustCompile(`adyen-web[@/](\d+\.\d+\.\d+)`)

	bundlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`@adyen/adyen-web@(\d+\.\d+\.\d+)`),
		regexp.MustCompile(`"@adyen/adyen-web"\s*,\s*"?version"?\s*:\s*"(\d+\.\d+\.\d+)"`),
		regexp.MustCompile(`(?i)adyen[\w.$]*version\s*[:=]\s*["'](\d+\.\d+\.\d+)["']`),
		regexp.MustCompile(`(?i)checkout[\w.$]*version\s*[:=]\s*["'](\d+\.\d+\.\d+)["']`),
	}
)

// FromURL extracts an SDK version embedded in a script or request URL.
func FromURL(rawURL string) string {
	if m := sdkPathPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := npmPathPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

// FirstFromURLs returns the first version found in urls, in order.
func FirstFromURLs(urls []string) string {
	for _, u := range urls {
		if v := FromURL(u); v != "" {
			return v
		}
	}
	return ""
}

// FromBundle scans bundle source for a version declaration.
func FromBundle(source string) string {
	for _, p := range bundlePatterns {
		if m := p.FindStringSubmatch(source); m != nil {
			return m[1]
		}
	}
	return ""
}
