package checks

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
)

// MinHSTSMaxAge is the shortest acceptable HSTS max-age (6 months in seconds).
const MinHSTSMaxAge = 15552000

var regexMaxAge = regexp.MustCompile(`(?i)max-age=(\d+)`)

func securityHTTPS(p *schemas.ScanPayload) schemas.CheckOutcome {
	if p.PageURL == "" {
		return core.Skip("Page URL unknown")
	}
	u, err := url.Parse(p.PageURL)
	if err != nil {
		return core.Skip("Page URL unparseable", core.WithDetail("%v", err))
	}
	if strings.EqualFold(u.Scheme, "https") {
		return core.Pass("Served over HTTPS")
	}
	if isLocalHost(u.Hostname()) {
		return core.Warn("Served over plain HTTP on a local host",
			core.WithDetail("%s is a development host; production checkouts must use HTTPS.", u.Host))
	}
	return core.Fail("Checkout not served over HTTPS",
		core.WithDetail("The page was loaded over %s.", u.Scheme),
		core.WithRemediation("Serve the checkout page over HTTPS; card components refuse to run on insecure origins."),
		core.WithDocs(docsSecurityGuide))
}

func isLocalHost(host string) bool {
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func securityHSTS(p *schemas.ScanPayload) schemas.CheckOutcome {
	u, err := url.Parse(p.PageURL)
	if err != nil || !strings.EqualFold(u.Scheme, "https") || isLocalHost(u.Hostname()) {
		return core.Skip("Page not served over public HTTPS")
	}
	if len(p.MainDocumentHeaders) == 0 {
		return core.Skip("Main document headers not captured")
	}
	value := p.MainDocumentHeaders.Get("strict-transport-security")
	if value == "" {
		return core.Warn("HSTS header missing",
			core.WithRemediation("Send Strict-Transport-Security with a max-age of at least 6 months."),
			core.WithDocs(docsHSTS))
	}
	matches := regexMaxAge.FindStringSubmatch(value)
	if len(matches) < 2 {
		return core.Warn("HSTS header has no max-age",
			core.WithDetail("Strict-Transport-Security: %s", value),
			core.WithDocs(docsHSTS))
	}
	maxAge, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return core.Pass("HSTS enabled")
		}
		return core.Skip("HSTS max-age unparseable", core.WithDetail("%v", err))
	}
	switch {
	case maxAge == 0:
		return core.Fail("HSTS disabled by max-age=0",
			core.WithDetail("Strict-Transport-Security: %s", value),
			core.WithRemediation("Set max-age to a large value such as 31536000 (1 year)."),
			core.WithDocs(docsHSTS))
	case maxAge < MinHSTSMaxAge:
		return core.Warn("HSTS max-age too short",
			core.WithDetail("max-age is %d seconds; at least %d is recommended.", maxAge, MinHSTSMaxAge),
			core.WithDocs(docsHSTS))
	}
	return core.Pass("HSTS enabled", core.WithDetail("max-age=%d", maxAge))
}

// -- Content-Security-Policy --

// cspSources returns the effective script sources of one policy: script-src,
// falling back to default-src. ok is false when neither directive is present.
func cspSources(policy string) (sources []string, ok bool) {
	directives := make(map[string][]string)
	for _, raw := range strings.Split(policy, ";") {
		fields := strings.Fields(strings.TrimSpace(raw))
		if len(fields) == 0 {
			continue
		}
		name := strings.ToLower(fields[0])
		if _, dup := directives[name]; dup {
			// Browsers honour the first occurrence of a directive.
			continue
		}
		directives[name] = fields[1:]
	}
	if src, found := directives["script-src"]; found {
		return src, true
	}
	if src, found := directives["default-src"]; found {
		return src, true
	}
	return nil, false
}

// cspAllows reports whether the source list permits loading a script from
// origin (scheme://host).
func cspAllows(sources []string, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	scheme, host := strings.ToLower(u.Scheme), strings.ToLower(u.Hostname())

	for _, raw := range sources {
		src := strings.ToLower(strings.Trim(raw, `"`))
		switch {
		case src == "*":
			return true
		case src == scheme+":":
			return true
		case strings.HasPrefix(src, "'"):
			continue
		}

		srcScheme := ""
		rest := src
		if i := strings.Index(src, "://"); i >= 0 {
			srcScheme, rest = src[:i], src[i+3:]
		}
		if srcScheme != "" && srcScheme != scheme {
			continue
		}
		srcHost := rest
		if i := strings.IndexAny(srcHost, "/:"); i >= 0 {
			srcHost = srcHost[:i]
		}
		if strings.HasPrefix(srcHost, "*.") {
			if strings.HasSuffix(host, srcHost[1:]) {
				return true
			}
			continue
		}
		if srcHost == host {
			return true
		}
	}
	return false
}

// cspStrictDynamic reports whether the source list delegates trust to
// nonced or hashed loaders. Browsers then ignore host sources, so whether the
// SDK loads depends on markup the policy alone does not show.
func cspStrictDynamic(sources []string) bool {
	for _, raw := range sources {
		if strings.ToLower(strings.Trim(raw, `"`)) == "'strict-dynamic'" {
			return true
		}
	}
	return false
}

// sdkOrigin picks the origin the SDK scripts are loaded from. When no SDK
// script is hosted on an SDK domain it falls back to the environment's
// default CDN host.
func (r rules) sdkOrigin(p *schemas.ScanPayload) string {
	for _, s := range r.sdkScripts(p) {
		if r.profile.IsSDKHost(s) {
			if o := originOf(s); o != "" {
				return o
			}
		}
	}
	for _, req := range r.sdkRequests(p) {
		if o := originOf(req.URL); o != "" {
			return o
		}
	}
	env := ""
	if cfg := p.Snapshot.CheckoutConfig; cfg != nil {
		env = strings.ToLower(cfg.Environment)
	}
	if strings.HasPrefix(env, "live") {
		return "https://checkoutshopper-live.adyen.com"
	}
	return "https://checkoutshopper-test.adyen.com"
}

func (r rules) securityCSP(p *schemas.ScanPayload) schemas.CheckOutcome {
	if !r.sdkPresent(p) {
		return core.Skip("SDK not present")
	}
	policies := p.MainDocumentHeaders.Values("content-security-policy")
	if len(policies) == 0 {
		return core.Notice("No Content-Security-Policy",
			core.WithDetail("The page sends no CSP header, so script origins cannot be verified."),
			core.WithRemediation("Add a CSP that allows the SDK origin in script-src, frame-src and connect-src."),
			core.WithDocs(docsCSP))
	}

	origin := r.sdkOrigin(p)
	// Every policy is enforced, so one blocking policy is enough to fail.
	unverifiable := false
	for _, policy := range policies {
		sources, ok := cspSources(policy)
		if !ok {
			continue
		}
		if cspStrictDynamic(sources) {
			unverifiable = true
			continue
		}
		if !cspAllows(sources, origin) {
			return core.Fail("CSP blocks the SDK",
				core.WithDetail("script-src does not allow %s.", origin),
				core.WithRemediation("Add "+origin+" to script-src."),
				core.WithDocs(docsCSP))
		}
	}
	if unverifiable {
		return core.Notice("CSP cannot be verified",
			core.WithDetail("cannot verify: nonce/hash based policy. script-src uses 'strict-dynamic', so %s loads only if a trusted script inserts it.", origin),
			core.WithRemediation("Make sure the SDK script tag carries the policy nonce or is inserted by a nonced loader."),
			core.WithDocs(docsCSP))
	}
	return core.Pass("CSP allows the SDK", core.WithDetail("%s is permitted by script-src.", origin))
}

// -- Subresource Integrity --

func (r rules) securitySRI(p *schemas.ScanPayload) schemas.CheckOutcome {
	pageHost := hostOf(p.PageURL)
	var external, missing []string
	for _, s := range p.Snapshot.Scripts {
		if !r.profile.IsSDKScript(s.Src) {
			continue
		}
		host := hostOf(s.Src)
		if host == "" || host == pageHost {
			continue
		}
		external = append(external, s.Src)
		if strings.TrimSpace(s.Integrity) == "" {
			missing = append(missing, s.Src)
		}
	}
	if len(external) == 0 {
		return core.Skip("No CDN-hosted SDK scripts")
	}
	if len(missing) > 0 {
		return core.Warn("SDK script without Subresource Integrity",
			core.WithDetail("Missing integrity on: %s", strings.Join(missing, ", ")),
			core.WithRemediation(`Add the published integrity hash and crossorigin="anonymous" to the SDK script tag.`),
			core.WithDocs(docsSRI))
	}
	return core.Pass("SDK scripts use Subresource Integrity")
}
