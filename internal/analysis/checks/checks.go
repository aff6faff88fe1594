// Package checks is the rule table evaluated against every scan payload.
package checks

import (
	"net/url"
	"strings"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
	"github.com/xkilldash9x/checkout-inspector/internal/sdk"
)

// Documentation links attached to outcomes.
const (
	docsWebComponents = "https://docs.adyen.com/online-payments/build-your-integration/"
	docsClientKey     = "https://docs.adyen.com/development-resources/client-side-authentication/"
	docsMigrateKeys   = "https://docs.adyen.com/development-resources/client-side-authentication/migrate-from-origin-key-to-client-key/"
	docsLiveEndpoints = "https://docs.adyen.com/development-resources/live-endpoints/"
	docsCountryCode   = "https://docs.adyen.com/online-payments/build-your-integration/sessions-flow/?platform=Web#configure"
	docsAmount        = "https://docs.adyen.com/api-explorer/Checkout/latest/post/sessions#request-amount"
	docsEvents        = "https://docs.adyen.com/online-payments/build-your-integration/advanced-flow/?platform=Web#handle-events"
	docsLocalization  = "https://docs.adyen.com/online-payments/web-drop-in/customization/localization/"
	docsReleaseNotes  = "https://docs.adyen.com/online-payments/release-notes/"
	docsUpgrade       = "https://docs.adyen.com/online-payments/upgrade-your-integration/"
	docsSecurityGuide = "https://docs.adyen.com/development-resources/integration-security-guide/"
	docsCSP           = "https://docs.adyen.com/development-resources/integration-security-guide/#content-security-policy"
	docsSRI           = "https://docs.adyen.com/development-resources/integration-security-guide/#subresource-integrity"
	docsHSTS          = "https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/Strict-Transport-Security"
	docsTroubleshoot  = "https://docs.adyen.com/development-resources/troubleshooting/"
)

// Register adds every check to reg. The profile decides which URLs belong to
// the SDK.
func Register(reg *core.Registry, profile *sdk.Profile) error {
	if profile == nil {
		profile = sdk.DefaultProfile()
	}
	r := rules{profile: profile}
	return reg.Register(r.definitions()...)
}

// NewRegistry returns a registry holding every check.
func NewRegistry(profile *sdk.Profile) (*core.Registry, error) {
	reg := core.NewRegistry()
	if err := Register(reg, profile); err != nil {
		return nil, err
	}
	return reg, nil
}

type rules struct {
	profile *sdk.Profile
}

func (r rules) definitions() []core.Definition {
	return []core.Definition{
		{ID: "sdk-detected", Category: core.CategorySDK, Description: "The payment SDK is present on the page.", Evaluate: r.sdkDetected},
		{ID: "sdk-config-found", Category: core.CategorySDK, Description: "Checkout or component configuration could be read.", Evaluate: r.sdkConfigFound},
		{ID: "sdk-single-instance", Category: core.CategorySDK, Description: "Only one SDK version is loaded.", Evaluate: r.sdkSingleInstance},
		{ID: "auth-client-key", Category: core.CategoryAuth, Description: "A client key in the current format is configured.", Evaluate: authClientKey},
		{ID: "auth-environment-match", Category: core.CategoryAuth, Description: "The client key matches the configured environment.", Evaluate: authEnvironmentMatch},
		{ID: "auth-country-code", Category: core.CategoryAuth, Description: "A two-letter country code is configured.", Evaluate: authCountryCode},
		{ID: "payment-amount", Category: core.CategoryPayment, Description: "A valid amount and currency are configured.", Evaluate: paymentAmount},
		{ID: "payment-on-error", Category: core.CategoryPayment, Description: "An onError handler is registered.", Evaluate: paymentOnError},
		{ID: "locale-supported", Category: core.CategoryLocale, Description: "The shopper locale has SDK translations.", Evaluate: localeSupported},
		{ID: "version-detected", Category: core.CategoryVersion, Description: "The running SDK version could be determined.", Evaluate: versionDetected},
		{ID: "version-latest", Category: core.CategoryVersion, Description: "The SDK is on the latest published release.", Evaluate: versionLatest},
		{ID: "security-https", Category: core.CategorySecurity, Description: "The checkout page is served over HTTPS.", Evaluate: securityHTTPS},
		{ID: "security-hsts", Category: core.CategorySecurity, Description: "The checkout page sets a long-lived HSTS policy.", Evaluate: securityHSTS},
		{ID: "security-csp-sdk", Category: core.CategorySecurity, Description: "The Content-Security-Policy allows the SDK origin.", Evaluate: r.securityCSP},
		{ID: "security-sri", Category: core.CategorySecurity, Description: "CDN-hosted SDK scripts carry Subresource Integrity.", Evaluate: r.securitySRI},
		{ID: "network-sdk-errors", Category: core.CategoryNetwork, Description: "SDK requests completed without HTTP errors.", Evaluate: r.networkSDKErrors},
		{ID: "analytics-flavor", Category: core.CategoryAnalytics, Description: "Reports the integration flavor seen in SDK analytics.", Evaluate: analyticsFlavor},
	}
}

// -- Shared evidence helpers --

// sdkScripts returns every script URL that looks like an SDK bundle, from the
// page and from captured script requests, without duplicates.
func (r rules) sdkScripts(p *schemas.ScanPayload) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if u == "" || !r.profile.IsSDKScript(u) {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, s := range p.Snapshot.Scripts {
		add(s.Src)
	}
	for _, req := range p.CapturedRequests {
		if req.Type == schemas.ResourceScript {
			add(req.URL)
		}
	}
	return out
}

// sdkRequests returns captured requests served from SDK domains.
func (r rules) sdkRequests(p *schemas.ScanPayload) []schemas.CapturedRequest {
	var out []schemas.CapturedRequest
	for _, req := range p.CapturedRequests {
		if req.Type != schemas.ResourceMainFrame && r.profile.IsSDKHost(req.URL) {
			out = append(out, req)
		}
	}
	return out
}

// sdkPresent reports whether anything on the page points at the SDK.
func (r rules) sdkPresent(p *schemas.ScanPayload) bool {
	if p.Snapshot.SDK != nil || p.Snapshot.HasConfig() {
		return true
	}
	return len(r.sdkScripts(p)) > 0 || len(r.sdkRequests(p)) > 0
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
