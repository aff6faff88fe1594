package checks

import (
	"context"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
	"github.com/xkilldash9x/checkout-inspector/internal/sdk"
)

const (
	liveScript = "https://checkoutshopper-live.adyen.com/checkoutshopper/sdk/5.67.5/adyen.js"
	testScript = "https://checkoutshopper-test.adyen.com/checkoutshopper/sdk/5.67.5/adyen.js"
)

func strPtr(s string) *string { return &s }

// basePayload is a healthy test-environment integration.
func basePayload() *schemas.ScanPayload {
	return &schemas.ScanPayload{
		TabID:   "T1",
		PageURL: "https://shop.example/checkout",
		Snapshot: schemas.PageSnapshot{
			PageURL:      "https://shop.example/checkout",
			PageProtocol: "https:",
			CheckoutConfig: &schemas.CheckoutConfig{
				ClientKey:   "test_ABCDEF",
				Environment: "test",
				Locale:      "nl-NL",
				CountryCode: "NL",
				Amount:      &schemas.Amount{Value: 1000, Currency: "EUR"},
				Callbacks:   []string{"onSubmit", "onError"},
			},
			SDK:     &schemas.SDKMetadata{Version: "5.67.5"},
			Scripts: []schemas.ScriptRef{{Src: testScript, Integrity: "sha384-abc", CrossOrigin: "anonymous"}},
		},
		MainDocumentHeaders: schemas.Headers{
			{Name: "content-security-policy", Value: "default-src 'self'; script-src 'self' https://*.adyen.com"},
			{Name: "strict-transport-security", Value: "max-age=31536000; includeSubDomains"},
		},
		CapturedRequests: []schemas.CapturedRequest{
			{URL: "https://shop.example/checkout", Type: schemas.ResourceMainFrame, StatusCode: 200},
			{URL: testScript, Type: schemas.ResourceScript, StatusCode: 200},
		},
		Version: schemas.VersionInfo{Detected: strPtr("5.67.5"), Latest: strPtr("5.67.5"), DetectedFrom: schemas.VersionFromMetadata},
	}
}

func evaluate(t *testing.T, p *schemas.ScanPayload) map[string]schemas.CheckResult {
	t.Helper()
	reg, err := NewRegistry(sdk.DefaultProfile())
	require.NoError(t, err)
	results := core.NewEngine(reg, zaptest.NewLogger(t)).Evaluate(context.Background(), p)
	out := make(map[string]schemas.CheckResult, len(results))
	for _, r := range results {
		out[r.ID] = r
	}
	return out
}

func severityOf(t *testing.T, p *schemas.ScanPayload, id string) schemas.Severity {
	t.Helper()
	r, ok := evaluate(t, p)[id]
	require.True(t, ok, "check %s not registered", id)
	return r.Severity
}

func TestRegistryIsComplete(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	assert.Equal(t, 17, reg.Len())

	// Registering the table twice must trip the duplicate guard.
	err = Register(reg, nil)
	assert.ErrorIs(t, err, schemas.ErrDuplicateCheck)
}

func TestHealthyPayloadPassesScoredChecks(t *testing.T) {
	results := evaluate(t, basePayload())
	for id, r := range results {
		assert.NotEqual(t, schemas.SeverityFail, r.Severity, "%s: %s (%s)", id, r.Title, r.Detail)
		assert.NotEqual(t, schemas.SeverityWarn, r.Severity, "%s: %s (%s)", id, r.Title, r.Detail)
		assert.Equal(t, id, r.ID)
		assert.NotEmpty(t, r.Category)
	}
}

// -- End-to-end scenarios --

func TestScenarioLegacyOriginKey(t *testing.T) {
	p := basePayload()
	p.Snapshot.CheckoutConfig.ClientKey = "pub.v2.XYZ"
	assert.Equal(t, schemas.SeverityWarn, severityOf(t, p, "auth-client-key"))
}

func TestScenarioCountryCode(t *testing.T) {
	p := basePayload()
	p.Snapshot.CheckoutConfig.CountryCode = ""
	assert.Equal(t, schemas.SeverityFail, severityOf(t, p, "auth-country-code"))

	p.Snapshot.CheckoutConfig.CountryCode = "NL"
	assert.Equal(t, schemas.SeverityPass, severityOf(t, p, "auth-country-code"))

	p.Snapshot.CheckoutConfig.CountryCode = "nl"
	assert.Equal(t, schemas.SeverityWarn, severityOf(t, p, "auth-country-code"))

	p.Snapshot.CheckoutConfig = nil
	assert.Equal(t, schemas.SeveritySkip, severityOf(t, p, "auth-country-code"))
}

func TestScenarioMinorUpgrade(t *testing.T) {
	p := basePayload()
	p.Version.Detected = strPtr("5.67.5")
	p.Version.Latest = strPtr("5.68.0")

	r := evaluate(t, p)["version-latest"]
	assert.Equal(t, schemas.SeverityWarn, r.Severity)
	assert.Contains(t, r.DocsURL, "release-notes")
	assert.Contains(t, r.DocsURL, "5.68.0")
	assert.Contains(t, r.Remediation, "5.68.0")
}

// -- Version freshness properties --

func TestVersionLatestTiers(t *testing.T) {
	testCases := []struct {
		detected, latest *string
		want             schemas.Severity
	}{
		{strPtr("5.68.0"), strPtr("5.68.0"), schemas.SeverityPass},
		{strPtr("6.0.0"), strPtr("5.68.0"), schemas.SeverityPass},
		{strPtr("5.68.0"), strPtr("5.68.2"), schemas.SeverityNotice},
		{strPtr("5.60.9"), strPtr("5.68.0"), schemas.SeverityWarn},
		{strPtr("4.9.9"), strPtr("5.68.0"), schemas.SeverityWarn},
		{nil, strPtr("5.68.0"), schemas.SeveritySkip},
		{strPtr("5.68.0"), nil, schemas.SeveritySkip},
		{strPtr(""), strPtr("5.68.0"), schemas.SeveritySkip},
		{strPtr("unknown"), strPtr("5.68.0"), schemas.SeveritySkip},
	}
	for _, tc := range testCases {
		p := basePayload()
		p.Version = schemas.VersionInfo{Detected: tc.detected, Latest: tc.latest}
		got := versionLatest(p)
		assert.Equal(t, tc.want, got.Severity, "detected=%v latest=%v", tc.detected, tc.latest)
	}
}

func TestVersionDetected(t *testing.T) {
	p := basePayload()
	assert.Equal(t, schemas.SeverityInfo, versionDetected(p).Severity)
	p.Version.Detected = nil
	assert.Equal(t, schemas.SeverityNotice, versionDetected(p).Severity)
}

// -- Individual rules --

func TestAuthClientKey(t *testing.T) {
	p := basePayload()
	assert.Equal(t, schemas.SeverityPass, authClientKey(p).Severity)

	p.Snapshot.CheckoutConfig.ClientKey = "live_XYZ"
	assert.Equal(t, schemas.SeverityPass, authClientKey(p).Severity)

	p.Snapshot.CheckoutConfig.ClientKey = ""
	assert.Equal(t, schemas.SeverityFail, authClientKey(p).Severity)

	p.Snapshot.CheckoutConfig.ClientKey = "AQEyhmfxK..."
	assert.Equal(t, schemas.SeverityWarn, authClientKey(p).Severity)

	p.Snapshot.CheckoutConfig = nil
	assert.Equal(t, schemas.SeveritySkip, authClientKey(p).Severity)
}

func TestAuthEnvironmentMatch(t *testing.T) {
	p := basePayload()
	assert.Equal(t, schemas.SeverityPass, authEnvironmentMatch(p).Severity)

	p.Snapshot.CheckoutConfig.Environment = "live-us"
	assert.Equal(t, schemas.SeverityFail, authEnvironmentMatch(p).Severity)

	p.Snapshot.CheckoutConfig.ClientKey = "live_ABC"
	assert.Equal(t, schemas.SeverityPass, authEnvironmentMatch(p).Severity)

	p.Snapshot.CheckoutConfig.Environment = "test"
	assert.Equal(t, schemas.SeverityFail, authEnvironmentMatch(p).Severity)

	p.Snapshot.CheckoutConfig.Environment = ""
	assert.Equal(t, schemas.SeveritySkip, authEnvironmentMatch(p).Severity)
}

func TestPaymentAmount(t *testing.T) {
	p := basePayload()
	assert.Equal(t, schemas.SeverityPass, paymentAmount(p).Severity)

	p.Snapshot.CheckoutConfig.Amount = &schemas.Amount{Value: 1000, Currency: "euro"}
	assert.Equal(t, schemas.SeverityFail, paymentAmount(p).Severity)

	p.Snapshot.CheckoutConfig.Amount = &schemas.Amount{Value: -1, Currency: "EUR"}
	assert.Equal(t, schemas.SeverityFail, paymentAmount(p).Severity)

	p.Snapshot.CheckoutConfig.Amount = nil
	assert.Equal(t, schemas.SeverityWarn, paymentAmount(p).Severity)

	p.Snapshot.CheckoutConfig.HasSession = true
	assert.Equal(t, schemas.SeverityPass, paymentAmount(p).Severity)
}

func TestPaymentOnError(t *testing.T) {
	p := basePayload()
	assert.Equal(t, schemas.SeverityPass, paymentOnError(p).Severity)

	p.Snapshot.CheckoutConfig.Callbacks = []string{"onSubmit"}
	assert.Equal(t, schemas.SeverityWarn, paymentOnError(p).Severity)

	p.Snapshot.ComponentConfigs = []schemas.ComponentConfig{{Type: "card", Callbacks: []string{"onError"}}}
	r := paymentOnError(p)
	assert.Equal(t, schemas.SeverityPass, r.Severity)
	assert.Contains(t, r.Detail, "card")
}

func TestLocaleSupported(t *testing.T) {
	p := basePayload()
	assert.Equal(t, schemas.SeverityPass, localeSupported(p).Severity)

	p.Snapshot.CheckoutConfig.Locale = "tlh-KL"
	assert.Equal(t, schemas.SeverityWarn, localeSupported(p).Severity)

	p.Snapshot.CheckoutConfig.Locale = ""
	assert.Equal(t, schemas.SeverityNotice, localeSupported(p).Severity)

	p.Snapshot = p.Snapshot.WithInferredLocale("de-DE")
	r := localeSupported(p)
	assert.Equal(t, schemas.SeverityPass, r.Severity)
	assert.Contains(t, r.Detail, "inferred")
}

func TestSDKPresenceRules(t *testing.T) {
	empty := &schemas.ScanPayload{PageURL: "https://blog.example/"}
	results := evaluate(t, empty)
	assert.Equal(t, schemas.SeverityFail, results["sdk-detected"].Severity)
	assert.Equal(t, schemas.SeveritySkip, results["sdk-config-found"].Severity)
	assert.Equal(t, schemas.SeveritySkip, results["sdk-single-instance"].Severity)
	assert.Equal(t, schemas.SeveritySkip, results["security-csp-sdk"].Severity)
	assert.Equal(t, schemas.SeveritySkip, results["network-sdk-errors"].Severity)
	assert.Equal(t, schemas.SeveritySkip, results["analytics-flavor"].Severity)

	scriptOnly := &schemas.ScanPayload{Snapshot: schemas.PageSnapshot{Scripts: []schemas.ScriptRef{{Src: testScript}}}}
	results = evaluate(t, scriptOnly)
	assert.Equal(t, schemas.SeverityPass, results["sdk-detected"].Severity)
	assert.Equal(t, schemas.SeverityNotice, results["sdk-config-found"].Severity)
}

func TestSDKSingleInstance(t *testing.T) {
	p := basePayload()
	r := rules{profile: sdk.DefaultProfile()}
	assert.Equal(t, schemas.SeverityPass, r.sdkSingleInstance(p).Severity)

	p.Snapshot.Scripts = append(p.Snapshot.Scripts, schemas.ScriptRef{Src: "https://cdn.jsdelivr.net/npm/@adyen/adyen-web@5.50.0/dist/adyen.js"})
	got := r.sdkSingleInstance(p)
	assert.Equal(t, schemas.SeverityWarn, got.Severity)
	assert.Contains(t, got.Detail, "5.50.0, 5.67.5")
}

func TestSecurityHTTPS(t *testing.T) {
	p := basePayload()
	assert.Equal(t, schemas.SeverityPass, securityHTTPS(p).Severity)

	p.PageURL = "http://shop.example/checkout"
	assert.Equal(t, schemas.SeverityFail, securityHTTPS(p).Severity)

	p.PageURL = "http://localhost:3000/checkout"
	assert.Equal(t, schemas.SeverityWarn, securityHTTPS(p).Severity)

	p.PageURL = "http://127.0.0.1:8080/"
	assert.Equal(t, schemas.SeverityWarn, securityHTTPS(p).Severity)

	p.PageURL = ""
	assert.Equal(t, schemas.SeveritySkip, securityHTTPS(p).Severity)
}

func TestSecurityHSTS(t *testing.T) {
	p := basePayload()
	assert.Equal(t, schemas.SeverityPass, securityHSTS(p).Severity)

	p.MainDocumentHeaders = schemas.Headers{{Name: "strict-transport-security", Value: "max-age=0"}}
	assert.Equal(t, schemas.SeverityFail, securityHSTS(p).Severity)

	p.MainDocumentHeaders = schemas.Headers{{Name: "strict-transport-security", Value: "max-age=3600"}}
	assert.Equal(t, schemas.SeverityWarn, securityHSTS(p).Severity)

	p.MainDocumentHeaders = schemas.Headers{{Name: "x-frame-options", Value: "DENY"}}
	assert.Equal(t, schemas.SeverityWarn, securityHSTS(p).Severity)

	p.MainDocumentHeaders = nil
	assert.Equal(t, schemas.SeveritySkip, securityHSTS(p).Severity)

	p.PageURL = "http://shop.example/"
	assert.Equal(t, schemas.SeveritySkip, securityHSTS(p).Severity)
}

func TestSecurityCSP(t *testing.T) {
	r := rules{profile: sdk.DefaultProfile()}

	p := basePayload()
	assert.Equal(t, schemas.SeverityPass, r.securityCSP(p).Severity)

	p.MainDocumentHeaders = schemas.Headers{{Name: "content-security-policy", Value: "default-src 'self'"}}
	got := r.securityCSP(p)
	assert.Equal(t, schemas.SeverityFail, got.Severity)
	assert.Contains(t, got.Detail, "https://checkoutshopper-test.adyen.com")

	p.MainDocumentHeaders = schemas.Headers{{Name: "content-security-policy", Value: "script-src 'nonce-r4nd0m' 'strict-dynamic'"}}
	got = r.securityCSP(p)
	assert.Equal(t, schemas.SeverityNotice, got.Severity)
	assert.Contains(t, got.Detail, "cannot verify: nonce/hash based policy")

	p.MainDocumentHeaders = schemas.Headers{{Name: "content-security-policy", Value: "script-src 'sha256-abc' 'strict-dynamic' https://checkoutshopper-test.adyen.com"}}
	assert.Equal(t, schemas.SeverityNotice, r.securityCSP(p).Severity, "host sources are ignored next to strict-dynamic")

	p.MainDocumentHeaders = schemas.Headers{
		{Name: "content-security-policy", Value: "script-src 'nonce-r4nd0m' 'strict-dynamic'"},
		{Name: "content-security-policy", Value: "script-src 'self'"},
	}
	assert.Equal(t, schemas.SeverityFail, r.securityCSP(p).Severity, "a verifiable blocking policy still fails")

	p.MainDocumentHeaders = schemas.Headers{{Name: "content-security-policy", Value: "frame-ancestors 'none'"}}
	assert.Equal(t, schemas.SeverityPass, r.securityCSP(p).Severity, "a policy without script restrictions allows the SDK")

	p.MainDocumentHeaders = schemas.Headers{
		{Name: "content-security-policy", Value: "script-src https:"},
		{Name: "content-security-policy", Value: "script-src https://checkoutshopper-live.adyen.com"},
	}
	assert.Equal(t, schemas.SeverityFail, r.securityCSP(p).Severity, "every enforced policy must allow the SDK")

	p.MainDocumentHeaders = nil
	assert.Equal(t, schemas.SeverityNotice, r.securityCSP(p).Severity)
}

func TestCSPAllows(t *testing.T) {
	origin := "https://checkoutshopper-live.adyen.com"
	assert.True(t, cspAllows([]string{"*"}, origin))
	assert.True(t, cspAllows([]string{"https:"}, origin))
	assert.True(t, cspAllows([]string{"'self'", "https://checkoutshopper-live.adyen.com/checkoutshopper/"}, origin))
	assert.True(t, cspAllows([]string{"*.adyen.com"}, origin))
	assert.False(t, cspAllows([]string{"http://checkoutshopper-live.adyen.com"}, origin))
	assert.False(t, cspAllows([]string{"'self'", "'unsafe-inline'"}, origin))
	assert.False(t, cspAllows([]string{"https://*.adyen.com.evil.example"}, origin))
	assert.False(t, cspAllows([]string{"'nonce-r4nd0m'", "'strict-dynamic'"}, origin))

	assert.True(t, cspStrictDynamic([]string{"'nonce-r4nd0m'", "'Strict-Dynamic'"}))
	assert.False(t, cspStrictDynamic([]string{"'self'", "https:"}))
}

func TestSecuritySRI(t *testing.T) {
	r := rules{profile: sdk.DefaultProfile()}

	p := basePayload()
	assert.Equal(t, schemas.SeverityPass, r.securitySRI(p).Severity)

	p.Snapshot.Scripts[0].Integrity = ""
	assert.Equal(t, schemas.SeverityWarn, r.securitySRI(p).Severity)

	p.Snapshot.Scripts = []schemas.ScriptRef{{Src: "https://shop.example/static/adyen.js"}}
	assert.Equal(t, schemas.SeveritySkip, r.securitySRI(p).Severity, "self-hosted bundles are out of scope")
}

func TestNetworkSDKErrors(t *testing.T) {
	r := rules{profile: sdk.DefaultProfile()}

	p := basePayload()
	assert.Equal(t, schemas.SeverityPass, r.networkSDKErrors(p).Severity)

	p.CapturedRequests = append(p.CapturedRequests, schemas.CapturedRequest{
		URL: "https://checkoutshopper-test.adyen.com/checkoutshopper/v1/sessions/CS123/setup?clientKey=test_ABCDEF", Type: schemas.ResourceOther, StatusCode: 401,
	})
	got := r.networkSDKErrors(p)
	assert.Equal(t, schemas.SeverityFail, got.Severity)
	assert.Contains(t, got.Detail, "401")

	p.CapturedRequests = []schemas.CapturedRequest{{URL: "https://shop.example/", Type: schemas.ResourceMainFrame, StatusCode: 500}}
	assert.Equal(t, schemas.SeveritySkip, r.networkSDKErrors(p).Severity, "the main document is not an SDK request")
}

func TestNetworkSDKErrors_RequiresResponseStatus(t *testing.T) {
	r := rules{profile: sdk.DefaultProfile()}
	p := basePayload()

	// Requests seen only through page-side resource timing have no status.
	p.CapturedRequests = []schemas.CapturedRequest{
		{URL: testScript, Type: schemas.ResourceScript},
		{URL: "https://checkoutshopper-test.adyen.com/checkoutshopper/v1/sessions/CS123/setup", Type: schemas.ResourceOther},
	}
	got := r.networkSDKErrors(p)
	assert.Equal(t, schemas.SeveritySkip, got.Severity)
	assert.Equal(t, "No SDK response status observed", got.Title)

	p.CapturedRequests[1].StatusCode = 200
	got = r.networkSDKErrors(p)
	assert.Equal(t, schemas.SeverityPass, got.Severity)
	assert.Contains(t, got.Detail, "1 requests checked")

	p.CapturedRequests[1].StatusCode = 503
	got = r.networkSDKErrors(p)
	assert.Equal(t, schemas.SeverityFail, got.Severity)
	assert.Contains(t, got.Detail, "1 of 1 SDK requests failed")
}

func TestAnalyticsFlavor(t *testing.T) {
	p := basePayload()
	assert.Equal(t, schemas.SeveritySkip, analyticsFlavor(p).Severity)

	p.Analytics = schemas.AnalyticsData{Flavor: "dropin", Channel: "Web"}
	got := analyticsFlavor(p)
	assert.Equal(t, schemas.SeverityInfo, got.Severity)
	assert.Equal(t, "Integration flavor: dropin", got.Title)
	assert.Contains(t, got.Detail, "channel Web")
}

// FuzzEvaluate_Structured feeds arbitrary payloads through the whole rule
// table: no rule may panic and every outcome must carry a known severity.
func FuzzEvaluate_Structured(f *testing.F) {
	f.Add([]byte("seed"))
	f.Add([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})
	reg, err := NewRegistry(nil)
	if err != nil {
		f.Fatal(err)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		var in struct {
			PageURL   string
			Config    *schemas.CheckoutConfig
			Scripts   []schemas.ScriptRef
			SDK       *schemas.SDKMetadata
			Headers   schemas.Headers
			Requests  []schemas.CapturedRequest
			Analytics schemas.AnalyticsData
			Detected  *string
			Latest    *string
		}
		if err := c.GenerateStruct(&in); err != nil {
			return
		}
		p := schemas.ScanPayload{
			PageURL: in.PageURL,
			Snapshot: schemas.PageSnapshot{
				PageURL:        in.PageURL,
				CheckoutConfig: in.Config,
				Scripts:        in.Scripts,
				SDK:            in.SDK,
			},
			MainDocumentHeaders: in.Headers,
			CapturedRequests:    in.Requests,
			Analytics:           in.Analytics,
			Version:             schemas.VersionInfo{Detected: in.Detected, Latest: in.Latest},
		}
		for _, r := range core.NewEngine(reg, nil).Evaluate(context.Background(), &p) {
			require.True(t, r.Severity.Valid())
			require.NotContains(t, r.Detail, "internal error", "check %s panicked", r.ID)
		}
	})
}
