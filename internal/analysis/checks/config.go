package checks

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
	"github.com/xkilldash9x/checkout-inspector/internal/sdk"
)

var (
	countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)
	currencyPattern    = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Client key prefixes.
const (
	originKeyPrefix = "pub.v2."
	testKeyPrefix   = "test_"
	liveKeyPrefix   = "live_"
)

// -- Auth --

func authClientKey(p *schemas.ScanPayload) schemas.CheckOutcome {
	cfg := p.Snapshot.CheckoutConfig
	if cfg == nil {
		return core.Skip("No checkout configuration")
	}
	key := cfg.ClientKey
	switch {
	case key == "":
		return core.Fail("Client key missing",
			core.WithDetail("The checkout configuration has no clientKey."),
			core.WithRemediation("Generate a client key in the Customer Area and pass it as clientKey."),
			core.WithDocs(docsClientKey))
	case strings.HasPrefix(key, originKeyPrefix):
		return core.Warn("Deprecated origin key in use",
			core.WithDetail("The configured key starts with %q, the retired origin key format.", originKeyPrefix),
			core.WithRemediation("Replace the origin key with a client key."),
			core.WithDocs(docsMigrateKeys))
	case strings.HasPrefix(key, testKeyPrefix), strings.HasPrefix(key, liveKeyPrefix):
		return core.Pass("Client key configured")
	default:
		return core.Warn("Unrecognised client key format",
			core.WithDetail("Client keys start with %q or %q.", testKeyPrefix, liveKeyPrefix),
			core.WithRemediation("Check that clientKey holds a client key rather than an API key or a placeholder."),
			core.WithDocs(docsClientKey))
	}
}

func authEnvironmentMatch(p *schemas.ScanPayload) schemas.CheckOutcome {
	cfg := p.Snapshot.CheckoutConfig
	if cfg == nil || cfg.ClientKey == "" || cfg.Environment == "" {
		return core.Skip("Client key or environment not configured")
	}
	env := strings.ToLower(cfg.Environment)
	isLiveEnv := strings.HasPrefix(env, "live")
	switch {
	case strings.HasPrefix(cfg.ClientKey, testKeyPrefix) && isLiveEnv:
		return core.Fail("Test client key used with a live environment",
			core.WithDetail("environment is %q but the client key is a test key.", cfg.Environment),
			core.WithRemediation("Use the live client key for live environments."),
			core.WithDocs(docsLiveEndpoints))
	case strings.HasPrefix(cfg.ClientKey, liveKeyPrefix) && env == "test":
		return core.Fail("Live client key used with the test environment",
			core.WithDetail("environment is %q but the client key is a live key.", cfg.Environment),
			core.WithRemediation("Set environment to your live region or use the test client key."),
			core.WithDocs(docsLiveEndpoints))
	}
	return core.Pass("Client key matches the environment", core.WithDetail("environment: %s", cfg.Environment))
}

func authCountryCode(p *schemas.ScanPayload) schemas.CheckOutcome {
	cfg := p.Snapshot.CheckoutConfig
	if cfg == nil {
		return core.Skip("No checkout configuration")
	}
	switch {
	case cfg.CountryCode == "":
		return core.Fail("Country code missing",
			core.WithDetail("Without countryCode the SDK cannot filter payment methods for the shopper."),
			core.WithRemediation("Pass the shopper's ISO 3166-1 alpha-2 country code as countryCode."),
			core.WithDocs(docsCountryCode))
	case !countryCodePattern.MatchString(cfg.CountryCode):
		return core.Warn("Country code is not a two-letter upper-case code",
			core.WithDetail("countryCode is %q.", cfg.CountryCode),
			core.WithRemediation("Use an ISO 3166-1 alpha-2 code such as NL or US."),
			core.WithDocs(docsCountryCode))
	}
	return core.Pass("Country code configured", core.WithDetail("countryCode: %s", cfg.CountryCode))
}

// -- Payment --

func paymentAmount(p *schemas.ScanPayload) schemas.CheckOutcome {
	cfg := p.Snapshot.CheckoutConfig
	if cfg == nil {
		return core.Skip("No checkout configuration")
	}
	amt := cfg.Amount
	if amt == nil {
		if cfg.HasSession {
			return core.Pass("Amount provided by the payment session")
		}
		return core.Warn("Amount missing",
			core.WithDetail("Some payment methods need the amount to render correctly."),
			core.WithRemediation("Pass amount with value in minor units and an ISO 4217 currency."),
			core.WithDocs(docsAmount))
	}
	switch {
	case !currencyPattern.MatchString(amt.Currency):
		return core.Fail("Invalid currency code",
			core.WithDetail("amount.currency is %q.", amt.Currency),
			core.WithRemediation("Use a three-letter ISO 4217 currency code such as EUR."),
			core.WithDocs(docsAmount))
	case amt.Value < 0:
		return core.Fail("Negative amount",
			core.WithDetail("amount.value is %d.", amt.Value),
			core.WithRemediation("Pass a non-negative value in minor units."),
			core.WithDocs(docsAmount))
	}
	return core.Pass("Amount configured", core.WithDetail("%d %s (minor units)", amt.Value, amt.Currency))
}

func paymentOnError(p *schemas.ScanPayload) schemas.CheckOutcome {
	cfg := p.Snapshot.CheckoutConfig
	if cfg == nil {
		return core.Skip("No checkout configuration")
	}
	if cfg.HasCallback("onError") {
		return core.Pass("onError handler registered")
	}
	for _, c := range p.Snapshot.ComponentConfigs {
		for _, cb := range c.Callbacks {
			if cb == "onError" {
				return core.Pass("onError handler registered", core.WithDetail("Registered on the %s component.", c.Type))
			}
		}
	}
	return core.Warn("No onError handler",
		core.WithDetail("Errors raised by the SDK will not reach your code."),
		core.WithRemediation("Register an onError callback and surface a retry path to the shopper."),
		core.WithDocs(docsEvents))
}

// -- Locale --

func localeSupported(p *schemas.ScanPayload) schemas.CheckOutcome {
	if locale := p.Snapshot.ExplicitLocale(); locale != "" {
		if sdk.IsSupportedLocale(locale) {
			return core.Pass("Locale supported", core.WithDetail("locale: %s", locale))
		}
		return core.Warn("Locale has no SDK translations",
			core.WithDetail("locale %q is not a supported locale; the SDK falls back to en-US.", locale),
			core.WithRemediation("Use a supported locale or provide custom translations."),
			core.WithDocs(docsLocalization))
	}
	if locale := p.Snapshot.InferredLocale(); locale != "" {
		if sdk.IsSupportedLocale(locale) {
			return core.Pass("Locale supported",
				core.WithDetail("locale %s was inferred from translation requests, not set explicitly.", locale))
		}
		return core.Warn("Locale has no SDK translations",
			core.WithDetail("Inferred locale %q is not a supported locale.", locale),
			core.WithRemediation("Set locale explicitly to a supported value."),
			core.WithDocs(docsLocalization))
	}
	return core.Notice("Locale unknown",
		core.WithDetail("No locale was configured or observed; the SDK defaults to en-US."),
		core.WithRemediation("Set locale to match the shopper's language."),
		core.WithDocs(docsLocalization))
}
