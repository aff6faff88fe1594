// Package sdk describes the payment SDK under inspection: the domains it is
// served from, how its analytics calls and script tags look, and the locales
// it ships translations for.
package sdk

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/checkout-inspector/internal/config"
)

// SupportedLocales are the locales the SDK ships translations for.
var SupportedLocales = []string{
	"ar", "cs-CZ", "da-DK", "de-DE", "el-GR", "en-US", "es-ES", "fi-FI",
	"fr-FR", "hr-HR", "hu-HU", "it-IT", "ja-JP", "ko-KR", "nl-NL", "no-NO",
	"pl-PL", "pt-BR", "pt-PT", "ro-RO", "ru-RU", "sk-SK", "sl-SI", "sv-SE",
	"zh-CN", "zh-TW",
}

// IsSupportedLocale reports whether locale is one of SupportedLocales. An
// underscore separator is accepted.
func IsSupportedLocale(locale string) bool {
	normalized := strings.ReplaceAll(locale, "_", "-")
	for _, l := range SupportedLocales {
		if strings.EqualFold(l, normalized) {
			return true
		}
	}
	return false
}

// Profile classifies URLs against the SDK's known footprint.
type Profile struct {
	knownDomains      map[string]struct{}
	analyticsPatterns []string
	scriptPatterns    []string
}

// NewProfile builds a profile from configuration.
func NewProfile(cfg config.SDKConfig) *Profile {
	p := &Profile{
		knownDomains:      make(map[string]struct{}, len(cfg.KnownDomains)),
		analyticsPatterns: lower(cfg.AnalyticsPatterns),
		scriptPatterns:    lower(cfg.ScriptPatterns),
	}
	for _, d := range cfg.KnownDomains {
		p.knownDomains[strings.ToLower(strings.TrimPrefix(d, "."))] = struct{}{}
	}
	return p
}

// DefaultProfile is the profile built from the default configuration.
func DefaultProfile() *Profile {
	return NewProfile(config.NewDefaultConfig().SDK)
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// RegistrableDomain returns the eTLD+1 of rawURL's host, or "".
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// IsSDKHost reports whether rawURL is served from one of the SDK's domains.
func (p *Profile) IsSDKHost(rawURL string) bool {
	_, ok := p.knownDomains[RegistrableDomain(rawURL)]
	return ok
}

// IsAnalyticsURL reports whether rawURL is an SDK analytics endpoint.
func (p *Profile) IsAnalyticsURL(rawURL string) bool {
	if !p.IsSDKHost(rawURL) {
		return false
	}
	return containsAny(strings.ToLower(rawURL), p.analyticsPatterns)
}

// IsSDKScript reports whether rawURL looks like an SDK bundle. Bundles
// self-hosted by the merchant are recognised by file name alone.
func (p *Profile) IsSDKScript(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	return containsAny(strings.ToLower(rawURL), p.scriptPatterns)
}

// IsRelevant reports whether a request belongs to the SDK: served from a
// known domain or shaped like an SDK script.
func (p *Profile) IsRelevant(rawURL string) bool {
	return p.IsSDKHost(rawURL) || p.IsSDKScript(rawURL)
}

// KnownDomains lists the configured SDK domains.
func (p *Profile) KnownDomains() []string {
	out := make([]string, 0, len(p.knownDomains))
	for d := range p.knownDomains {
		out = append(out, d)
	}
	return out
}

func containsAny(s string, patterns []string) bool {
	for _, pat := range patterns {
		if pat != "" && strings.Contains(s, pat) {
			return true
		}
	}
	return false
}
