package schemas

import "time"

// -- Page Snapshot Schemas --

// PageSnapshot is one point-in-time extraction of page state. Snapshots are
// never mutated after they are produced; derived views (such as a snapshot
// with a backfilled locale) are copies.
type PageSnapshot struct {
	CheckoutConfig   *CheckoutConfig   `json:"checkout_config,omitempty"`
	ComponentConfigs []ComponentConfig `json:"component_configs,omitempty"`
	// InferredConfig holds values guessed from indirect evidence, kept apart from
	// what the merchant configured explicitly.
	InferredConfig   *InferredConfig   `json:"inferred_config,omitempty"`
	Scripts          []ScriptRef       `json:"scripts"`
	Links            []LinkRef         `json:"links"`
	Iframes          []IframeRef       `json:"iframes"`
	SDK              *SDKMetadata      `json:"sdk,omitempty"`
	ObservedRequests []ObservedRequest `json:"observed_requests,omitempty"`
	PageURL          string            `json:"page_url"`
	PageProtocol     string            `json:"page_protocol"`
	CapturedAt       time.Time         `json:"captured_at"`
}

// HasConfig reports whether the snapshot carries checkout or component configuration.
func (s *PageSnapshot) HasConfig() bool {
	if s == nil {
		return false
	}
	return s.CheckoutConfig != nil || len(s.ComponentConfigs) > 0
}

// ExplicitLocale returns the locale the merchant configured, if any.
func (s *PageSnapshot) ExplicitLocale() string {
	if s == nil || s.CheckoutConfig == nil {
		return ""
	}
	return s.CheckoutConfig.Locale
}

// InferredLocale returns a previously inferred locale, if any.
func (s *PageSnapshot) InferredLocale() string {
	if s == nil || s.InferredConfig == nil {
		return ""
	}
	return s.InferredConfig.Locale
}

// WithInferredLocale returns a copy of the snapshot whose inferred
// configuration carries locale. The receiver is left untouched.
func (s PageSnapshot) WithInferredLocale(locale string) PageSnapshot {
	inferred := InferredConfig{}
	if s.InferredConfig != nil {
		inferred = *s.InferredConfig
	}
	inferred.Locale = locale
	s.InferredConfig = &inferred
	return s
}

// ScriptURLs lists the src of every script tag.
func (s *PageSnapshot) ScriptURLs() []string {
	if s == nil {
		return nil
	}
	urls := make([]string, 0, len(s.Scripts))
	for _, sc := range s.Scripts {
		if sc.Src != "" {
			urls = append(urls, sc.Src)
		}
	}
	return urls
}

// CheckoutConfig is the configuration object passed to the checkout constructor.
type CheckoutConfig struct {
	ClientKey   string   `json:"client_key,omitempty"`
	Environment string   `json:"environment,omitempty"`
	Locale      string   `json:"locale,omitempty"`
	CountryCode string   `json:"country_code,omitempty"`
	Amount      *Amount  `json:"amount,omitempty"`
	HasSession  bool     `json:"has_session,omitempty"`
	Callbacks   []string `json:"callbacks,omitempty"`
}

// HasCallback reports whether the named callback was supplied.
func (c *CheckoutConfig) HasCallback(name string) bool {
	if c == nil {
		return false
	}
	for _, cb := range c.Callbacks {
		if cb == name {
			return true
		}
	}
	return false
}

// Amount is a minor-unit payment amount.
type Amount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

// ComponentConfig describes one mounted payment component.
type ComponentConfig struct {
	Type      string   `json:"type"`
	Callbacks []string `json:"callbacks,omitempty"`
}

// InferredConfig carries values derived from indirect evidence.
type InferredConfig struct {
	Locale      string `json:"locale,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// SDKMetadata is what the SDK exposes about itself at runtime.
type SDKMetadata struct {
	Version    string   `json:"version,omitempty"`
	BundleType string   `json:"bundle_type,omitempty"`
	Variants   []string `json:"variants,omitempty"`
}

// ScriptRef is one <script> element.
type ScriptRef struct {
	Src         string `json:"src"`
	Integrity   string `json:"integrity,omitempty"`
	CrossOrigin string `json:"crossorigin,omitempty"`
	Async       bool   `json:"async,omitempty"`
	Defer       bool   `json:"defer,omitempty"`
}

// LinkRef is one <link> element.
type LinkRef struct {
	Href      string `json:"href"`
	Rel       string `json:"rel"`
	As        string `json:"as,omitempty"`
	Integrity string `json:"integrity,omitempty"`
}

// IframeRef is one <iframe> element.
type IframeRef struct {
	Src   string `json:"src"`
	Name  string `json:"name,omitempty"`
	Title string `json:"title,omitempty"`
}

// ObservedRequest is a resource the page itself recorded (performance entries).
type ObservedRequest struct {
	URL           string `json:"url"`
	InitiatorType string `json:"initiator_type"`
}
