package version

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/sdk"
)

// TextGetter fetches a URL body as text.
type TextGetter interface {
	GetText(ctx context.Context, rawURL string) (string, error)
}

// Signals are the inputs version detection draws on.
type Signals struct {
	Snapshot  *schemas.PageSnapshot
	Analytics schemas.AnalyticsData
	Requests  []schemas.CapturedRequest
}

// Resolver detects the running SDK version and looks up the latest release.
// Every failure degrades to an unknown version.
type Resolver struct {
	latest          schemas.LatestVersionSource
	bundles         TextGetter
	profile         *sdk.Profile
	bundleScanLimit int
	logger          *zap.Logger
}

// NewResolver wires a resolver. latest and bundles may be nil, which disables
// the registry lookup and the bundle scan respectively.
func NewResolver(latest schemas.LatestVersionSource, bundles TextGetter, profile *sdk.Profile, bundleScanLimit int, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profile == nil {
		profile = sdk.DefaultProfile()
	}
	return &Resolver{
		latest:          latest,
		bundles:         bundles,
		profile:         profile,
		bundleScanLimit: bundleScanLimit,
		logger:          logger.Named("version"),
	}
}

// Detect walks the signals from most to least trusted and returns the first
// version found with its source, or "" when every signal is silent.
func (r *Resolver) Detect(ctx context.Context, s Signals) (string, schemas.VersionSource) {
	snap := s.Snapshot
	if snap != nil && snap.SDK != nil && snap.SDK.Version != "" {
		return snap.SDK.Version, schemas.VersionFromMetadata
	}
	if s.Analytics.Version != "" {
		return s.Analytics.Version, schemas.VersionFromAnalytics
	}
	if v := FirstFromURLs(snap.ScriptURLs()); v != "" {
		return v, schemas.VersionFromScriptURL
	}
	requestURLs := make([]string, 0, len(s.Requests))
	for _, req := range s.Requests {
		requestURLs = append(requestURLs, req.URL)
	}
	if v := FirstFromURLs(requestURLs); v != "" {
		return v, schemas.VersionFromRequest
	}
	if v := r.scanBundles(ctx, snap.ScriptURLs()); v != "" {
		return v, schemas.VersionFromBundle
	}
	return "", ""
}

func (r *Resolver) scanBundles(ctx context.Context, scripts []string) string {
	if r.bundles == nil || r.bundleScanLimit <= 0 {
		return ""
	}
	scanned := 0
	for _, src := range scripts {
		if !r.profile.IsSDKScript(src) {
			continue
		}
		if scanned >= r.bundleScanLimit {
			break
		}
		scanned++

		body, err := r.bundles.GetText(ctx, src)
		if err != nil {
			r.logger.Debug("Bundle fetch failed, skipping.", zap.String("url", src), zap.Error(err))
			continue
		}
		if v := FromBundle(body); v != "" {
			return v
		}
	}
	return ""
}

// Latest returns the latest published version, or nil when the lookup fails.
func (r *Resolver) Latest(ctx context.Context) *string {
	if r.latest == nil {
		return nil
	}
	v, err := r.latest.FetchLatestVersion(ctx)
	if err != nil {
		r.logger.Warn("Latest version lookup failed, continuing without it.", zap.Error(err))
		return nil
	}
	if _, ok := Parse(v); !ok {
		return nil
	}
	return &v
}

// Info assembles VersionInfo from a detection and a latest lookup result.
func Info(detected string, source schemas.VersionSource, latest *string) schemas.VersionInfo {
	info := schemas.VersionInfo{Latest: latest}
	if detected != "" {
		info.Detected = &detected
		info.DetectedFrom = source
	}
	return info
}
