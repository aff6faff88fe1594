package checks

import (
	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
	"github.com/xkilldash9x/checkout-inspector/internal/version"
)

func versionDetected(p *schemas.ScanPayload) schemas.CheckOutcome {
	detected := p.Version.DetectedString()
	if detected == "" {
		return core.Notice("SDK version unknown",
			core.WithDetail("No metadata, analytics, script URL or bundle revealed the SDK version."),
			core.WithRemediation("Load the SDK from a versioned URL so its version can be verified."))
	}
	return core.Info("SDK version "+detected, core.WithDetail("Detected from %s.", p.Version.DetectedFrom))
}

func versionLatest(p *schemas.ScanPayload) schemas.CheckOutcome {
	detected, latest := p.Version.DetectedString(), p.Version.LatestString()
	releaseNotes := core.WithDocs(docsReleaseNotes + "?integration_type=web&version=" + latest)

	switch version.Assess(detected, latest) {
	case version.DriftUpToDate:
		return core.Pass("SDK is up to date", core.WithDetail("Running %s, latest is %s.", detected, latest))
	case version.DriftPatch:
		return core.Notice("Patch release available",
			core.WithDetail("Running %s, latest is %s.", detected, latest),
			core.WithRemediation("Upgrade to "+latest+" to pick up fixes."),
			releaseNotes)
	case version.DriftMinor:
		return core.Warn("Minor release available",
			core.WithDetail("Running %s, latest is %s.", detected, latest),
			core.WithRemediation("Upgrade to "+latest+"; minor releases are backwards compatible."),
			releaseNotes)
	case version.DriftMajor:
		return core.Warn("Major release available",
			core.WithDetail("Running %s, latest is %s.", detected, latest),
			core.WithRemediation("Plan a migration to "+latest+" following the upgrade guide."),
			core.WithDocs(docsUpgrade))
	}
	return core.Skip("Version comparison not possible",
		core.WithDetail("detected=%q latest=%q", detected, latest))
}
