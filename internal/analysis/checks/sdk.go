package checks

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
	"github.com/xkilldash9x/checkout-inspector/internal/version"
)

func (r rules) sdkDetected(p *schemas.ScanPayload) schemas.CheckOutcome {
	if !r.sdkPresent(p) {
		return core.Fail("Payment SDK not found",
			core.WithDetail("No SDK script, metadata, configuration or SDK network traffic was observed on %s.", p.PageURL),
			core.WithRemediation("Load the SDK on the checkout page and make sure it initialises before scanning."),
			core.WithDocs(docsWebComponents))
	}
	var evidence []string
	if p.Snapshot.SDK != nil {
		evidence = append(evidence, "runtime metadata")
	}
	if len(r.sdkScripts(p)) > 0 {
		evidence = append(evidence, "script tags")
	}
	if p.Snapshot.HasConfig() {
		evidence = append(evidence, "configuration")
	}
	if len(r.sdkRequests(p)) > 0 {
		evidence = append(evidence, "network requests")
	}
	return core.Pass("Payment SDK detected", core.WithDetail("Found via %s.", strings.Join(evidence, ", ")))
}

func (r rules) sdkConfigFound(p *schemas.ScanPayload) schemas.CheckOutcome {
	if !r.sdkPresent(p) {
		return core.Skip("SDK not present")
	}
	if !p.Snapshot.HasConfig() {
		return core.Notice("SDK configuration could not be read",
			core.WithDetail("The SDK is on the page but its configuration was not exposed before the extraction deadline."),
			core.WithRemediation("Open the checkout step that mounts the payment form and scan again."))
	}
	var mounted []string
	for _, c := range p.Snapshot.ComponentConfigs {
		if c.Type != "" {
			mounted = append(mounted, c.Type)
		}
	}
	if len(mounted) == 0 {
		return core.Pass("SDK configuration found")
	}
	return core.Pass("SDK configuration found", core.WithDetail("Mounted components: %s.", strings.Join(mounted, ", ")))
}

func (r rules) sdkSingleInstance(p *schemas.ScanPayload) schemas.CheckOutcome {
	scripts := r.sdkScripts(p)
	if len(scripts) == 0 {
		return core.Skip("No SDK scripts found")
	}
	versions := make(map[string]struct{})
	for _, s := range scripts {
		if v := version.FromURL(s); v != "" {
			versions[v] = struct{}{}
		}
	}
	if len(versions) > 1 {
		list := make([]string, 0, len(versions))
		for v := range versions {
			list = append(list, v)
		}
		sort.Strings(list)
		return core.Warn("Multiple SDK versions loaded",
			core.WithDetail("Versions %s are loaded on the same page.", strings.Join(list, ", ")),
			core.WithRemediation("Load a single SDK bundle; multiple copies compete for the same global and double the payload."),
			core.WithDocs(docsWebComponents))
	}
	return core.Pass("Single SDK instance loaded")
}
