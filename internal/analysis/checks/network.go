package checks

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
)

// maxListedFailures caps how many failing URLs are spelled out in a detail.
const maxListedFailures = 5

func (r rules) networkSDKErrors(p *schemas.ScanPayload) schemas.CheckOutcome {
	requests := r.sdkRequests(p)
	if len(requests) == 0 {
		return core.Skip("No SDK requests captured")
	}
	// Requests captured without a response carry status 0 and prove nothing.
	var answered int
	var failed []string
	for _, req := range requests {
		if req.StatusCode <= 0 {
			continue
		}
		answered++
		if req.StatusCode >= 400 {
			failed = append(failed, fmt.Sprintf("%d %s", req.StatusCode, req.URL))
		}
	}
	if answered == 0 {
		return core.Skip("No SDK response status observed")
	}
	if len(failed) == 0 {
		return core.Pass("SDK requests succeeded", core.WithDetail("%d requests checked.", answered))
	}
	listed := failed
	if len(listed) > maxListedFailures {
		listed = listed[:maxListedFailures]
	}
	return core.Fail("SDK requests failed",
		core.WithDetail("%d of %d SDK requests failed: %s", len(failed), answered, strings.Join(listed, "; ")),
		core.WithRemediation("Check the client key, allowed origins and environment for the failing endpoints."),
		core.WithDocs(docsTroubleshoot))
}

func analyticsFlavor(p *schemas.ScanPayload) schemas.CheckOutcome {
	a := p.Analytics
	if a.IsEmpty() {
		return core.Skip("No SDK analytics observed")
	}
	flavor := a.Flavor
	if flavor == "" {
		flavor = "unknown"
	}
	var parts []string
	if a.Channel != "" {
		parts = append(parts, "channel "+a.Channel)
	}
	if a.Platform != "" {
		parts = append(parts, "platform "+a.Platform)
	}
	if a.BuildType != "" {
		parts = append(parts, "build "+a.BuildType)
	}
	if len(parts) == 0 {
		return core.Info("Integration flavor: " + flavor)
	}
	return core.Info("Integration flavor: "+flavor, core.WithDetail("%s.", strings.Join(parts, ", ")))
}
