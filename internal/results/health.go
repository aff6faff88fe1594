// Package results reduces check results into a health score and an ordered
// summary for presentation.
package results

import (
	"math"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

// ComputeHealth aggregates check results into a score and tier. Only pass,
// fail and warn results are scoreable; the score is the rounded share of
// passing scoreable results and is 100 when nothing is scoreable. The tier
// comes from the raw counts: any failure is critical, otherwise any warning
// means issues.
func ComputeHealth(checks []schemas.CheckResult) schemas.HealthScore {
	var h schemas.HealthScore
	for _, c := range checks {
		switch c.Severity {
		case schemas.SeverityPass:
			h.Passing++
		case schemas.SeverityFail:
			h.Failing++
		case schemas.SeverityWarn:
			h.Warnings++
		}
	}
	h.Total = h.Passing + h.Failing + h.Warnings

	if h.Total == 0 {
		h.Score = 100
	} else {
		h.Score = int(math.Round(100 * float64(h.Passing) / float64(h.Total)))
	}

	switch {
	case h.Failing > 0:
		h.Tier = schemas.TierCritical
	case h.Warnings > 0:
		h.Tier = schemas.TierIssues
	default:
		h.Tier = schemas.TierExcellent
	}
	return h
}
