package results

import (
	"sort"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

// severityOrder ranks severities for presentation, most actionable first.
var severityOrder = map[schemas.Severity]int{
	schemas.SeverityFail:   1,
	schemas.SeverityWarn:   2,
	schemas.SeverityNotice: 3,
	schemas.SeverityInfo:   4,
	schemas.SeverityPass:   5,
	schemas.SeveritySkip:   6,
}

// Prioritize returns a copy of checks ordered by severity. Checks of equal
// severity keep their registration order.
func Prioritize(checks []schemas.CheckResult) []schemas.CheckResult {
	out := append([]schemas.CheckResult(nil), checks...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Severity) < rank(out[j].Severity)
	})
	return out
}

func rank(s schemas.Severity) int {
	if r, ok := severityOrder[s]; ok {
		return r
	}
	return 99
}

// Actionable returns the fail, warn and notice results in priority order.
func Actionable(checks []schemas.CheckResult) []schemas.CheckResult {
	var out []schemas.CheckResult
	for _, c := range Prioritize(checks) {
		switch c.Severity {
		case schemas.SeverityFail, schemas.SeverityWarn, schemas.SeverityNotice:
			out = append(out, c)
		}
	}
	return out
}

// Summary counts results per severity. The "total" key holds the number of
// checks evaluated.
func Summary(checks []schemas.CheckResult) map[string]int {
	summary := make(map[string]int)
	summary["total"] = len(checks)
	for _, c := range checks {
		summary[string(c.Severity)]++
	}
	return summary
}

// ByCategory groups results by category, preserving order within each group.
func ByCategory(checks []schemas.CheckResult) map[string][]schemas.CheckResult {
	out := make(map[string][]schemas.CheckResult)
	for _, c := range checks {
		out[c.Category] = append(out[c.Category], c)
	}
	return out
}
