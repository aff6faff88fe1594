// core/core_test.go
package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

func constant(o schemas.CheckOutcome) RuleFunc {
	return func(*schemas.ScanPayload) schemas.CheckOutcome { return o }
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{ID: "a", Category: CategorySDK, Evaluate: constant(Pass("ok"))}))

	err := reg.Register(Definition{ID: "a", Category: CategoryAuth, Evaluate: constant(Pass("ok"))})
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrDuplicateCheck), "identifiers are unique across categories")
	assert.Contains(t, err.Error(), `category "sdk"`)

	err = reg.Register(
		Definition{ID: "b", Category: CategoryAuth, Evaluate: constant(Pass("ok"))},
		Definition{ID: "b", Category: CategoryLocale, Evaluate: constant(Pass("ok"))},
	)
	assert.ErrorIs(t, err, schemas.ErrDuplicateCheck)
	_, found := reg.Lookup("b")
	assert.False(t, found, "a rejected batch registers nothing")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryValidatesDefinitions(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(Definition{Category: CategorySDK, Evaluate: constant(Pass("ok"))}))
	assert.Error(t, reg.Register(Definition{ID: "x", Evaluate: constant(Pass("ok"))}))
	assert.Error(t, reg.Register(Definition{ID: "x", Category: CategorySDK}))
	assert.Panics(t, func() {
		reg.MustRegister(Definition{ID: ""})
	})
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryPreservesOrder(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		Definition{ID: "first", Category: CategorySDK, Evaluate: constant(Pass("1"))},
		Definition{ID: "second", Category: CategoryAuth, Evaluate: constant(Pass("2"))},
	)
	reg.MustRegister(Definition{ID: "third", Category: CategorySDK, Evaluate: constant(Pass("3"))})

	var ids []string
	for _, d := range reg.Definitions() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, ids)
}

func TestEngineStampsIdentity(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		Definition{ID: "auth-country-code", Category: CategoryAuth, Evaluate: constant(Fail("Country code missing", WithRemediation("Pass countryCode")))},
		Definition{ID: "version-detected", Category: CategoryVersion, Evaluate: constant(Info("Detected 5.67.0"))},
	)
	engine := NewEngine(reg, zaptest.NewLogger(t))

	results := engine.Evaluate(context.Background(), &schemas.ScanPayload{})
	require.Len(t, results, 2)
	assert.Equal(t, "auth-country-code", results[0].ID)
	assert.Equal(t, "auth", results[0].Category)
	assert.Equal(t, schemas.SeverityFail, results[0].Severity)
	assert.Equal(t, "Pass countryCode", results[0].Remediation)
	assert.Equal(t, "version", results[1].Category)
}

func TestEngineRunsEveryRuleIndependently(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	counting := func(*schemas.ScanPayload) schemas.CheckOutcome {
		calls++
		return Pass("ok")
	}
	reg.MustRegister(
		Definition{ID: "one", Category: CategorySDK, Evaluate: counting},
		Definition{ID: "boom", Category: CategorySDK, Evaluate: func(p *schemas.ScanPayload) schemas.CheckOutcome {
			panic("rule exploded")
		}},
		Definition{ID: "bogus", Category: CategorySDK, Evaluate: constant(schemas.CheckOutcome{Severity: "error", Title: "?"})},
		Definition{ID: "two", Category: CategorySDK, Evaluate: counting},
	)

	results := NewEngine(reg, zaptest.NewLogger(t)).Evaluate(context.Background(), &schemas.ScanPayload{})
	require.Len(t, results, 4)
	assert.Equal(t, 2, calls)
	assert.Equal(t, schemas.SeveritySkip, results[1].Severity, "a panicking rule is skipped")
	assert.Contains(t, results[1].Detail, "internal error")
	assert.Equal(t, schemas.SeveritySkip, results[2].Severity, "an unknown severity is skipped")
	assert.Equal(t, schemas.SeverityPass, results[3].Severity)
}

func TestEngineHonoursCancellationAndNilPayload(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Definition{ID: "one", Category: CategorySDK, Evaluate: constant(Pass("ok"))})
	engine := NewEngine(reg, nil)

	results := engine.Evaluate(context.Background(), nil)
	require.Len(t, results, 1)
	assert.Equal(t, schemas.SeveritySkip, results[0].Severity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results = engine.Evaluate(ctx, &schemas.ScanPayload{})
	require.Len(t, results, 1)
	assert.Equal(t, schemas.SeveritySkip, results[0].Severity)
	assert.Contains(t, results[0].Detail, "cancelled")
}

func TestOutcomeBuilders(t *testing.T) {
	o := Warn("Legacy key", WithDetail("key starts with %q", "pub.v2."), WithRemediation("Use a client key"), WithDocs("https://docs.example/keys"))
	assert.Equal(t, schemas.SeverityWarn, o.Severity)
	assert.Equal(t, `key starts with "pub.v2."`, o.Detail)
	assert.Equal(t, "Use a client key", o.Remediation)
	assert.Equal(t, "https://docs.example/keys", o.DocsURL)

	for sev, fn := range map[schemas.Severity]func(string, ...OutcomeOption) schemas.CheckOutcome{
		schemas.SeverityPass: Pass, schemas.SeverityFail: Fail, schemas.SeverityNotice: Notice,
		schemas.SeverityInfo: Info, schemas.SeveritySkip: Skip,
	} {
		assert.Equal(t, sev, fn("t").Severity)
	}
}
