package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

// Engine runs every registered check against a payload.
type Engine struct {
	registry *Registry
	logger   *zap.Logger
}

// NewEngine creates an engine over registry.
func NewEngine(registry *Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{registry: registry, logger: logger.Named("check_engine")}
}

// Registry returns the registry the engine evaluates.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Evaluate runs all checks in registration order and returns one result per
// check. Checks never short-circuit each other. A check that panics or returns
// an unknown severity is reported as skipped. Evaluation stops early only when
// ctx is cancelled, in which case the remaining checks are skipped.
func (e *Engine) Evaluate(ctx context.Context, payload *schemas.ScanPayload) []schemas.CheckResult {
	defs := e.registry.Definitions()
	results := make([]schemas.CheckResult, 0, len(defs))

	for _, def := range defs {
		var outcome schemas.CheckOutcome
		if err := ctx.Err(); err != nil {
			outcome = Skip("Check not evaluated", WithDetail("evaluation cancelled: %v", err))
		} else {
			outcome = e.run(def, payload)
		}
		results = append(results, schemas.CheckResult{
			ID:           def.ID,
			Category:     string(def.Category),
			CheckOutcome: outcome,
		})
	}
	return results
}

func (e *Engine) run(def Definition, payload *schemas.ScanPayload) (outcome schemas.CheckOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Check panicked, reporting it as skipped.",
				zap.String("check_id", def.ID),
				zap.Any("panic", r),
			)
			outcome = Skip("Check could not be evaluated", WithDetail("internal error: %v", r))
		}
	}()

	if payload == nil {
		return Skip("No scan data available")
	}

	outcome = def.Evaluate(payload)
	if !outcome.Severity.Valid() {
		e.logger.Error("Check returned an unknown severity.",
			zap.String("check_id", def.ID),
			zap.String("severity", string(outcome.Severity)),
		)
		return Skip("Check could not be evaluated", WithDetail("unknown severity %q", string(outcome.Severity)))
	}
	return outcome
}
