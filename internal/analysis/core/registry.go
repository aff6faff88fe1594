// Package core holds the check registry and the engine that evaluates every
// registered check against one scan payload.
package core

import (
	"fmt"
	"sync"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

// Category groups related checks.
type Category string

const (
	CategorySDK       Category = "sdk"
	CategoryAuth      Category = "auth"
	CategoryPayment   Category = "payment"
	CategoryLocale    Category = "locale"
	CategoryVersion   Category = "version"
	CategorySecurity  Category = "security"
	CategoryNetwork   Category = "network"
	CategoryAnalytics Category = "analytics"
)

// RuleFunc evaluates one check. It must be deterministic and free of side
// effects, and return skip when the data it needs is absent.
type RuleFunc func(p *schemas.ScanPayload) schemas.CheckOutcome

// Definition describes one registered check.
type Definition struct {
	ID          string
	Category    Category
	Description string
	Evaluate    RuleFunc
}

// Registry is an ordered set of check definitions with unique identifiers.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	defs  []Definition
	index map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds definitions in order. Registration is all-or-nothing: if any
// definition is invalid or its identifier is already taken, in any category,
// nothing is added and the error wraps schemas.ErrDuplicateCheck for
// duplicates.
func (r *Registry) Register(defs ...Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("check definition has an empty identifier")
		}
		if d.Category == "" {
			return fmt.Errorf("check %q has no category", d.ID)
		}
		if d.Evaluate == nil {
			return fmt.Errorf("check %q has no evaluation function", d.ID)
		}
		if i, taken := r.index[d.ID]; taken {
			return fmt.Errorf("%w: %q already registered in category %q", schemas.ErrDuplicateCheck, d.ID, r.defs[i].Category)
		}
		if _, taken := batch[d.ID]; taken {
			return fmt.Errorf("%w: %q appears twice in one registration", schemas.ErrDuplicateCheck, d.ID)
		}
		batch[d.ID] = struct{}{}
	}

	for _, d := range defs {
		r.index[d.ID] = len(r.defs)
		r.defs = append(r.defs, d)
	}
	return nil
}

// MustRegister is Register that panics on error. For static rule tables.
func (r *Registry) MustRegister(defs ...Definition) {
	if err := r.Register(defs...); err != nil {
		panic(err)
	}
}

// Definitions returns the registered checks in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Lookup returns the definition with the given identifier.
func (r *Registry) Lookup(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Len reports how many checks are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
