package rules

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/supabase/hostaudit/internal/statelog"
)

// Constructor builds a rule for one run.
type Constructor func(deps *Deps) Rule

// Registry holds rule constructors. Identity checks happen in Build, so a
// broken catalog is reported before any rule runs instead of at init time.
type Registry struct {
	mu    sync.RWMutex
	ctors []Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a constructor.
func (reg *Registry) Add(ctor Constructor) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.ctors = append(reg.ctors, ctor)
}

// Count returns the number of registered constructors.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.ctors)
}

// Build instantiates every rule and validates that numbers and names are
// unique across the whole catalog, regardless of applicability. Rules come
// back sorted by number.
func (reg *Registry) Build(deps *Deps) ([]Rule, error) {
	reg.mu.RLock()
	ctors := make([]Constructor, len(reg.ctors))
	copy(ctors, reg.ctors)
	reg.mu.RUnlock()

	rules := make([]Rule, 0, len(ctors))
	for _, ctor := range ctors {
		rules = append(rules, ctor(deps))
	}
	if err := ValidateCatalog(rules); err != nil {
		return nil, err
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Number() < rules[j].Number()
	})
	return rules, nil
}

// ValidateCatalog checks rule identities.
func ValidateCatalog(rules []Rule) error {
	byNumber := make(map[int]string, len(rules))
	byName := make(map[string]int, len(rules))

	for _, r := range rules {
		if r.Number() <= 0 {
			return errors.Wrapf(ErrInvalidCatalog, "rule %q has non-positive number %d", r.Name(), r.Number())
		}
		if r.Number() > statelog.MaxRule {
			return errors.Wrapf(ErrInvalidCatalog, "rule %q number %d is above %d", r.Name(), r.Number(), statelog.MaxRule)
		}
		if r.Name() == "" {
			return errors.Wrapf(ErrInvalidCatalog, "rule %d has no name", r.Number())
		}
		if other, ok := byNumber[r.Number()]; ok {
			return errors.Wrapf(ErrDuplicateRule, "rule number %d used by %q and %q", r.Number(), other, r.Name())
		}
		if other, ok := byName[r.Name()]; ok {
			return errors.Wrapf(ErrDuplicateRule, "rule name %q used by %d and %d", r.Name(), other, r.Number())
		}
		byNumber[r.Number()] = r.Name()
		byName[r.Name()] = r.Number()
	}
	return nil
}

var defaultRegistry = NewRegistry()

// Register adds a rule constructor to the default registry. Rule packages
// call it from init.
func Register(ctor Constructor) {
	defaultRegistry.Add(ctor)
}

// Default returns the registry that Register populates.
func Default() *Registry {
	return defaultRegistry
}

// Count returns the number of rules in the default registry.
func Count() int {
	return defaultRegistry.Count()
}
