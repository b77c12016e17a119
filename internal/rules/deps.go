package rules

import (
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/supabase/hostaudit/internal/command"
	"github.com/supabase/hostaudit/internal/environment"
	"github.com/supabase/hostaudit/internal/statelog"
)

// Deps is what every rule constructor receives. It is built once per run
// and shared read-only.
type Deps struct {
	Env     *environment.Environment
	Logger  *log.Logger
	Changes *statelog.Store
	Runner  command.Runner
	// Root prefixes every host path a rule touches. Empty means "/".
	Root string
	// RunID is stamped on every recorded event.
	RunID string
}

// Path maps an absolute host path under Root.
func (d *Deps) Path(p string) string {
	if d == nil || d.Root == "" {
		return p
	}
	return filepath.Join(d.Root, p)
}

// Identity is the part of a rule that names it.
type Identity interface {
	Name() string
	Number() int
}

// RuleLogger returns a logger carrying the rule's identity.
func (d *Deps) RuleLogger(r Identity) *log.Logger {
	if d == nil || d.Logger == nil {
		return log.Default().With("rule", r.Name(), "number", r.Number())
	}
	return d.Logger.With("rule", r.Name(), "number", r.Number())
}
