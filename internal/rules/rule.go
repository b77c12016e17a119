package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/supabase/hostaudit/internal/applicability"
	"github.com/supabase/hostaudit/internal/config"
	"github.com/supabase/hostaudit/internal/statelog"
	"github.com/supabase/hostaudit/pkg/types"
)

// Rule defines the interface that all rules must implement.
//
// Report must not change the system. Fix is only called after Report found
// the host non-compliant, and its events have already been cleared. Undo
// reverses whatever Fix recorded.
type Rule interface {
	Number() int
	Name() string
	Description() string
	Applicable() applicability.Predicate
	Mandatory() bool
	RootRequired() bool
	AuditOnly() bool
	Guidance() []string
	Prerequisites() []int
	HelpText() string

	// ConfigItems returns every item the rule reads.
	ConfigItems() []*config.Item
	// EnablingItem is the item that gates Fix, or nil if none.
	EnablingItem() *config.Item

	Report(ctx context.Context) (bool, error)
	Fix(ctx context.Context) (bool, error)
	Undo(ctx context.Context) (bool, error)

	Status() *Status
}

// Status is the per-run mutable state of a rule.
type Status struct {
	Compliant bool
	Success   bool
	Phase     types.Phase
	Errors    []error

	results []string
	ids     *statelog.IDs
}

// Begin starts a phase and drops the previous phase's results.
func (s *Status) Begin(phase types.Phase) {
	s.Phase = phase
	s.results = s.results[:0]
}

// AddResult appends a line to the detailed results.
func (s *Status) AddResult(format string, args ...any) {
	s.results = append(s.results, fmt.Sprintf(format, args...))
}

// Detailed returns the accumulated results of the current phase.
func (s *Status) Detailed() string {
	return strings.Join(s.results, "\n")
}

// Fail records err against the rule and marks it unsuccessful.
func (s *Status) Fail(err error) {
	s.Success = false
	s.Errors = append(s.Errors, err)
}

// Err returns the last recorded error, if any.
func (s *Status) Err() error {
	if len(s.Errors) == 0 {
		return nil
	}
	return s.Errors[len(s.Errors)-1]
}

func (s *Status) resetEventIDs(rule int) {
	s.ids = statelog.NewIDs(rule)
}

func (s *Status) nextEventID(rule int) string {
	if s.ids == nil {
		s.ids = statelog.NewIDs(rule)
	}
	return s.ids.Next()
}

// FormatResults renders the header line shown for every phase.
func FormatResults(r Rule, phase types.Phase, summary string) string {
	header := fmt.Sprintf("Rule %s(%d) %s results: %s", r.Name(), r.Number(), phase, summary)
	if d := r.Status().Detailed(); d != "" {
		return header + "\n" + d
	}
	return header
}

// BaseRule provides a partial implementation of Rule that can be embedded.
// Embedders supply Report and Fix; Undo defaults to reversing the recorded
// events.
type BaseRule struct {
	RuleNumber        int
	RuleName          string
	RuleDescription   string
	RuleApplicable    applicability.Predicate
	RuleMandatory     bool
	RuleRootRequired  bool
	RuleAuditOnly     bool
	RuleGuidance      []string
	RulePrerequisites []int
	RuleHelpText      string
	RuleItems         []*config.Item
	RuleEnablingItem  *config.Item

	Deps *Deps

	status Status
}

func (r *BaseRule) Number() int                         { return r.RuleNumber }
func (r *BaseRule) Name() string                        { return r.RuleName }
func (r *BaseRule) Description() string                 { return r.RuleDescription }
func (r *BaseRule) Applicable() applicability.Predicate { return r.RuleApplicable }
func (r *BaseRule) Mandatory() bool                     { return r.RuleMandatory }
func (r *BaseRule) RootRequired() bool                  { return r.RuleRootRequired }
func (r *BaseRule) AuditOnly() bool                     { return r.RuleAuditOnly }
func (r *BaseRule) Guidance() []string                  { return r.RuleGuidance }
func (r *BaseRule) Prerequisites() []int                { return r.RulePrerequisites }
func (r *BaseRule) HelpText() string                    { return r.RuleHelpText }
func (r *BaseRule) EnablingItem() *config.Item          { return r.RuleEnablingItem }
func (r *BaseRule) Status() *Status                     { return &r.status }

// ConfigItems returns the declared items, with the enabling item first.
func (r *BaseRule) ConfigItems() []*config.Item {
	items := make([]*config.Item, 0, len(r.RuleItems)+1)
	if r.RuleEnablingItem != nil {
		items = append(items, r.RuleEnablingItem)
	}
	for _, it := range r.RuleItems {
		if it != r.RuleEnablingItem {
			items = append(items, it)
		}
	}
	return items
}

// Undo reverses the rule's recorded events.
func (r *BaseRule) Undo(ctx context.Context) (bool, error) {
	return r.UndoEvents(ctx)
}

// NoUndo is used by rules whose fix must not be reversed. It still reports
// success and says why nothing happened.
func (r *BaseRule) NoUndo(reason string) (bool, error) {
	r.status.AddResult("no undo available: %s", reason)
	r.status.Success = true
	return true, nil
}

// Path maps an absolute host path under the configured root.
func (r *BaseRule) Path(p string) string {
	return r.Deps.Path(p)
}

// NextEventID issues the next event id for this rule's current fix pass.
func (r *BaseRule) NextEventID() string {
	return r.status.nextEventID(r.RuleNumber)
}

// EnableItem builds the standard bool item that gates a rule's fix.
func EnableItem(rule int, key string, instructions string) *config.Item {
	return config.MustItem(config.Spec{
		Key:          key,
		Rule:         rule,
		Kind:         config.KindBool,
		Default:      true,
		Simple:       true,
		Instructions: instructions,
	})
}
