// Package runner drives a report, fix or undo pass over the rule catalog.
package runner

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/supabase/hostaudit/internal/applicability"
	"github.com/supabase/hostaudit/internal/config"
	"github.com/supabase/hostaudit/internal/rules"
	"github.com/supabase/hostaudit/pkg/types"
)

// ErrFatal marks a problem found before any rule ran. Nothing was changed.
var ErrFatal = errors.New("fatal")

// Progress is passed to Options.Progress before each rule phase starts.
type Progress struct {
	Rule  string
	Phase types.Phase
	Index int
	Total int
}

// Options configures a run.
type Options struct {
	Mode types.Mode
	// Rules limits the run to these rule names or numbers. Empty means all.
	Rules []string
	// Config is the overlay applied to every selected rule's items.
	Config *config.Document
	// Progress, when set, is called before each rule phase.
	Progress func(Progress)
}

// Runner orchestrates rules over one environment.
type Runner struct {
	registry *rules.Registry
	deps     *rules.Deps
	logger   *log.Logger
}

// New creates a runner. A nil registry uses the default registry that rule
// packages register into.
func New(reg *rules.Registry, deps *rules.Deps) *Runner {
	if reg == nil {
		reg = rules.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	if deps.RunID == "" {
		deps.RunID = uuid.NewString()
	}
	return &Runner{registry: reg, deps: deps, logger: logger}
}

// RunID returns the id stamped on this run's events.
func (r *Runner) RunID() string { return r.deps.RunID }

// Catalog builds every registered rule and validates their identities.
func (r *Runner) Catalog() ([]rules.Rule, error) {
	catalog, err := r.registry.Build(r.deps)
	if err != nil {
		return nil, errors.Wrapf(ErrFatal, "rule catalog: %v", err)
	}
	return catalog, nil
}

// Select returns the catalog rules that apply to this host and pass the
// filter, in execution order. Rules with invalid predicates are left out
// and reported as warnings.
func (r *Runner) Select(catalog []rules.Rule, filter []string) ([]rules.Rule, []string, error) {
	var warnings []string
	want, err := matchFilter(catalog, filter)
	if err != nil {
		return nil, nil, err
	}

	var selected []rules.Rule
	for _, rule := range catalog {
		if want != nil && !want[rule.Number()] {
			continue
		}
		pred := rule.Applicable()
		if err := pred.Validate(); err != nil {
			warnings = append(warnings, fmt.Sprintf("rule %s(%d) is never applicable: %v", rule.Name(), rule.Number(), err))
			continue
		}
		if r.deps.Env == nil || !applicability.Matches(pred, r.deps.Env) {
			continue
		}
		selected = append(selected, rule)
	}

	dangling := rules.PrerequisiteGraph(selected).Dangling()
	for _, rule := range sortedKeys(dangling) {
		for _, m := range dangling[rule] {
			warnings = append(warnings, fmt.Sprintf("rule %d lists prerequisite %d, which is not selected", rule, m))
		}
	}

	ordered, err := rules.Order(selected)
	if err != nil {
		return nil, warnings, errors.Wrapf(ErrFatal, "%v", err)
	}
	return ordered, warnings, nil
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// matchFilter resolves rule names or numbers. nil means no filter.
func matchFilter(catalog []rules.Rule, filter []string) (map[int]bool, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	want := make(map[int]bool, len(filter))
	for _, f := range filter {
		f = strings.TrimSpace(f)
		found := false
		for _, rule := range catalog {
			if strings.EqualFold(rule.Name(), f) || strconv.Itoa(rule.Number()) == f {
				want[rule.Number()] = true
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Wrapf(ErrFatal, "unknown rule %q", f)
		}
	}
	return want, nil
}

// Run executes one pass. Per-rule failures are recorded in the result and
// never stop the run. An interrupt stops it immediately and returns the
// partial result together with an error wrapping rules.ErrAborted.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{
		RunID:   r.deps.RunID,
		Mode:    opts.Mode,
		Started: time.Now(),
	}
	if env := r.deps.Env; env != nil {
		res.Hostname = env.Hostname()
		res.OS = env.OSType() + " " + env.OSVersion()
	}
	if r.deps.Changes != nil {
		res.StatePath = r.deps.Changes.Path()
	}
	defer func() {
		res.Finished = time.Now()
		res.summarize()
	}()

	catalog, err := r.Catalog()
	if err != nil {
		return res, err
	}
	selected, warnings, err := r.Select(catalog, opts.Rules)
	res.Warnings = append(res.Warnings, warnings...)
	if err != nil {
		return res, err
	}
	for _, w := range warnings {
		r.logger.Warn(w)
	}

	for _, rule := range selected {
		opts.Config.Apply(rule.Name(), rule.ConfigItems(), r.logger)
	}

	r.logger.Info("starting run", "mode", opts.Mode.String(), "rules", len(selected), "run_id", res.RunID)

	if opts.Mode == types.ModeUndo {
		err = r.undo(ctx, selected, opts, res)
	} else {
		err = r.reportAndFix(ctx, selected, opts, res)
	}
	if errors.Is(err, rules.ErrAborted) {
		res.Aborted = true
		r.logger.Warn("run aborted", "err", err)
	}
	return res, err
}

func (r *Runner) progress(opts Options, rule rules.Rule, phase types.Phase, i, total int) {
	if opts.Progress != nil {
		opts.Progress(Progress{Rule: rule.Name(), Phase: phase, Index: i, Total: total})
	}
}

func newRuleResult(rule rules.Rule) RuleResult {
	return RuleResult{
		Number:    rule.Number(),
		Name:      rule.Name(),
		Mandatory: rule.Mandatory(),
		ReportOK:  true,
	}
}

func capture(rr *RuleResult, rule rules.Rule, phase types.Phase, summary string) {
	rr.Details = append(rr.Details, rules.FormatResults(rule, phase, summary))
	if err := rule.Status().Err(); err != nil {
		msg := err.Error()
		if n := len(rr.Errors); n == 0 || rr.Errors[n-1] != msg {
			rr.Errors = append(rr.Errors, msg)
		}
	}
}

// markAborted flags the rule that was running when the run stopped.
func markAborted(rr *RuleResult, err error) {
	rr.Aborted = true
	rr.Errors = append(rr.Errors, err.Error())
}

func complianceSummary(compliant bool) string {
	if compliant {
		return "compliant"
	}
	return "not compliant"
}

func (r *Runner) reportAndFix(ctx context.Context, selected []rules.Rule, opts Options, res *Result) error {
	total := len(selected)
	for i, rule := range selected {
		rr := newRuleResult(rule)

		r.progress(opts, rule, types.PhaseReport, i, total)
		compliant, err := rules.RunReport(ctx, rule, r.deps)
		if err != nil {
			rr.ReportOK = false
			markAborted(&rr, err)
			res.Rules = append(res.Rules, rr)
			return err
		}
		rr.Compliant = compliant
		rr.FinalCompliant = compliant
		rr.ReportOK = rule.Status().Success
		capture(&rr, rule, types.PhaseReport, complianceSummary(compliant))

		if opts.Mode == types.ModeFix && !compliant && rr.ReportOK {
			r.progress(opts, rule, types.PhaseFix, i, total)
			outcome, err := rules.RunFix(ctx, rule, r.deps)
			rr.Fix = outcome
			capture(&rr, rule, types.PhaseFix, outcome.String())
			if err != nil {
				markAborted(&rr, err)
				res.Rules = append(res.Rules, rr)
				return err
			}

			if outcome == types.OutcomeSuccess {
				r.progress(opts, rule, types.PhaseReport, i, total)
				final, err := rules.RunReport(ctx, rule, r.deps)
				if err != nil {
					markAborted(&rr, err)
					res.Rules = append(res.Rules, rr)
					return err
				}
				rr.FinalCompliant = final
				if !rule.Status().Success {
					rr.ReportOK = false
				}
				capture(&rr, rule, types.PhaseReport, complianceSummary(final))
			}
		}
		res.Rules = append(res.Rules, rr)
	}
	return nil
}

// undo reverses rules that have recorded events, last executed first.
func (r *Runner) undo(ctx context.Context, selected []rules.Rule, opts Options, res *Result) error {
	if r.deps.Changes == nil {
		return errors.Wrap(ErrFatal, "undo needs the change log")
	}
	numbers, err := r.deps.Changes.RulesWithEvents(ctx)
	if err != nil {
		return errors.Wrapf(ErrFatal, "read change log: %v", err)
	}
	pending := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		pending[n] = true
	}

	var todo []rules.Rule
	for i := len(selected) - 1; i >= 0; i-- {
		if pending[selected[i].Number()] {
			todo = append(todo, selected[i])
			delete(pending, selected[i].Number())
		}
	}
	for _, n := range sortedKeys(pending) {
		msg := fmt.Sprintf("rule %d has recorded changes but is not selected on this host", n)
		res.Warnings = append(res.Warnings, msg)
		r.logger.Warn(msg)
	}

	for i, rule := range todo {
		rr := newRuleResult(rule)
		r.progress(opts, rule, types.PhaseUndo, i, len(todo))
		outcome, err := rules.RunUndo(ctx, rule, r.deps)
		rr.Undo = outcome
		capture(&rr, rule, types.PhaseUndo, outcome.String())
		if err != nil {
			markAborted(&rr, err)
			res.Rules = append(res.Rules, rr)
			return err
		}
		res.Rules = append(res.Rules, rr)
	}
	return nil
}
