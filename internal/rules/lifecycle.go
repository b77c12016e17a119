package rules

import (
	"context"
	"runtime/debug"

	"github.com/pkg/errors"

	"github.com/supabase/hostaudit/pkg/types"
)

type phaseFunc func(ctx context.Context) (bool, error)

// guard runs one lifecycle method. Rule errors and panics come back as
// ruleErr; interruption comes back as abort and must be propagated.
func guard(ctx context.Context, r Rule, phase types.Phase, fn phaseFunc) (ok bool, ruleErr error, abort error) {
	if err := ctx.Err(); err != nil {
		return false, nil, errors.Wrapf(ErrAborted, "before %s %s: %v", r.Name(), phase, err)
	}

	defer func() {
		if p := recover(); p != nil {
			ok = false
			ruleErr = errors.Errorf("panic during %s: %v\n%s", phase, p, debug.Stack())
		}
	}()

	ok, err := fn(ctx)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrAborted) {
		return ok, nil, errors.Wrapf(ErrAborted, "during %s %s", r.Name(), phase)
	}
	return ok, err, nil
}

func recordFailure(r Rule, deps *Deps, phase types.Phase, err error) {
	st := r.Status()
	st.Fail(err)
	st.AddResult("%+v", err)
	deps.RuleLogger(r).Error("rule failed", "phase", phase.String(), "err", err)
}

// RunReport calls Report. A failing or panicking rule keeps its previous
// compliance value, is marked unsuccessful and has the trace appended to
// its results. Only an abort is returned as an error.
func RunReport(ctx context.Context, r Rule, deps *Deps) (bool, error) {
	st := r.Status()
	st.Begin(types.PhaseReport)
	st.Success = true

	compliant, ruleErr, abort := guard(ctx, r, types.PhaseReport, r.Report)
	if abort != nil {
		return st.Compliant, abort
	}
	if ruleErr != nil {
		recordFailure(r, deps, types.PhaseReport, ruleErr)
		return st.Compliant, nil
	}
	st.Compliant = compliant
	deps.RuleLogger(r).Debug("report finished", "compliant", compliant)
	return compliant, nil
}

// FixBlocked returns why Fix must not run, or "" if it may.
func FixBlocked(r Rule, deps *Deps) string {
	if r.AuditOnly() {
		return "audit only rule, no fix available"
	}
	if it := r.EnablingItem(); it != nil && !it.Bool() {
		return "fix not enabled: " + it.Key() + " is false"
	}
	if r.RootRequired() && (deps.Env == nil || !deps.Env.IsRoot()) {
		return "fix requires root privileges"
	}
	return ""
}

// RunFix clears the rule's previous events, then calls Fix. Blocked fixes
// are Skipped with the reason in the results.
func RunFix(ctx context.Context, r Rule, deps *Deps) (types.Outcome, error) {
	st := r.Status()
	st.Begin(types.PhaseFix)
	logger := deps.RuleLogger(r)

	if reason := FixBlocked(r, deps); reason != "" {
		st.AddResult("%s", reason)
		logger.Info("fix skipped", "reason", reason)
		return types.OutcomeSkipped, nil
	}
	if err := ctx.Err(); err != nil {
		return types.OutcomeNotRun, errors.Wrapf(ErrAborted, "before %s fix: %v", r.Name(), err)
	}

	if deps.Changes == nil {
		recordFailure(r, deps, types.PhaseFix, errors.New("no change log available, refusing to fix"))
		return types.OutcomeFailure, nil
	}
	cleared, err := deps.Changes.ClearRule(ctx, r.Number())
	if err != nil {
		if ctx.Err() != nil {
			return types.OutcomeNotRun, errors.Wrapf(ErrAborted, "clearing %s events", r.Name())
		}
		recordFailure(r, deps, types.PhaseFix, errors.Wrap(err, "clear previous events"))
		return types.OutcomeFailure, nil
	}
	if cleared > 0 {
		logger.Debug("cleared previous events", "count", cleared)
	}
	st.resetEventIDs(r.Number())

	ok, ruleErr, abort := guard(ctx, r, types.PhaseFix, r.Fix)
	if abort != nil {
		st.Success = false
		return types.OutcomeFailure, abort
	}
	if ruleErr != nil {
		recordFailure(r, deps, types.PhaseFix, ruleErr)
		return types.OutcomeFailure, nil
	}
	st.Success = ok
	if !ok {
		logger.Warn("fix did not succeed")
		return types.OutcomeFailure, nil
	}
	logger.Info("fix applied")
	return types.OutcomeSuccess, nil
}

// RunUndo calls Undo under the same isolation as RunFix.
func RunUndo(ctx context.Context, r Rule, deps *Deps) (types.Outcome, error) {
	st := r.Status()
	st.Begin(types.PhaseUndo)

	ok, ruleErr, abort := guard(ctx, r, types.PhaseUndo, r.Undo)
	if abort != nil {
		st.Success = false
		return types.OutcomeFailure, abort
	}
	if ruleErr != nil {
		recordFailure(r, deps, types.PhaseUndo, ruleErr)
		return types.OutcomeFailure, nil
	}
	st.Success = ok
	if !ok {
		return types.OutcomeFailure, nil
	}
	deps.RuleLogger(r).Info("undo finished")
	return types.OutcomeSuccess, nil
}
