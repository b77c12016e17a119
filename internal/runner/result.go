package runner

import (
	"time"

	"github.com/supabase/hostaudit/pkg/types"
)

// RuleResult is what one rule did during a run.
type RuleResult struct {
	Number    int    `json:"number"`
	Name      string `json:"name"`
	Mandatory bool   `json:"mandatory"`

	// Compliant is the first report's verdict.
	Compliant bool `json:"compliant"`
	// FinalCompliant is the verdict after a successful fix, or Compliant
	// when no fix ran.
	FinalCompliant bool `json:"final_compliant"`

	ReportOK bool          `json:"report_ok"`
	Fix      types.Outcome `json:"fix"`
	Undo     types.Outcome `json:"undo"`

	// Aborted is set on the rule that was running when the run was
	// interrupted.
	Aborted bool `json:"aborted,omitempty"`

	// Details holds the formatted results of every phase that ran.
	Details []string `json:"details,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Failed reports whether any phase of the rule failed. An interrupted rule
// has not failed.
func (r RuleResult) Failed() bool {
	if r.Aborted {
		return false
	}
	return !r.ReportOK || r.Fix.Failed() || r.Undo.Failed()
}

// Summary holds aggregate counts for a run.
type Summary struct {
	Total        int `json:"total"`
	Compliant    int `json:"compliant"`
	NonCompliant int `json:"non_compliant"`
	Fixed        int `json:"fixed"`
	Aborted      int `json:"aborted"`
	FixFailed    int `json:"fix_failed"`
	Skipped      int `json:"skipped"`
	Undone       int `json:"undone"`
	UndoFailed   int `json:"undo_failed"`
	Errors       int `json:"errors"`
}

// Result is the outcome of a run.
type Result struct {
	RunID     string       `json:"run_id"`
	Mode      types.Mode   `json:"mode"`
	Hostname  string       `json:"hostname"`
	OS        string       `json:"os"`
	Started   time.Time    `json:"started"`
	Finished  time.Time    `json:"finished"`
	Rules     []RuleResult `json:"rules"`
	Warnings  []string     `json:"warnings,omitempty"`
	Aborted   bool         `json:"aborted"`
	Summary   Summary      `json:"summary"`
	StatePath string       `json:"state_path,omitempty"`
}

func (r *Result) summarize() {
	s := Summary{Total: len(r.Rules)}
	for _, rr := range r.Rules {
		if rr.Aborted {
			s.Aborted++
		}
		if r.Mode != types.ModeUndo && !(rr.Aborted && !rr.ReportOK) {
			if rr.FinalCompliant {
				s.Compliant++
			} else {
				s.NonCompliant++
			}
		}
		switch rr.Fix {
		case types.OutcomeSuccess:
			s.Fixed++
		case types.OutcomeFailure:
			s.FixFailed++
		case types.OutcomeSkipped:
			s.Skipped++
		}
		switch rr.Undo {
		case types.OutcomeSuccess:
			s.Undone++
		case types.OutcomeFailure:
			s.UndoFailed++
		}
		if rr.Failed() {
			s.Errors++
		}
	}
	r.Summary = s
}

// ExitCode is 0 when every rule succeeded and 1 otherwise. Non-compliance
// alone is not a failure.
func (r *Result) ExitCode() int {
	if r.Summary.Errors > 0 || r.Aborted {
		return 1
	}
	return 0
}
