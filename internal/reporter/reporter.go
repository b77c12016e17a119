// Package reporter renders a run's results.
package reporter

import (
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/supabase/hostaudit/internal/runner"
	"github.com/supabase/hostaudit/pkg/types"
)

// ErrUnknownFormat is returned by New for an unsupported format.
var ErrUnknownFormat = errors.New("unknown report format")

// Reporter writes a run result somewhere.
type Reporter interface {
	Report(result *runner.Result) error
}

// Options tunes the text reporter. The other formats ignore it.
type Options struct {
	Color bool
	// Detailed includes every rule's formatted results.
	Detailed bool
}

// Formats lists the names New accepts.
var Formats = []string{"text", "json", "pdf"}

// New returns the reporter for format.
func New(format string, w io.Writer, opts Options) (Reporter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return NewTextReporter(w, opts), nil
	case "json":
		return NewJSONReporter(w, true), nil
	case "pdf":
		return NewPDFReporter(w), nil
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

// Status is the one-word verdict shown for a rule.
func Status(mode types.Mode, rr runner.RuleResult) string {
	switch {
	case rr.Aborted:
		return "ABORTED"
	case !rr.ReportOK:
		return "ERROR"
	case mode == types.ModeUndo:
		switch rr.Undo {
		case types.OutcomeSuccess:
			return "UNDONE"
		case types.OutcomeFailure:
			return "UNDO FAILED"
		default:
			return "NOT RUN"
		}
	case rr.Fix == types.OutcomeFailure:
		return "FIX FAILED"
	case rr.Fix == types.OutcomeSuccess && rr.FinalCompliant:
		return "FIXED"
	case rr.FinalCompliant:
		return "COMPLIANT"
	default:
		return "NOT COMPLIANT"
	}
}
