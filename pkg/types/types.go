package types

// Outcome is the result of a single lifecycle phase (fix, undo) for a rule.
type Outcome int

const (
	OutcomeNotRun Outcome = iota
	OutcomeSuccess
	OutcomeFailure
	// OutcomeSkipped means the phase was deliberately not carried out
	// (disabled CI, audit-only rule, install mode, missing privilege).
	// It counts as neither success nor failure.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotRun:
		return "not-run"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ParseOutcome converts a string to an Outcome
func ParseOutcome(s string) Outcome {
	switch s {
	case "success":
		return OutcomeSuccess
	case "failure":
		return OutcomeFailure
	case "skipped":
		return OutcomeSkipped
	default:
		return OutcomeNotRun
	}
}

// Failed reports whether the outcome should count against the run's exit code
func (o Outcome) Failed() bool { return o == OutcomeFailure }

// Phase names a step of the rule lifecycle
type Phase int

const (
	PhaseInitialize Phase = iota
	PhaseReport
	PhaseFix
	PhaseUndo
)

func (p Phase) String() string {
	switch p {
	case PhaseInitialize:
		return "initialize"
	case PhaseReport:
		return "report"
	case PhaseFix:
		return "fix"
	case PhaseUndo:
		return "undo"
	default:
		return "unknown"
	}
}

// Mode selects what a run does
type Mode int

const (
	ModeReport Mode = iota
	ModeFix
	ModeUndo
)

func (m Mode) String() string {
	switch m {
	case ModeReport:
		return "report"
	case ModeFix:
		return "fix"
	case ModeUndo:
		return "undo"
	default:
		return "unknown"
	}
}

// ParseMode converts a string to a Mode
func ParseMode(s string) Mode {
	switch s {
	case "fix":
		return ModeFix
	case "undo":
		return ModeUndo
	default:
		return ModeReport
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	*o = ParseOutcome(string(b))
	return nil
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	*m = ParseMode(string(b))
	return nil
}
