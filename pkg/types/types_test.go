package types

import "testing"

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeNotRun, "not-run"},
		{OutcomeSuccess, "success"},
		{OutcomeFailure, "failure"},
		{OutcomeSkipped, "skipped"},
		{Outcome(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		input string
		want  Outcome
	}{
		{"success", OutcomeSuccess},
		{"failure", OutcomeFailure},
		{"skipped", OutcomeSkipped},
		{"not-run", OutcomeNotRun},
		{"", OutcomeNotRun}, // default
	}

	for _, tt := range tests {
		if got := ParseOutcome(tt.input); got != tt.want {
			t.Errorf("ParseOutcome(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestOutcomeFailed(t *testing.T) {
	if !OutcomeFailure.Failed() {
		t.Error("OutcomeFailure should count as failed")
	}
	for _, o := range []Outcome{OutcomeNotRun, OutcomeSuccess, OutcomeSkipped} {
		if o.Failed() {
			t.Errorf("%s should not count as failed", o)
		}
	}
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseInitialize, "initialize"},
		{PhaseReport, "report"},
		{PhaseFix, "fix"},
		{PhaseUndo, "undo"},
	}

	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input string
		want  Mode
	}{
		{"report", ModeReport},
		{"fix", ModeFix},
		{"undo", ModeUndo},
		{"bogus", ModeReport}, // default
	}

	for _, tt := range tests {
		if got := ParseMode(tt.input); got != tt.want {
			t.Errorf("ParseMode(%q) = %d, want %d", tt.input, got, tt.want)
		}
		if tt.input != "bogus" && ParseMode(tt.input).String() != tt.input {
			t.Errorf("ParseMode(%q).String() did not round trip", tt.input)
		}
	}
}

func TestOutcomeText(t *testing.T) {
	for _, o := range []Outcome{OutcomeNotRun, OutcomeSuccess, OutcomeFailure, OutcomeSkipped} {
		b, err := o.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got Outcome
		if err := got.UnmarshalText(b); err != nil {
			t.Fatal(err)
		}
		if got != o {
			t.Errorf("UnmarshalText(%q) = %v, want %v", b, got, o)
		}
	}
}
