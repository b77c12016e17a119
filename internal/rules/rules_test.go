package rules

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/supabase/hostaudit/internal/applicability"
	"github.com/supabase/hostaudit/internal/command"
	"github.com/supabase/hostaudit/internal/environment"
	"github.com/supabase/hostaudit/internal/statelog"
	"github.com/supabase/hostaudit/pkg/types"
)

type testRule struct {
	BaseRule
	report func(ctx context.Context) (bool, error)
	fix    func(ctx context.Context) (bool, error)
}

func (r *testRule) Report(ctx context.Context) (bool, error) { return r.report(ctx) }
func (r *testRule) Fix(ctx context.Context) (bool, error)    { return r.fix(ctx) }

func newTestRule(deps *Deps, number int, name string) *testRule {
	r := &testRule{
		BaseRule: BaseRule{RuleNumber: number, RuleName: name, Deps: deps},
	}
	r.report = func(context.Context) (bool, error) { return true, nil }
	r.fix = func(context.Context) (bool, error) { return true, nil }
	return r
}

func newTestDeps(t *testing.T, euid int) *Deps {
	t.Helper()
	env, err := environment.New(environment.Info{
		OSType:    "Ubuntu",
		OSVersion: "22.04",
		Families:  []string{"linux"},
		EUID:      euid,
	})
	if err != nil {
		t.Fatal(err)
	}
	logger := log.New(io.Discard)
	store, err := statelog.Open(context.Background(), t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return &Deps{
		Env:     env,
		Logger:  logger,
		Changes: store,
		Runner:  command.NewFake(),
		Root:    t.TempDir(),
		RunID:   "test-run",
	}
}

func TestValidateCatalogDuplicateNumber(t *testing.T) {
	deps := newTestDeps(t, 0)

	a := newTestRule(deps, 1, "RuleA")
	a.RuleApplicable = applicability.Predicate{Family: []string{"linux"}}
	b := newTestRule(deps, 1, "RuleB")
	b.RuleApplicable = applicability.Predicate{Family: []string{"darwin"}}

	err := ValidateCatalog([]Rule{a, b})
	if !errors.Is(err, ErrDuplicateRule) {
		t.Errorf("ValidateCatalog() error = %v, want ErrDuplicateRule", err)
	}
}

func TestValidateCatalog(t *testing.T) {
	deps := newTestDeps(t, 0)

	tests := []struct {
		name  string
		rules []Rule
		want  error
	}{
		{"unique", []Rule{newTestRule(deps, 1, "A"), newTestRule(deps, 2, "B")}, nil},
		{"duplicate name", []Rule{newTestRule(deps, 1, "A"), newTestRule(deps, 2, "A")}, ErrDuplicateRule},
		{"zero number", []Rule{newTestRule(deps, 0, "A")}, ErrInvalidCatalog},
		{"empty name", []Rule{newTestRule(deps, 3, "")}, ErrInvalidCatalog},
		{"number too large", []Rule{newTestRule(deps, 10000, "A")}, ErrInvalidCatalog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCatalog(tt.rules)
			if tt.want == nil && err != nil {
				t.Errorf("ValidateCatalog() error = %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("ValidateCatalog() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRegistryBuild(t *testing.T) {
	deps := newTestDeps(t, 0)
	reg := NewRegistry()
	reg.Add(func(d *Deps) Rule { return newTestRule(d, 151, "ReduceSudoTimeout") })
	reg.Add(func(d *Deps) Rule { return newTestRule(d, 49, "NoCoreDumps") })

	if reg.Count() != 2 {
		t.Errorf("Count() = %d, want 2", reg.Count())
	}

	rs, err := reg.Build(deps)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if rs[0].Number() != 49 || rs[1].Number() != 151 {
		t.Errorf("Build() order = %d, %d", rs[0].Number(), rs[1].Number())
	}

	reg.Add(func(d *Deps) Rule { return newTestRule(d, 49, "Other") })
	if _, err := reg.Build(deps); !errors.Is(err, ErrDuplicateRule) {
		t.Errorf("Build() with duplicate error = %v, want ErrDuplicateRule", err)
	}
}

func TestRunReportIsolatesFailures(t *testing.T) {
	deps := newTestDeps(t, 0)

	tests := []struct {
		name    string
		report  func(context.Context) (bool, error)
		wantErr string
	}{
		{"error", func(context.Context) (bool, error) {
			return true, CommandError("sysctl kernel.dmesg_restrict", command.ErrNotFound)
		}, "command not found"},
		{"panic", func(context.Context) (bool, error) {
			var m map[string]int
			m["boom"] = 1
			return true, nil
		}, "panic during report"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRule(deps, 7, "Broken")
			r.report = tt.report

			compliant, err := RunReport(context.Background(), r, deps)
			if err != nil {
				t.Fatalf("RunReport() error = %v, want nil", err)
			}
			if compliant {
				t.Error("a failed report should keep the previous compliance value")
			}
			if r.Status().Success {
				t.Error("Success should be false after a failed report")
			}
			if !strings.Contains(r.Status().Detailed(), tt.wantErr) {
				t.Errorf("Detailed() = %q, want it to contain %q", r.Status().Detailed(), tt.wantErr)
			}
		})
	}
}

func TestRunReportPropagatesAbort(t *testing.T) {
	deps := newTestDeps(t, 0)

	t.Run("cancelled before", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		r := newTestRule(deps, 1, "A")
		r.report = func(context.Context) (bool, error) { called = true; return true, nil }

		if _, err := RunReport(ctx, r, deps); !IsAbort(err) {
			t.Errorf("RunReport() error = %v, want ErrAborted", err)
		}
		if called {
			t.Error("Report should not run on a cancelled context")
		}
	})

	t.Run("rule returns cancellation", func(t *testing.T) {
		r := newTestRule(deps, 2, "B")
		r.report = func(context.Context) (bool, error) {
			return false, errors.Wrap(context.Canceled, "interrupted")
		}
		if _, err := RunReport(context.Background(), r, deps); !IsAbort(err) {
			t.Errorf("RunReport() error = %v, want ErrAborted", err)
		}
		if len(r.Status().Errors) != 0 {
			t.Error("an abort must not be recorded as a rule failure")
		}
	})
}

func TestRunFixGating(t *testing.T) {
	tests := []struct {
		name   string
		euid   int
		setup  func(r *testRule)
		reason string
	}{
		{"ci disabled", 0, func(r *testRule) {
			r.RuleEnablingItem = EnableItem(r.RuleNumber, "ENABLEC", "")
			if err := r.RuleEnablingItem.Set(false); err != nil {
				panic(err)
			}
		}, "not enabled"},
		{"audit only", 0, func(r *testRule) { r.RuleAuditOnly = true }, "audit only"},
		{"needs root", 1000, func(r *testRule) { r.RuleRootRequired = true }, "root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps(t, tt.euid)
			r := newTestRule(deps, 3, "RuleC")
			fixed := false
			r.fix = func(context.Context) (bool, error) { fixed = true; return true, nil }
			tt.setup(r)
			r.Status().Success = true

			outcome, err := RunFix(context.Background(), r, deps)
			if err != nil {
				t.Fatal(err)
			}
			if outcome != types.OutcomeSkipped {
				t.Errorf("RunFix() = %s, want skipped", outcome)
			}
			if fixed {
				t.Error("Fix should not have been called")
			}
			if !strings.Contains(r.Status().Detailed(), tt.reason) {
				t.Errorf("Detailed() = %q, want %q", r.Status().Detailed(), tt.reason)
			}
			if !r.Status().Success {
				t.Error("a skipped fix should leave Success untouched")
			}
		})
	}
}

func TestRunFixEnabledByDefault(t *testing.T) {
	deps := newTestDeps(t, 0)
	r := newTestRule(deps, 3, "RuleC")
	r.RuleEnablingItem = EnableItem(3, "ENABLEC", "Enable rule C.")
	fixed := false
	r.fix = func(context.Context) (bool, error) { fixed = true; return true, nil }

	outcome, err := RunFix(context.Background(), r, deps)
	if err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("RunFix() = %s, %v, want success", outcome, err)
	}
	if !fixed || !r.Status().Success {
		t.Error("Fix should run with the enabling item at its default")
	}
}

// fileRule writes a config file, tightens its mode and runs a command.
func newFileRule(deps *Deps) *testRule {
	r := newTestRule(deps, 42, "FileRule")
	target := r.Path("/etc/sample.conf")
	r.fix = func(ctx context.Context) (bool, error) {
		if err := r.WriteFile(ctx, target, []byte("hardened=1\n"), 0); err != nil {
			return false, err
		}
		if err := r.SetPerms(ctx, target, 0o600, -1, -1); err != nil {
			return false, err
		}
		if _, err := r.RunRecorded(ctx, []string{"sysctl", "-w", "sample=0"}, "sysctl", "-w", "sample=1"); err != nil {
			return false, err
		}
		return true, nil
	}
	r.report = func(ctx context.Context) (bool, error) {
		data, err := os.ReadFile(target)
		if err != nil {
			return false, nil
		}
		return string(data) == "hardened=1\n", nil
	}
	return r
}

func writeSample(t *testing.T, deps *Deps) string {
	t.Helper()
	target := deps.Path("/etc/sample.conf")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("hardened=0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return target
}

func TestFixTwiceDoesNotDuplicateEvents(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t, 0)
	writeSample(t, deps)
	r := newFileRule(deps)

	if outcome, err := RunFix(ctx, r, deps); err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("first RunFix() = %s, %v; %s", outcome, err, r.Status().Detailed())
	}
	first, _ := deps.Changes.FindRuleChanges(ctx, 42)
	if len(first) != 3 {
		t.Fatalf("first pass recorded %v, want 3 events", first)
	}

	if outcome, err := RunFix(ctx, r, deps); err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("second RunFix() = %s, %v; %s", outcome, err, r.Status().Detailed())
	}
	second, _ := deps.Changes.FindRuleChanges(ctx, 42)
	// The file is already right, so only the command is recorded again.
	if len(second) != 1 || second[0] != "0042001" {
		t.Errorf("second pass left %v, want [0042001]", second)
	}
}

func TestFixUndoRoundTrip(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t, 0)
	target := writeSample(t, deps)
	r := newFileRule(deps)

	before, err := RunReport(ctx, r, deps)
	if err != nil || before {
		t.Fatalf("RunReport() before fix = %v, %v", before, err)
	}
	if outcome, err := RunFix(ctx, r, deps); err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("RunFix() = %s, %v; %s", outcome, err, r.Status().Detailed())
	}
	if after, _ := RunReport(ctx, r, deps); !after {
		t.Fatal("rule should be compliant after fix")
	}

	if outcome, err := RunUndo(ctx, r, deps); err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("RunUndo() = %s, %v; %s", outcome, err, r.Status().Detailed())
	}

	data, _ := os.ReadFile(target)
	if string(data) != "hardened=0\n" {
		t.Errorf("content after undo = %q", data)
	}
	perms, err := StatPerms(target)
	if err != nil {
		t.Fatal(err)
	}
	if perms.Mode != 0o644 {
		t.Errorf("mode after undo = %o, want 644", perms.Mode)
	}
	if perms.UID != os.Geteuid() || perms.GID != os.Getegid() {
		t.Errorf("owner after undo = %d:%d, want %d:%d", perms.UID, perms.GID, os.Geteuid(), os.Getegid())
	}
	if !deps.Runner.(*command.Fake).Ran("sysctl -w sample=0") {
		t.Error("undo command was not run")
	}
	if left, _ := deps.Changes.FindRuleChanges(ctx, 42); len(left) != 0 {
		t.Errorf("events left after undo: %v", left)
	}
	if again, _ := RunReport(ctx, r, deps); again != before {
		t.Errorf("report after undo = %v, want %v", again, before)
	}
}

func TestFixUndoKeepsOwnership(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("changing file ownership needs root")
	}
	ctx := context.Background()
	deps := newTestDeps(t, 0)
	target := writeSample(t, deps)
	if err := os.Chown(target, 1234, 4321); err != nil {
		t.Fatal(err)
	}
	r := newFileRule(deps)

	if outcome, err := RunFix(ctx, r, deps); err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("RunFix() = %s, %v; %s", outcome, err, r.Status().Detailed())
	}
	fixed, err := StatPerms(target)
	if err != nil {
		t.Fatal(err)
	}
	if fixed.UID != 1234 || fixed.GID != 4321 {
		t.Errorf("owner after fix = %d:%d, want 1234:4321", fixed.UID, fixed.GID)
	}

	if outcome, err := RunUndo(ctx, r, deps); err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("RunUndo() = %s, %v; %s", outcome, err, r.Status().Detailed())
	}
	got, err := StatPerms(target)
	if err != nil {
		t.Fatal(err)
	}
	want := Perms{Mode: 0o644, UID: 1234, GID: 4321}
	if got != want {
		t.Errorf("perms after undo = %s, want %s", got, want)
	}
	if data, _ := os.ReadFile(target); string(data) != "hardened=0\n" {
		t.Errorf("content after undo = %q", data)
	}
}

func TestRuleLoggerFromBaseRule(t *testing.T) {
	r := &BaseRule{RuleNumber: 49, RuleName: "NoCoreDumps"}
	if (&Deps{}).RuleLogger(r) == nil {
		t.Error("RuleLogger() returned nil without a configured logger")
	}
}

func TestUndoWithoutEvents(t *testing.T) {
	deps := newTestDeps(t, 0)
	r := newTestRule(deps, 5, "Nothing")

	outcome, err := RunUndo(context.Background(), r, deps)
	if err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("RunUndo() = %s, %v", outcome, err)
	}
	if !strings.Contains(r.Status().Detailed(), "no recorded changes") {
		t.Errorf("Detailed() = %q", r.Status().Detailed())
	}
}

type noUndoRule struct{ testRule }

func (r *noUndoRule) Undo(context.Context) (bool, error) {
	return r.NoUndo("recreating the account would reintroduce the exposure")
}

func TestNoUndo(t *testing.T) {
	deps := newTestDeps(t, 0)
	r := &noUndoRule{testRule: *newTestRule(deps, 94, "RemoveToorUser")}

	outcome, err := RunUndo(context.Background(), r, deps)
	if err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("RunUndo() = %s, %v", outcome, err)
	}
	if !strings.Contains(r.Status().Detailed(), "no undo available") {
		t.Errorf("Detailed() = %q", r.Status().Detailed())
	}
}

func TestRunFixRecordsFailedCommand(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t, 0)
	deps.Runner.(*command.Fake).On("sysctl -w sample=1", command.Result{ExitCode: 255, Stderr: "permission denied"})
	writeSample(t, deps)
	r := newFileRule(deps)

	outcome, err := RunFix(ctx, r, deps)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != types.OutcomeFailure {
		t.Errorf("RunFix() = %s, want failure", outcome)
	}
	if !errors.Is(r.Status().Err(), ErrCommandExecution) {
		t.Errorf("Err() = %v, want ErrCommandExecution", r.Status().Err())
	}
	// Recorded before running, so undo still sees the attempt.
	if ids, _ := deps.Changes.FindRuleChanges(ctx, 42); len(ids) != 3 {
		t.Errorf("events = %v, want 3", ids)
	}
}

func TestFormatResults(t *testing.T) {
	deps := newTestDeps(t, 0)
	r := newTestRule(deps, 86, "RestrictAccessToKernelMessageBuffer")
	r.Status().Begin(types.PhaseReport)
	r.Status().AddResult("kernel.dmesg_restrict is 0")

	got := FormatResults(r, types.PhaseReport, "not compliant")
	want := "Rule RestrictAccessToKernelMessageBuffer(86) report results: not compliant\nkernel.dmesg_restrict is 0"
	if got != want {
		t.Errorf("FormatResults() = %q, want %q", got, want)
	}
}

func TestOrder(t *testing.T) {
	deps := newTestDeps(t, 0)
	a := newTestRule(deps, 10, "A")
	a.RulePrerequisites = []int{30}
	b := newTestRule(deps, 20, "B")
	c := newTestRule(deps, 30, "C")

	ordered, err := Order([]Rule{a, b, c})
	if err != nil {
		t.Fatal(err)
	}
	pos := map[int]int{}
	for i, r := range ordered {
		pos[r.Number()] = i
	}
	if pos[30] > pos[10] {
		t.Errorf("prerequisite 30 ran after 10: %v", pos)
	}

	c.RulePrerequisites = []int{10}
	if _, err := Order([]Rule{a, b, c}); err == nil {
		t.Error("Order() should fail on a prerequisite cycle")
	}
}

func TestRuleErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind error
	}{
		{ConfigError("parse", errors.New("x")), ErrConfiguration},
		{CommandError("run", errors.New("x")), ErrCommandExecution},
		{PermissionError("chown", errors.New("x")), ErrPermission},
		{FileError("write", errors.New("x")), ErrFileIO},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.kind) {
			t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
		}
		if errors.Is(tt.err, ErrAborted) {
			t.Errorf("%v should not be an abort", tt.err)
		}
	}
}

func TestPermsRoundTrip(t *testing.T) {
	p := Perms{Mode: 0o440, UID: 0, GID: 0}
	got, err := ParsePerms(p.String())
	if err != nil || got != p {
		t.Errorf("ParsePerms(%q) = %+v, %v", p.String(), got, err)
	}
}

func TestServiceUndo(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t, 0)
	fake := deps.Runner.(*command.Fake)
	r := newTestRule(deps, 7, "DisableSample")
	r.fix = func(ctx context.Context) (bool, error) {
		if err := r.SetService(ctx, "sample", false); err != nil {
			return false, err
		}
		return true, nil
	}

	if outcome, err := RunFix(ctx, r, deps); err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("RunFix() = %s, %v; %s", outcome, err, r.Status().Detailed())
	}
	if !fake.Ran("systemctl disable sample") {
		t.Fatalf("calls = %v, want systemctl disable sample", fake.Calls())
	}
	events, err := deps.Changes.Events(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != statelog.EventService || events[0].StartState != "enabled" {
		t.Fatalf("events = %+v, want one service event starting enabled", events)
	}

	if outcome, err := RunUndo(ctx, r, deps); err != nil || outcome != types.OutcomeSuccess {
		t.Fatalf("RunUndo() = %s, %v; %s", outcome, err, r.Status().Detailed())
	}
	if !fake.Ran("systemctl enable sample") {
		t.Errorf("calls = %v, want systemctl enable sample", fake.Calls())
	}
}

func TestReloadService(t *testing.T) {
	tests := []struct {
		name    string
		install bool
		exit    int
		want    types.Outcome
		ran     bool
	}{
		{"reloaded", false, 0, types.OutcomeSuccess, true},
		{"reload fails", false, 1, types.OutcomeFailure, true},
		{"install mode", true, 0, types.OutcomeSkipped, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps(t, 0)
			env, err := environment.New(environment.Info{
				OSType:      "Ubuntu",
				OSVersion:   "22.04",
				Families:    []string{"linux"},
				InstallMode: tt.install,
			})
			if err != nil {
				t.Fatal(err)
			}
			deps.Env = env
			fake := deps.Runner.(*command.Fake)
			fake.On("systemctl reload-or-restart sshd", command.Result{ExitCode: tt.exit})

			r := newTestRule(deps, 8, "ReloadSample")
			got, _ := r.ReloadService(context.Background(), "sshd")
			if got != tt.want {
				t.Errorf("ReloadService() = %s, want %s", got, tt.want)
			}
			if fake.Ran("systemctl reload-or-restart sshd") != tt.ran {
				t.Errorf("reload ran = %v, want %v", !tt.ran, tt.ran)
			}
		})
	}
}
