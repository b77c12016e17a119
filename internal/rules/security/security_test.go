package security

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/supabase/hostaudit/internal/command"
	"github.com/supabase/hostaudit/internal/environment"
	"github.com/supabase/hostaudit/internal/rules"
	"github.com/supabase/hostaudit/internal/statelog"
	"github.com/supabase/hostaudit/pkg/types"
)

func newDeps(t *testing.T, osType, family string, euid int) (*rules.Deps, *command.Fake) {
	t.Helper()
	env, err := environment.New(environment.Info{
		OSType:    osType,
		OSVersion: "14.0",
		Families:  []string{family},
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

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "etc"), 0o755); err != nil {
		t.Fatal(err)
	}
	fake := command.NewFake()
	return &rules.Deps{
		Env:     env,
		Logger:  logger,
		Changes: store,
		Runner:  fake,
		Root:    root,
		RunID:   "test-run",
	}, fake
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

func TestReduceSudoTimeoutDefaults(t *testing.T) {
	tests := []struct {
		name          string
		osType        string
		family        string
		wantEnabled   bool
		wantMandatory bool
		wantPath      string
	}{
		{"linux", "Ubuntu", "linux", false, false, "/etc/sudoers"},
		{"mac", "Mac OS X", "darwin", true, true, "/private/etc/sudoers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := newDeps(t, tt.osType, tt.family, 0)
			r := NewReduceSudoTimeout(deps)
			if got := r.EnablingItem().Bool(); got != tt.wantEnabled {
				t.Errorf("REDUCESUDOTIMEOUT = %v, want %v", got, tt.wantEnabled)
			}
			if got := r.Mandatory(); got != tt.wantMandatory {
				t.Errorf("Mandatory() = %v, want %v", got, tt.wantMandatory)
			}
			if r.sudoers != tt.wantPath {
				t.Errorf("sudoers = %q, want %q", r.sudoers, tt.wantPath)
			}
		})
	}
}

func TestReduceSudoTimeoutDisabledByDefault(t *testing.T) {
	deps, _ := newDeps(t, "Ubuntu", "linux", 0)
	r := NewReduceSudoTimeout(deps)

	outcome, err := rules.RunFix(context.Background(), r, deps)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != types.OutcomeSkipped {
		t.Errorf("RunFix() = %s, want skipped", outcome)
	}
	if !strings.Contains(r.Status().Detailed(), "REDUCESUDOTIMEOUT is false") {
		t.Errorf("results = %q", r.Status().Detailed())
	}
}

func TestReduceSudoTimeoutReport(t *testing.T) {
	tests := []struct {
		name    string
		content string
		mode    os.FileMode
		want    bool
	}{
		{"compliant", "root ALL=(ALL) ALL\nDefaults timestamp_timeout=0\n", 0o440, true},
		{"missing setting", "root ALL=(ALL) ALL\n", 0o440, false},
		{"nonzero timeout", "Defaults\ttimestamp_timeout = 15\n", 0o440, false},
		{"loose perms", "Defaults timestamp_timeout=0\n", 0o644, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := newDeps(t, "Ubuntu", "linux", os.Geteuid())
			writeFile(t, filepath.Join(deps.Root, "etc", "sudoers"), tt.content, tt.mode)

			r := NewReduceSudoTimeout(deps)
			got, err := rules.RunReport(context.Background(), r, deps)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Report() = %v, want %v\n%s", got, tt.want, r.Status().Detailed())
			}
		})
	}
}

func TestReduceSudoTimeoutFixAndUndo(t *testing.T) {
	ctx := context.Background()
	deps, _ := newDeps(t, "Ubuntu", "linux", os.Geteuid())
	sudoers := filepath.Join(deps.Root, "etc", "sudoers")
	original := "root ALL=(ALL) ALL\nDefaults timestamp_timeout=15\n"
	writeFile(t, sudoers, original, 0o644)

	r := NewReduceSudoTimeout(deps)
	if err := r.EnablingItem().Set(true); err != nil {
		t.Fatal(err)
	}

	outcome, err := rules.RunFix(ctx, r, deps)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != types.OutcomeSuccess {
		t.Fatalf("RunFix() = %s\n%s", outcome, r.Status().Detailed())
	}

	data, err := os.ReadFile(sudoers)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "root ALL=(ALL) ALL\nDefaults      timestamp_timeout=0\n"; got != want {
		t.Errorf("sudoers = %q, want %q", got, want)
	}
	info, err := os.Stat(sudoers)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o440 {
		t.Errorf("sudoers mode = %o, want 440", info.Mode().Perm())
	}

	compliant, err := rules.RunReport(ctx, r, deps)
	if err != nil {
		t.Fatal(err)
	}
	if !compliant {
		t.Fatalf("Report() after fix = non-compliant\n%s", r.Status().Detailed())
	}

	outcome, err = rules.RunUndo(ctx, r, deps)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != types.OutcomeSuccess {
		t.Fatalf("RunUndo() = %s\n%s", outcome, r.Status().Detailed())
	}
	data, err = os.ReadFile(sudoers)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != original {
		t.Errorf("sudoers after undo = %q, want %q", data, original)
	}
	info, err = os.Stat(sudoers)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("sudoers mode after undo = %o, want 644", info.Mode().Perm())
	}
}

func TestReduceSudoTimeoutMissingSudoers(t *testing.T) {
	deps, _ := newDeps(t, "Ubuntu", "linux", 0)
	r := NewReduceSudoTimeout(deps)
	if err := r.EnablingItem().Set(true); err != nil {
		t.Fatal(err)
	}

	outcome, err := rules.RunFix(context.Background(), r, deps)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != types.OutcomeSuccess {
		t.Errorf("RunFix() = %s, want success", outcome)
	}
	if _, err := os.Stat(filepath.Join(deps.Root, "etc", "sudoers")); !os.IsNotExist(err) {
		t.Error("fix created a sudoers file")
	}
}

func TestSetSudoTimeout(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "Defaults      timestamp_timeout=0\n"},
		{"appends", "root ALL=(ALL) ALL\n", "root ALL=(ALL) ALL\nDefaults      timestamp_timeout=0\n"},
		{"replaces", "Defaults timestamp_timeout=5\nDefaults env_reset\n", "Defaults env_reset\nDefaults      timestamp_timeout=0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := setSudoTimeout(tt.in); got != tt.want {
				t.Errorf("setSudoTimeout(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRemoveToorUser(t *testing.T) {
	ctx := context.Background()
	deps, fake := newDeps(t, "FreeBSD", "freebsd", 0)
	writeFile(t, filepath.Join(deps.Root, "etc", "passwd"),
		"root:*:0:0:Charlie &:/root:/bin/sh\ntoor:*:0:0:Bourne-again Superuser:/root:\n", 0o644)

	r := NewRemoveToorUser(deps)
	compliant, err := rules.RunReport(ctx, r, deps)
	if err != nil {
		t.Fatal(err)
	}
	if compliant {
		t.Fatal("Report() = compliant with toor present")
	}

	outcome, err := rules.RunFix(ctx, r, deps)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != types.OutcomeSuccess {
		t.Fatalf("RunFix() = %s\n%s", outcome, r.Status().Detailed())
	}
	if !fake.Ran("pw userdel toor") {
		t.Errorf("calls = %v, want pw userdel toor", fake.Calls())
	}

	ids, err := deps.Changes.FindRuleChanges(ctx, 94)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "0094001" {
		t.Errorf("events = %v, want [0094001]", ids)
	}

	outcome, err = rules.RunUndo(ctx, r, deps)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != types.OutcomeSuccess {
		t.Errorf("RunUndo() = %s, want success", outcome)
	}
	if !strings.Contains(r.Status().Detailed(), "no undo available") {
		t.Errorf("undo results = %q", r.Status().Detailed())
	}
	ids, err = deps.Changes.FindRuleChanges(ctx, 94)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("events after undo = %v, want none", ids)
	}
}

func TestRemoveToorUserMissingPasswd(t *testing.T) {
	deps, _ := newDeps(t, "FreeBSD", "freebsd", 0)
	r := NewRemoveToorUser(deps)

	compliant, err := rules.RunReport(context.Background(), r, deps)
	if err != nil {
		t.Fatal(err)
	}
	if compliant {
		t.Error("Report() = compliant without a passwd file")
	}
}
