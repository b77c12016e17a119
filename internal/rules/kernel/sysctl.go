package kernel

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/supabase/hostaudit/internal/rules"
)

const (
	sysctlConf = "/etc/sysctl.conf"
	sysctlDir  = "/etc/sysctl.d"
)

// sysctlSetting is a kernel parameter that must hold Value both at runtime
// and across reboots.
type sysctlSetting struct {
	Key   string
	Value string
	// DropIn is the file written under /etc/sysctl.d when sysctl.conf does
	// not already carry the key.
	DropIn string
}

func (s sysctlSetting) line() string {
	return s.Key + " = " + s.Value
}

func (s sysctlSetting) runtime(ctx context.Context, r *rules.BaseRule) (string, error) {
	res, err := r.Run(ctx, "sysctl", "-n", s.Key)
	if err != nil {
		return "", err
	}
	if !res.Success() {
		return "", rules.CommandError("sysctl -n "+s.Key, errors.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// persisted returns the value the key gets at boot. Files in sysctl.d are
// read in name order and sysctl.conf last; the last assignment wins.
func (s sysctlSetting) persisted(r *rules.BaseRule) (value string, found bool) {
	files, _ := filepath.Glob(filepath.Join(r.Path(sysctlDir), "*.conf"))
	sort.Strings(files)
	files = append(files, r.Path(sysctlConf))

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		if v, ok := lookupSysctl(string(data), s.Key); ok {
			value, found = v, true
		}
	}
	return value, found
}

func lookupSysctl(content, key string) (string, bool) {
	var (
		value string
		found bool
	)
	for _, line := range strings.Split(content, "\n") {
		k, v, ok := splitSysctl(line)
		if ok && k == key {
			value, found = v, true
		}
	}
	return value, found
}

func splitSysctl(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' || line[0] == ';' {
		return "", "", false
	}
	k, v, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(k), strings.TrimSpace(v), true
}

func (s sysctlSetting) report(ctx context.Context, r *rules.BaseRule) (bool, error) {
	st := r.Status()
	compliant := true

	current, err := s.runtime(ctx, r)
	if err != nil {
		return false, err
	}
	if current != s.Value {
		compliant = false
		st.AddResult("%s is %q at runtime, want %s", s.Key, current, s.Value)
	}

	saved, found := s.persisted(r)
	switch {
	case !found:
		compliant = false
		st.AddResult("%s is not set in %s or %s", s.Key, sysctlConf, sysctlDir)
	case saved != s.Value:
		compliant = false
		st.AddResult("%s is set to %s at boot, want %s", s.Key, saved, s.Value)
	}
	return compliant, nil
}

func (s sysctlSetting) fix(ctx context.Context, r *rules.BaseRule) error {
	current, err := s.runtime(ctx, r)
	if err != nil {
		return err
	}
	if current != s.Value {
		var undo []string
		if current != "" {
			undo = []string{"sysctl", "-w", s.Key + "=" + current}
		}
		if _, err := r.RunRecorded(ctx, undo, "sysctl", "-w", s.Key+"="+s.Value); err != nil {
			return err
		}
	}

	if saved, found := s.persisted(r); found && saved == s.Value {
		return nil
	}

	conf := r.Path(sysctlConf)
	data, err := os.ReadFile(conf)
	if err == nil {
		if _, ok := lookupSysctl(string(data), s.Key); ok {
			return r.WriteFile(ctx, conf, []byte(replaceSysctl(string(data), s.Key, s.line())), 0)
		}
	} else if !os.IsNotExist(err) {
		return rules.FileError("read "+conf, err)
	}

	return r.WriteFile(ctx, r.Path(filepath.Join(sysctlDir, s.DropIn)), []byte(s.line()+"\n"), 0o644)
}

// replaceSysctl rewrites every assignment of key to line.
func replaceSysctl(content, key, line string) string {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		if k, _, ok := splitSysctl(l); ok && k == key {
			lines[i] = line
		}
	}
	return strings.Join(lines, "\n")
}
