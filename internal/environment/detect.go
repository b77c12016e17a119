package environment

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/pkg/errors"

	"github.com/supabase/hostaudit/internal/command"
)

// DetectOptions controls platform discovery.
type DetectOptions struct {
	// Root prefixes every file read, so tests can point at a fake /etc.
	Root string
	// GOOS overrides runtime.GOOS.
	GOOS string
	// Runner executes sw_vers, freebsd-version and uname.
	Runner command.Runner
}

var redhatRelease = regexp.MustCompile(`^(.*?)\s+release\s+([0-9][0-9.]*)`)

// Detect fills the platform fields of an Info (type, version, families,
// hostname, euid). Run mode fields are left for the caller.
func Detect(ctx context.Context, opts DetectOptions) (Info, error) {
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	info := Info{EUID: os.Geteuid()}
	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}

	var err error
	switch goos {
	case "linux":
		info.Families = []string{"linux"}
		info.OSType, info.OSVersion, err = detectLinux(opts.Root)
	case "darwin":
		info.Families = []string{"darwin"}
		info.OSType, info.OSVersion, err = detectDarwin(ctx, opts.Runner)
	case "freebsd":
		info.Families = []string{"freebsd"}
		info.OSType = "FreeBSD"
		info.OSVersion, err = detectUname(ctx, opts.Runner, "freebsd-version", "-u")
	case "solaris", "illumos":
		info.Families = []string{"solaris"}
		info.OSType = "Solaris"
		info.OSVersion, err = detectUname(ctx, opts.Runner, "uname", "-r")
	default:
		return info, errors.Wrapf(ErrUndetermined, "unsupported platform %q", goos)
	}
	if err != nil {
		return info, err
	}
	if info.OSType == "" || info.OSVersion == "" {
		return info, errors.Wrapf(ErrUndetermined, "incomplete platform facts for %s", goos)
	}
	return info, nil
}

func detectLinux(root string) (string, string, error) {
	if fields, err := readOSRelease(filepath.Join(root, "/etc/os-release")); err == nil {
		name := fields["NAME"]
		version := fields["VERSION_ID"]
		if name != "" && version != "" {
			return name, version, nil
		}
	}

	data, err := os.ReadFile(filepath.Join(root, "/etc/redhat-release"))
	if err != nil {
		return "", "", errors.Wrap(ErrUndetermined, "neither /etc/os-release nor /etc/redhat-release is usable")
	}
	m := redhatRelease.FindStringSubmatch(strings.TrimSpace(string(data)))
	if m == nil {
		return "", "", errors.Wrapf(ErrUndetermined, "unrecognised /etc/redhat-release: %q", strings.TrimSpace(string(data)))
	}
	return m[1], m[2], nil
}

func readOSRelease(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}
	return fields, scanner.Err()
}

func detectDarwin(ctx context.Context, runner command.Runner) (string, string, error) {
	if runner == nil {
		return "", "", errors.Wrap(ErrUndetermined, "no command runner for sw_vers")
	}
	name, err := runOutput(ctx, runner, "sw_vers", "-productName")
	if err != nil {
		return "", "", err
	}
	version, err := runOutput(ctx, runner, "sw_vers", "-productVersion")
	if err != nil {
		return "", "", err
	}
	// Rule predicates key on the historical product name.
	if name == "macOS" {
		name = "Mac OS X"
	}
	return name, version, nil
}

func detectUname(ctx context.Context, runner command.Runner, name string, args ...string) (string, error) {
	if runner == nil {
		return "", errors.Wrapf(ErrUndetermined, "no command runner for %s", name)
	}
	out, err := runOutput(ctx, runner, name, args...)
	if err != nil {
		return "", err
	}
	// "13.2-RELEASE-p4" -> "13.2"
	if i := strings.IndexAny(out, "-_ "); i > 0 {
		out = out[:i]
	}
	return out, nil
}

func runOutput(ctx context.Context, runner command.Runner, name string, args ...string) (string, error) {
	res, err := runner.Run(ctx, name, args...)
	if err != nil {
		return "", errors.Wrapf(ErrUndetermined, "%s: %v", name, err)
	}
	if !res.Success() {
		return "", errors.Wrapf(ErrUndetermined, "%s exited %d", name, res.ExitCode)
	}
	return strings.TrimSpace(res.Stdout), nil
}
