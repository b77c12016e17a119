// Package command runs external OS utilities on behalf of rules.
package command

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds a single external command.
const DefaultTimeout = 2 * time.Minute

var (
	// ErrNotFound means the executable is not on PATH.
	ErrNotFound = errors.New("command not found")
	// ErrTimeout means the command exceeded its deadline and was killed.
	ErrTimeout = errors.New("command timed out")
)

// Result holds the output of a completed command.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r Result) Success() bool { return r.ExitCode == 0 }

// Runner executes a command. A non-zero exit is not an error; errors are
// reserved for commands that could not be started, timed out or were
// cancelled.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec runs commands with os/exec.
type Exec struct {
	Timeout time.Duration
	Logger  *log.Logger
}

// NewExec returns an Exec with the default timeout.
func NewExec(logger *log.Logger) *Exec {
	return &Exec{Timeout: DefaultTimeout, Logger: logger}
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res := Result{Command: Join(name, args...)}

	if _, err := exec.LookPath(name); err != nil {
		return res, errors.Wrapf(ErrNotFound, "%s", name)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if e.Logger != nil {
		e.Logger.Debug("ran command", "cmd", res.Command, "duration", res.Duration, "err", err)
	}

	// Parent cancellation wins over our own deadline.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, errors.Wrapf(ctxErr, "%s", res.Command)
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.ExitCode = -1
		return res, errors.Wrapf(ErrTimeout, "%s after %s", res.Command, timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, errors.Wrapf(err, "run %s", res.Command)
	}
	return res, nil
}

// Join renders a command line for logs and recorded events.
func Join(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// Split is the inverse of Join for recorded command strings. Quoting is not
// supported; recorded commands never contain spaces inside an argument.
func Split(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
