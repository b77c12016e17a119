package command

import (
	"context"
	"sync"
)

// Fake is a Runner for tests. Responses are keyed by the joined command
// line; unknown commands succeed with empty output.
type Fake struct {
	mu        sync.Mutex
	Responses map[string]Result
	Errors    map[string]error
	// Hook, when set, runs before the canned response is returned.
	Hook  func(line string)
	calls []string
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Responses: make(map[string]Result),
		Errors:    make(map[string]error),
	}
}

// On registers the result for a command line.
func (f *Fake) On(line string, res Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	res.Command = line
	f.Responses[line] = res
	return f
}

// Fail registers an error for a command line.
func (f *Fake) Fail(line string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[line] = err
	return f
}

// Run implements Runner.
func (f *Fake) Run(ctx context.Context, name string, args ...string) (Result, error) {
	line := Join(name, args...)

	f.mu.Lock()
	f.calls = append(f.calls, line)
	res, ok := f.Responses[line]
	err := f.Errors[line]
	hook := f.Hook
	f.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{Command: line}, ctxErr
	}
	if hook != nil {
		hook(line)
	}
	if err != nil {
		return Result{Command: line, ExitCode: -1}, err
	}
	if !ok {
		res = Result{Command: line}
	}
	return res, nil
}

// Calls returns every command line run so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Ran reports whether line was run at least once.
func (f *Fake) Ran(line string) bool {
	for _, c := range f.Calls() {
		if c == line {
			return true
		}
	}
	return false
}
