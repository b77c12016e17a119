package rules

import (
	"github.com/pkg/errors"
)

// Error kinds raised inside a rule. All of them become a recorded per-rule
// failure; none stop the run.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrCommandExecution = errors.New("command execution error")
	ErrPermission       = errors.New("permission error")
	ErrFileIO           = errors.New("file I/O error")
)

var (
	// ErrAborted is returned when the run is interrupted. It is never
	// converted into a per-rule failure.
	ErrAborted = errors.New("run aborted")
	// ErrDuplicateRule is a fatal catalog error.
	ErrDuplicateRule = errors.New("duplicate rule identity")
	// ErrInvalidCatalog is a fatal catalog error other than a duplicate.
	ErrInvalidCatalog = errors.New("invalid rule catalog")
)

// RuleError wraps an error with its kind and the operation that failed.
type RuleError struct {
	Kind error
	Op   string
	Err  error
}

func (e *RuleError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Is matches the error kind.
func (e *RuleError) Is(target error) bool { return target == e.Kind }

func (e *RuleError) Unwrap() error { return e.Err }

func newRuleError(kind error, op string, err error) error {
	return errors.WithStack(&RuleError{Kind: kind, Op: op, Err: err})
}

// ConfigError reports a bad or missing configuration value.
func ConfigError(op string, err error) error { return newRuleError(ErrConfiguration, op, err) }

// CommandError reports an external command that failed or was not found.
func CommandError(op string, err error) error { return newRuleError(ErrCommandExecution, op, err) }

// PermissionError reports missing privilege.
func PermissionError(op string, err error) error { return newRuleError(ErrPermission, op, err) }

// FileError reports a failed file operation.
func FileError(op string, err error) error { return newRuleError(ErrFileIO, op, err) }

// IsAbort reports whether err means the run was interrupted.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted)
}
