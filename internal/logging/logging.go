// Package logging builds the run's leveled logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// Options selects level and destinations.
type Options struct {
	Verbose bool
	Debug   bool
	// File, when set, receives a copy of every entry in logfmt.
	File string
	// Output defaults to stderr.
	Output io.Writer
}

// Level maps the verbosity flags onto a log level.
func (o Options) Level() log.Level {
	switch {
	case o.Debug:
		return log.DebugLevel
	case o.Verbose:
		return log.InfoLevel
	default:
		return log.WarnLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns the logger and a closer for the log file, if any.
func New(opts Options) (*log.Logger, io.Closer, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           opts.Level(),
		Prefix:          "hostaudit",
		ReportTimestamp: opts.Debug,
		TimeFormat:      time.TimeOnly,
	})
	if opts.File == "" {
		return logger, nopCloser{}, nil
	}

	f, err := os.OpenFile(opts.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open log file %s", opts.File)
	}
	logger = log.NewWithOptions(io.MultiWriter(out, f), log.Options{
		Level:           opts.Level(),
		Prefix:          "hostaudit",
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       log.LogfmtFormatter,
	})
	return logger, f, nil
}
