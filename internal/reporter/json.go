package reporter

import (
	"encoding/json"
	"io"
	"time"

	"github.com/supabase/hostaudit/internal/runner"
)

// JSONReporter outputs run results in JSON format
type JSONReporter struct {
	w      io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{w: w, pretty: pretty}
}

// JSONOutput represents the JSON output structure
type JSONOutput struct {
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	*runner.Result
	Statuses map[string]string `json:"statuses"`
}

// Report writes the run result as JSON
func (r *JSONReporter) Report(result *runner.Result) error {
	statuses := make(map[string]string, len(result.Rules))
	for _, rr := range result.Rules {
		statuses[rr.Name] = Status(result.Mode, rr)
	}

	output := JSONOutput{
		Version:   "1.0.0",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Result:    result,
		Statuses:  statuses,
	}

	encoder := json.NewEncoder(r.w)
	if r.pretty {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(output)
}
