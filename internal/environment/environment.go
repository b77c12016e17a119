// Package environment holds the immutable platform snapshot that every rule
// and the applicability matcher read from.
package environment

import (
	"strings"

	"github.com/pkg/errors"
)

// FISMA risk categories, lowest to highest.
const (
	FismaLow  = "low"
	FismaMed  = "med"
	FismaHigh = "high"
)

// ErrUndetermined is returned when platform facts are missing. Callers treat
// it as fatal: running fixes against a misidentified OS is not safe.
var ErrUndetermined = errors.New("platform facts could not be determined")

// Info is the mutable input used to build an Environment.
type Info struct {
	OSType        string   // display name, e.g. "Red Hat Enterprise Linux" or "Mac OS X"
	OSVersion     string   // dot separated, e.g. "8.4"
	Families      []string // e.g. ["linux"]
	Hostname      string
	EUID          int
	FismaCategory string

	InstallMode bool
	VerboseMode bool
	DebugMode   bool

	ConfigPath string
	StateDir   string
}

// Environment is a read-only view of the host. It is built once per process
// and shared by reference.
type Environment struct {
	osType    string
	osVersion string
	families  []string
	hostname  string
	euid      int
	fisma     string

	installMode bool
	verboseMode bool
	debugMode   bool

	configPath string
	stateDir   string
}

// New validates info and freezes it into an Environment.
func New(info Info) (*Environment, error) {
	if strings.TrimSpace(info.OSType) == "" {
		return nil, errors.Wrap(ErrUndetermined, "os type is empty")
	}
	if strings.TrimSpace(info.OSVersion) == "" {
		return nil, errors.Wrap(ErrUndetermined, "os version is empty")
	}
	if len(info.Families) == 0 {
		return nil, errors.Wrap(ErrUndetermined, "os family is empty")
	}

	fisma := info.FismaCategory
	if fisma == "" {
		fisma = FismaLow
	}
	if !ValidFisma(fisma) {
		return nil, errors.Errorf("invalid fisma category %q: valid values are low, med, high", fisma)
	}

	families := make([]string, 0, len(info.Families))
	for _, f := range info.Families {
		families = append(families, strings.ToLower(strings.TrimSpace(f)))
	}

	return &Environment{
		osType:      strings.TrimSpace(info.OSType),
		osVersion:   strings.TrimSpace(info.OSVersion),
		families:    families,
		hostname:    info.Hostname,
		euid:        info.EUID,
		fisma:       fisma,
		installMode: info.InstallMode,
		verboseMode: info.VerboseMode,
		debugMode:   info.DebugMode,
		configPath:  info.ConfigPath,
		stateDir:    info.StateDir,
	}, nil
}

// ValidFisma reports whether level is one of low, med or high.
func ValidFisma(level string) bool {
	switch level {
	case FismaLow, FismaMed, FismaHigh:
		return true
	}
	return false
}

func (e *Environment) OSType() string        { return e.osType }
func (e *Environment) OSVersion() string     { return e.osVersion }
func (e *Environment) Hostname() string      { return e.hostname }
func (e *Environment) EUID() int             { return e.euid }
func (e *Environment) IsRoot() bool          { return e.euid == 0 }
func (e *Environment) FismaCategory() string { return e.fisma }
func (e *Environment) InstallMode() bool     { return e.installMode }
func (e *Environment) VerboseMode() bool     { return e.verboseMode }
func (e *Environment) DebugMode() bool       { return e.debugMode }
func (e *Environment) ConfigPath() string    { return e.configPath }
func (e *Environment) StateDir() string      { return e.stateDir }

// Families returns a copy of the OS family set.
func (e *Environment) Families() []string {
	out := make([]string, len(e.families))
	copy(out, e.families)
	return out
}

// InFamily reports whether the host belongs to any of the given families.
func (e *Environment) InFamily(families ...string) bool {
	for _, want := range families {
		want = strings.ToLower(want)
		for _, have := range e.families {
			if have == want {
				return true
			}
		}
	}
	return false
}

// String renders a one-line description used in log and report headers.
func (e *Environment) String() string {
	return e.osType + " " + e.osVersion + " (" + strings.Join(e.families, ",") + ")"
}
