// Package statelog persists the change events recorded by rule fixes so a
// later invocation can undo them.
package statelog

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// EventType classifies a recorded mutation.
type EventType string

const (
	// EventConf is an edit to an existing file.
	EventConf EventType = "conf"
	// EventCreation is a file that did not exist before the fix.
	EventCreation EventType = "creation"
	// EventDeletion is a file removed by the fix.
	EventDeletion EventType = "deletion"
	// EventPerm is an ownership or mode change.
	EventPerm EventType = "perm"
	// EventComm is a command run by the fix.
	EventComm EventType = "comm"
	// EventService is a service enabled or disabled by the fix.
	EventService EventType = "service"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventConf, EventCreation, EventDeletion, EventPerm, EventComm, EventService:
		return true
	}
	return false
}

// HasSnapshot reports whether events of this type carry saved file content.
func (t EventType) HasSnapshot() bool {
	return t == EventConf || t == EventCreation || t == EventDeletion
}

// Event is one recorded mutation. Which payload fields are set depends on
// Type: file events use Path, perm events use Path with StartState and
// EndState ("<mode> <uid> <gid>"), comm events use Command and UndoCommand,
// service events use Target with StartState and EndState.
type Event struct {
	ID          string
	Rule        int
	Type        EventType
	Path        string
	Target      string
	Command     string
	UndoCommand string
	StartState  string
	EndState    string
	RunID       string
	RecordedAt  time.Time
}

// Limits of the id scheme. Ids outside them would not be seven digits and
// are refused by the store.
const (
	MaxRule          = 9999
	MaxEventsPerRule = 999
)

// ErrBadEventID is returned for an id that is not seven digits.
var ErrBadEventID = errors.New("malformed event id")

// EventID builds the id for the n-th event of a rule: the zero padded rule
// number followed by a zero padded iterator.
func EventID(rule, n int) string {
	return fmt.Sprintf("%04d%03d", rule, n)
}

// ValidID reports whether id has the seven digit EventID shape.
func ValidID(id string) bool {
	if len(id) != 7 {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IDs issues event ids for one rule, starting at 1.
type IDs struct {
	rule int
	n    int
}

// NewIDs returns an iterator for rule.
func NewIDs(rule int) *IDs {
	return &IDs{rule: rule}
}

// Next returns the next id.
func (g *IDs) Next() string {
	g.n++
	return EventID(g.rule, g.n)
}
