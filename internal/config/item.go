// Package config implements configuration items, the typed switches that
// gate rule fixes, and the overlay file that overrides them.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the datatype of an Item.
type Kind int

const (
	KindBool Kind = iota
	KindString
	KindList
	KindInt
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return "unknown"
	}
}

// ErrInvalidValue is returned when a value cannot be coerced to, or
// validated for, an item's kind.
var ErrInvalidValue = errors.New("invalid configuration value")

// Spec declares an Item.
type Spec struct {
	Key          string
	Rule         int
	Kind         Kind
	Default      any
	Instructions string
	// Simple items appear in the short form of the generated config.
	Simple      bool
	ValidValues []string
	Pattern     string
	// Delimiter splits string input for list items. Defaults to whitespace.
	Delimiter string
}

// Item is a named, typed, user-overridable value owned by one rule.
type Item struct {
	key          string
	rule         int
	kind         Kind
	def          any
	cur          any
	set          bool
	instructions string
	comment      string
	simple       bool
	valid        map[string]bool
	validList    []string
	pattern      *regexp.Regexp
	delimiter    string
}

// NewItem builds an Item and validates its default.
func NewItem(s Spec) (*Item, error) {
	if strings.TrimSpace(s.Key) == "" {
		return nil, errors.New("configuration item key is empty")
	}
	it := &Item{
		key:          strings.ToUpper(s.Key),
		rule:         s.Rule,
		kind:         s.Kind,
		instructions: s.Instructions,
		simple:       s.Simple,
		delimiter:    s.Delimiter,
	}

	if len(s.ValidValues) > 0 {
		if s.Kind == KindBool {
			return nil, errors.Errorf("%s: valid value sets make no sense for bool items", it.key)
		}
		it.valid = make(map[string]bool, len(s.ValidValues))
		for _, v := range s.ValidValues {
			it.valid[v] = true
		}
		it.validList = append([]string(nil), s.ValidValues...)
	}
	if s.Pattern != "" {
		if s.Kind != KindString {
			return nil, errors.Errorf("%s: regex patterns only apply to string items", it.key)
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: pattern", it.key)
		}
		it.pattern = re
	}

	def, err := it.coerce(s.Default)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: default", it.key)
	}
	it.def = def
	return it, nil
}

// MustItem is NewItem for rule constructors with static specs.
func MustItem(s Spec) *Item {
	it, err := NewItem(s)
	if err != nil {
		panic(err)
	}
	return it
}

func (i *Item) Key() string           { return i.key }
func (i *Item) Rule() int             { return i.rule }
func (i *Item) Kind() Kind            { return i.kind }
func (i *Item) Default() any          { return i.def }
func (i *Item) Instructions() string  { return i.instructions }
func (i *Item) Comment() string       { return i.comment }
func (i *Item) SetComment(c string)   { i.comment = c }
func (i *Item) Simple() bool          { return i.simple }
func (i *Item) IsSet() bool           { return i.set }
func (i *Item) ValidValues() []string { return append([]string(nil), i.validList...) }

// Value returns the current value, or the default if none was set.
func (i *Item) Value() any {
	if i.set {
		return i.cur
	}
	return i.def
}

// Set coerces v to the item's kind and stores it. On error the current
// value is unchanged.
func (i *Item) Set(v any) error {
	c, err := i.coerce(v)
	if err != nil {
		return errors.Wrapf(err, "%s", i.key)
	}
	i.cur = c
	i.set = true
	return nil
}

// Reset drops the current value so the default applies again.
func (i *Item) Reset() {
	i.cur = nil
	i.set = false
}

// Bool returns the value of a bool item, false for any other kind.
func (i *Item) Bool() bool {
	b, _ := i.Value().(bool)
	return b
}

// String returns the value rendered as a string.
func (i *Item) String() string {
	switch v := i.Value().(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, " ")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// List returns a copy of a list item's value.
func (i *Item) List() []string {
	l, _ := i.Value().([]string)
	return append([]string(nil), l...)
}

// Int returns the value of an int item.
func (i *Item) Int() int {
	n, _ := i.Value().(int)
	return n
}

// Float returns the value of a float item.
func (i *Item) Float() float64 {
	f, _ := i.Value().(float64)
	return f
}

func (i *Item) coerce(v any) (any, error) {
	var (
		out any
		err error
	)
	switch i.kind {
	case KindBool:
		out, err = toBool(v)
	case KindString:
		out, err = toString(v)
	case KindList:
		out, err = toList(v, i.delimiter)
	case KindInt:
		out, err = toInt(v)
	case KindFloat:
		out, err = toFloat(v)
	default:
		err = errors.Errorf("unknown kind %d", i.kind)
	}
	if err != nil {
		return nil, err
	}
	if err := i.validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (i *Item) validate(v any) error {
	switch val := v.(type) {
	case string:
		if i.valid != nil && !i.valid[val] {
			return errors.Wrapf(ErrInvalidValue, "%q not in %v", val, i.validList)
		}
		if i.pattern != nil && !i.pattern.MatchString(val) {
			return errors.Wrapf(ErrInvalidValue, "%q does not match %s", val, i.pattern)
		}
	case []string:
		if i.valid != nil {
			for _, e := range val {
				if !i.valid[e] {
					return errors.Wrapf(ErrInvalidValue, "%q not in %v", e, i.validList)
				}
			}
		}
	case int:
		if i.valid != nil && !i.valid[strconv.Itoa(val)] {
			return errors.Wrapf(ErrInvalidValue, "%d not in %v", val, i.validList)
		}
	}
	return nil
}

func toBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "yes", "true", "on", "1":
			return true, nil
		case "no", "false", "off", "0":
			return false, nil
		}
	}
	return false, errors.Wrapf(ErrInvalidValue, "cannot use %v (%T) as bool", v, v)
}

func toString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case nil:
		return "", nil
	case bool, int, int64, float64:
		return fmt.Sprint(val), nil
	}
	return "", errors.Wrapf(ErrInvalidValue, "cannot use %v (%T) as string", v, v)
}

func toList(v any, delim string) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string{}, val...), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			s, err := toString(e)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		if delim == "" || delim == " " {
			return strings.Fields(val), nil
		}
		out := []string{}
		for _, p := range strings.Split(val, delim) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrInvalidValue, "cannot use %v (%T) as list", v, v)
}

func toInt(v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val == float64(int(val)) {
			return int(val), nil
		}
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err == nil {
			return n, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidValue, "cannot use %v (%T) as int", v, v)
}

func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidValue, "cannot use %v (%T) as float", v, v)
}
