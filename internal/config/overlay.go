package config

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the overlay document version written by Write.
const CurrentVersion = 1

// Document is the on-disk overlay: rule name -> item key -> value.
type Document struct {
	Version  int                          `yaml:"version" toml:"version"`
	Rules    map[string]map[string]any    `yaml:"rules" toml:"rules"`
	Comments map[string]map[string]string `yaml:"comments,omitempty" toml:"comments,omitempty"`
}

// Load reads an overlay file. A missing file yields an empty document. The
// format is TOML when the path ends in .toml, YAML otherwise.
func Load(path string) (*Document, error) {
	doc := &Document{}
	if path == "" {
		return doc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, errors.Wrapf(err, "read config %s", path)
	}
	if err := Parse(data, strings.HasSuffix(strings.ToLower(path), ".toml"), doc); err != nil {
		return &Document{}, errors.Wrapf(err, "parse config %s", path)
	}
	return doc, nil
}

// Parse decodes data into doc.
func Parse(data []byte, isTOML bool, doc *Document) error {
	if isTOML {
		return toml.Unmarshal(data, doc)
	}
	return yaml.Unmarshal(data, doc)
}

func lookupFold[V any](m map[string]V, key string) (V, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// Apply sets the items of one rule from the overlay. A value that does not
// coerce or validate is logged and the item keeps its default; other keys
// are still applied. It returns the number of items changed.
func (d *Document) Apply(ruleName string, items []*Item, logger *log.Logger) int {
	if d == nil {
		return 0
	}
	values, _ := lookupFold(d.Rules, ruleName)
	comments, _ := lookupFold(d.Comments, ruleName)

	applied := 0
	for key, raw := range values {
		item := findItem(items, key)
		if item == nil {
			if logger != nil {
				logger.Warn("unknown configuration key", "rule", ruleName, "key", key)
			}
			continue
		}
		if err := item.Set(raw); err != nil {
			if logger != nil {
				logger.Warn("ignoring configuration value", "rule", ruleName, "key", item.Key(), "err", err)
			}
			continue
		}
		applied++
	}
	for key, comment := range comments {
		if item := findItem(items, key); item != nil {
			item.SetComment(comment)
		}
	}
	return applied
}

func findItem(items []*Item, key string) *Item {
	for _, it := range items {
		if strings.EqualFold(it.Key(), key) {
			return it
		}
	}
	return nil
}
