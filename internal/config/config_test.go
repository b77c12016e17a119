package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestNewItem(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"bool", Spec{Key: "enablec", Kind: KindBool, Default: true}, false},
		{"bool from string", Spec{Key: "X", Kind: KindBool, Default: "yes"}, false},
		{"missing key", Spec{Kind: KindBool, Default: true}, true},
		{"bool without default", Spec{Key: "X", Kind: KindBool}, true},
		{"bool valid set", Spec{Key: "X", Kind: KindBool, Default: true, ValidValues: []string{"a"}}, true},
		{"string pattern ok", Spec{Key: "X", Kind: KindString, Default: "5", Pattern: `^\d+$`}, false},
		{"string pattern bad default", Spec{Key: "X", Kind: KindString, Default: "five", Pattern: `^\d+$`}, true},
		{"pattern on list", Spec{Key: "X", Kind: KindList, Default: "", Pattern: "x"}, true},
		{"list from string", Spec{Key: "X", Kind: KindList, Default: "a b"}, false},
		{"int", Spec{Key: "X", Kind: KindInt, Default: 5}, false},
		{"float", Spec{Key: "X", Kind: KindFloat, Default: 0.5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewItem(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewItem() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestItemValueFallsBackToDefault(t *testing.T) {
	it := MustItem(Spec{Key: "enablec", Kind: KindBool, Default: true})

	if it.Key() != "ENABLEC" {
		t.Errorf("Key() = %q, want ENABLEC", it.Key())
	}
	if !it.Bool() || it.IsSet() {
		t.Fatal("unset item should report its default")
	}

	if err := it.Set("no"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if it.Bool() {
		t.Error("Bool() = true after Set(no)")
	}

	if err := it.Set(42); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Set(42) error = %v, want ErrInvalidValue", err)
	}
	if it.Bool() {
		t.Error("failed Set should leave the current value unchanged")
	}

	it.Reset()
	if !it.Bool() {
		t.Error("Reset() should restore the default")
	}
}

func TestItemCoercion(t *testing.T) {
	list := MustItem(Spec{Key: "USERS", Kind: KindList, Default: []string{}, ValidValues: []string{"alice", "bob"}})
	if err := list.Set("alice bob"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := list.List(); len(got) != 2 || got[1] != "bob" {
		t.Errorf("List() = %v", got)
	}
	if err := list.Set([]any{"carol"}); err == nil {
		t.Error("Set() should reject values outside the valid set")
	}

	csv := MustItem(Spec{Key: "PATHS", Kind: KindList, Default: "", Delimiter: ","})
	if err := csv.Set("/a, /b,"); err != nil {
		t.Fatal(err)
	}
	if got := csv.String(); got != "/a /b" {
		t.Errorf("String() = %q, want %q", got, "/a /b")
	}

	n := MustItem(Spec{Key: "TIMEOUT", Kind: KindInt, Default: 5})
	for _, v := range []any{int64(3), 3.0, "3"} {
		if err := n.Set(v); err != nil || n.Int() != 3 {
			t.Errorf("Set(%v) = %v, Int() = %d", v, err, n.Int())
		}
	}
	if err := n.Set(2.5); err == nil {
		t.Error("Set(2.5) on int item should fail")
	}

	f := MustItem(Spec{Key: "RATIO", Kind: KindFloat, Default: 1})
	if f.Float() != 1.0 {
		t.Errorf("Float() = %v, want 1", f.Float())
	}
}

const yamlOverlay = `version: 1
rules:
  reducesudotimeout:
    reducesudotimeout: false
    TIMEOUT: "not a number"
    BOGUS: 1
comments:
  ReduceSudoTimeout:
    REDUCESUDOTIMEOUT: disabled for build hosts
`

const tomlOverlay = `version = 1

[rules.ReduceSudoTimeout]
REDUCESUDOTIMEOUT = false
TIMEOUT = 3
`

func sudoItems() []*Item {
	return []*Item{
		MustItem(Spec{Key: "REDUCESUDOTIMEOUT", Kind: KindBool, Default: true}),
		MustItem(Spec{Key: "TIMEOUT", Kind: KindInt, Default: 5}),
	}
}

func TestLoadAndApply(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		content     string
		wantApplied int
		wantTimeout int
		wantComment string
	}{
		{"yaml", "hostaudit.yaml", yamlOverlay, 1, 5, "disabled for build hosts"},
		{"toml", "hostaudit.toml", tomlOverlay, 2, 3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			doc, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			items := sudoItems()
			if got := doc.Apply("ReduceSudoTimeout", items, quietLogger()); got != tt.wantApplied {
				t.Errorf("Apply() = %d, want %d", got, tt.wantApplied)
			}
			if items[0].Bool() {
				t.Error("REDUCESUDOTIMEOUT should be overridden to false")
			}
			if items[1].Int() != tt.wantTimeout {
				t.Errorf("TIMEOUT = %d, want %d", items[1].Int(), tt.wantTimeout)
			}
			if items[0].Comment() != tt.wantComment {
				t.Errorf("Comment() = %q, want %q", items[0].Comment(), tt.wantComment)
			}
		})
	}
}

func TestLoadMissingAndBroken(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || doc == nil {
		t.Fatalf("Load(missing) = %v, %v", doc, err)
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("rules: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err = Load(path)
	if err == nil {
		t.Fatal("Load(broken) should fail")
	}
	if doc == nil || doc.Apply("x", sudoItems(), quietLogger()) != 0 {
		t.Error("a broken overlay should still yield an empty, usable document")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	items := sudoItems()
	items[0] = MustItem(Spec{
		Key:          "REDUCESUDOTIMEOUT",
		Kind:         KindBool,
		Default:      true,
		Simple:       true,
		Instructions: "Set to false to leave the sudo timeout alone.",
	})
	if err := items[0].Set(false); err != nil {
		t.Fatal(err)
	}
	items[0].SetComment("build hosts")

	rules := []RuleItems{{Name: "ReduceSudoTimeout", Number: 151, Items: items}}

	t.Run("simple", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Write(&buf, rules, true); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, "# Set to false to leave the sudo timeout alone.") {
			t.Errorf("instructions missing from output:\n%s", out)
		}
		if strings.Contains(out, "TIMEOUT: 5") {
			t.Errorf("simple output should omit non-simple items:\n%s", out)
		}
	})

	t.Run("full", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Write(&buf, rules, false); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		doc := &Document{}
		if err := Parse(buf.Bytes(), false, doc); err != nil {
			t.Fatalf("Parse() error = %v\n%s", err, buf.String())
		}
		if doc.Version != CurrentVersion {
			t.Errorf("Version = %d, want %d", doc.Version, CurrentVersion)
		}

		fresh := sudoItems()
		if got := doc.Apply("ReduceSudoTimeout", fresh, quietLogger()); got != 2 {
			t.Errorf("Apply() = %d, want 2", got)
		}
		if fresh[0].Bool() {
			t.Error("written value should round trip as false")
		}
		if fresh[0].Comment() != "build hosts" {
			t.Errorf("Comment() = %q, want %q", fresh[0].Comment(), "build hosts")
		}
	})
}
