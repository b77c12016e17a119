package security

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/supabase/hostaudit/internal/applicability"
	"github.com/supabase/hostaudit/internal/config"
	"github.com/supabase/hostaudit/internal/rules"
)

func init() {
	rules.Register(func(d *rules.Deps) rules.Rule { return NewReduceSudoTimeout(d) })
}

const macOS = "Mac OS X"

var (
	timestampTimeout = regexp.MustCompile(`^Defaults\s+timestamp_timeout\s*=\s*(\S+)`)
	timestampAny     = regexp.MustCompile(`^Defaults\s+timestamp_timeout`)
)

// ReduceSudoTimeout makes sudo ask for a password on every call.
type ReduceSudoTimeout struct {
	rules.BaseRule
	sudoers string
}

func NewReduceSudoTimeout(d *rules.Deps) *ReduceSudoTimeout {
	mac := d != nil && d.Env != nil && d.Env.OSType() == macOS

	r := &ReduceSudoTimeout{sudoers: "/etc/sudoers"}
	if mac {
		r.sudoers = "/private/etc/sudoers"
	}
	r.BaseRule = rules.BaseRule{
		RuleNumber:      151,
		RuleName:        "ReduceSudoTimeout",
		RuleDescription: "Set the sudo timestamp timeout to 0 so every sudo call needs a password.",
		RuleApplicable: applicability.Predicate{
			Type:   applicability.White,
			Family: []string{"linux", "solaris", "freebsd", "darwin"},
		},
		RuleMandatory: mac,
		RuleGuidance:  []string{"CIS 5.4", "OS X 10.11 5.4"},
		RuleHelpText:  "Adds 'Defaults timestamp_timeout=0' to the sudoers file and sets its permissions to 0440.",
		RuleEnablingItem: config.MustItem(config.Spec{
			Key:          "REDUCESUDOTIMEOUT",
			Rule:         151,
			Kind:         config.KindBool,
			Default:      mac,
			Simple:       true,
			Instructions: "If set to true, the REDUCESUDOTIMEOUT variable will set the sudo timeout to 0, requiring a password for each sudo call.",
		}),
		Deps: d,
	}
	return r
}

func (r *ReduceSudoTimeout) Report(ctx context.Context) (bool, error) {
	path := r.Path(r.sudoers)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		r.Status().AddResult("%s does not exist, nothing to check", r.sudoers)
		return true, nil
	}
	if err != nil {
		return false, rules.FileError("read "+r.sudoers, err)
	}

	compliant := true
	ok, err := r.CheckPerms(path, 0o440)
	if err != nil {
		return false, err
	}
	if !ok {
		compliant = false
		r.Status().AddResult("%s does not have permissions 0440 owned by root", r.sudoers)
	}

	value, found := sudoTimeout(string(data))
	switch {
	case !found:
		compliant = false
		r.Status().AddResult("%s does not set timestamp_timeout", r.sudoers)
	case value != "0":
		compliant = false
		r.Status().AddResult("timestamp_timeout is %s, want 0", value)
	}
	return compliant, nil
}

func (r *ReduceSudoTimeout) Fix(ctx context.Context) (bool, error) {
	path := r.Path(r.sudoers)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		r.Status().AddResult("%s does not exist, not creating it", r.sudoers)
		return true, nil
	}
	if err != nil {
		return false, rules.FileError("read "+r.sudoers, err)
	}

	owner := r.RootOwner()
	if err := r.SetPerms(ctx, path, 0o440, owner, owner); err != nil {
		return false, err
	}
	if err := r.WriteFile(ctx, path, []byte(setSudoTimeout(string(data))), 0o440); err != nil {
		return false, err
	}
	return true, nil
}

func sudoTimeout(content string) (value string, found bool) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !timestampAny.MatchString(line) {
			continue
		}
		found = true
		if m := timestampTimeout.FindStringSubmatch(line); m != nil {
			value = m[1]
		}
	}
	return value, found
}

// setSudoTimeout removes existing timestamp_timeout defaults and appends a
// timeout of 0.
func setSudoTimeout(content string) string {
	var b strings.Builder
	content = strings.TrimRight(content, "\n")
	for _, line := range strings.Split(content, "\n") {
		if content == "" || timestampAny.MatchString(strings.TrimSpace(line)) {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("Defaults      timestamp_timeout=0\n")
	return b.String()
}
