package kernel

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/supabase/hostaudit/internal/applicability"
	"github.com/supabase/hostaudit/internal/rules"
)

func init() {
	rules.Register(func(d *rules.Deps) rules.Rule { return NewNoCoreDumps(d) })
}

const limitsConf = "/etc/security/limits.conf"

var (
	hardCoreZero = regexp.MustCompile(`^\*\s+hard\s+core\s+0\s*$`)
	hardCoreAny  = regexp.MustCompile(`^\*\s+hard\s+core\s`)
)

var suidDumpable = sysctlSetting{Key: "fs.suid_dumpable", Value: "0", DropIn: "99-hostaudit-coredumps.conf"}

// NoCoreDumps stops processes from writing core dumps, which may contain
// secrets from memory.
type NoCoreDumps struct {
	rules.BaseRule
}

func NewNoCoreDumps(d *rules.Deps) *NoCoreDumps {
	r := &NoCoreDumps{}
	r.BaseRule = rules.BaseRule{
		RuleNumber:      49,
		RuleName:        "NoCoreDumps",
		RuleDescription: "Disable core dumps for all users and for setuid programs.",
		RuleApplicable:  applicability.Predicate{Type: applicability.White, Family: []string{"linux"}},
		RuleMandatory:   true,
		RuleGuidance:    []string{"NSA 2.2.4.2"},
		RuleHelpText: "Sets a hard core size limit of 0 in " + limitsConf +
			" and sets fs.suid_dumpable to 0.",
		RuleEnablingItem: rules.EnableItem(49, "NOCOREDUMPS",
			"To prevent this rule from running, set the value of NOCOREDUMPS to False."),
		Deps: d,
	}
	return r
}

func (r *NoCoreDumps) Report(ctx context.Context) (bool, error) {
	limits, err := r.reportLimits()
	if err != nil {
		return false, err
	}
	sysctl, err := suidDumpable.report(ctx, &r.BaseRule)
	if err != nil {
		return false, err
	}
	return limits && sysctl, nil
}

func (r *NoCoreDumps) reportLimits() (bool, error) {
	path := r.Path(limitsConf)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		r.Status().AddResult("%s does not exist", limitsConf)
		return false, nil
	}
	if err != nil {
		return false, rules.FileError("read "+limitsConf, err)
	}

	compliant := true
	if !hasLine(string(data), hardCoreZero) {
		compliant = false
		r.Status().AddResult("%s does not set a hard core limit of 0", limitsConf)
	}
	ok, err := r.CheckPerms(path, 0o644)
	if err != nil {
		return false, err
	}
	if !ok {
		compliant = false
		r.Status().AddResult("%s does not have permissions 0644 owned by root", limitsConf)
	}
	return compliant, nil
}

func (r *NoCoreDumps) Fix(ctx context.Context) (bool, error) {
	path := r.Path(limitsConf)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, rules.FileError("read "+limitsConf, err)
	}

	if !hasLine(string(data), hardCoreZero) {
		if err := r.WriteFile(ctx, path, []byte(setHardCore(string(data))), 0o644); err != nil {
			return false, err
		}
	}
	owner := r.RootOwner()
	if err := r.SetPerms(ctx, path, 0o644, owner, owner); err != nil {
		return false, err
	}

	if err := suidDumpable.fix(ctx, &r.BaseRule); err != nil {
		return false, err
	}
	return true, nil
}

func hasLine(content string, re *regexp.Regexp) bool {
	for _, line := range strings.Split(content, "\n") {
		if re.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// setHardCore drops any existing hard core limit for all users and appends
// a limit of 0.
func setHardCore(content string) string {
	var b strings.Builder
	content = strings.TrimRight(content, "\n")
	for _, line := range strings.Split(content, "\n") {
		if content == "" || hardCoreAny.MatchString(strings.TrimSpace(line)) {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("* hard core 0\n")
	return b.String()
}
