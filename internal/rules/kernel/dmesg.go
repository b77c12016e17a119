package kernel

import (
	"context"

	"github.com/supabase/hostaudit/internal/applicability"
	"github.com/supabase/hostaudit/internal/rules"
)

func init() {
	rules.Register(func(d *rules.Deps) rules.Rule { return NewRestrictDmesg(d) })
}

var dmesgRestrict = sysctlSetting{Key: "kernel.dmesg_restrict", Value: "1", DropIn: "99-hostaudit-dmesg.conf"}

// RestrictDmesg limits reading the kernel message buffer to privileged
// users.
type RestrictDmesg struct {
	rules.BaseRule
}

func NewRestrictDmesg(d *rules.Deps) *RestrictDmesg {
	r := &RestrictDmesg{}
	r.BaseRule = rules.BaseRule{
		RuleNumber:       86,
		RuleName:         "RestrictAccessToKernelMessageBuffer",
		RuleDescription:  "Restrict access to the kernel message buffer to root.",
		RuleApplicable:   applicability.Predicate{Type: applicability.White, Family: []string{"linux"}},
		RuleMandatory:    true,
		RuleRootRequired: true,
		RuleGuidance:     []string{"CCE-RHEL7-CCE-TBD 2.2.4.5"},
		RuleHelpText:     "Sets kernel.dmesg_restrict to 1 now and at boot, so unprivileged users cannot read kernel addresses from dmesg.",
		RuleEnablingItem: rules.EnableItem(86, "RESTRICTACCESSTOKERNELMESSAGEBUFFER",
			"To prevent this rule from running, set the value of RestrictAccessToKernelMessageBuffer to False."),
		Deps: d,
	}
	return r
}

func (r *RestrictDmesg) Report(ctx context.Context) (bool, error) {
	return dmesgRestrict.report(ctx, &r.BaseRule)
}

func (r *RestrictDmesg) Fix(ctx context.Context) (bool, error) {
	if err := dmesgRestrict.fix(ctx, &r.BaseRule); err != nil {
		return false, err
	}
	return true, nil
}
