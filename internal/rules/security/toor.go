package security

import (
	"context"
	"os"
	"strings"

	"github.com/supabase/hostaudit/internal/applicability"
	"github.com/supabase/hostaudit/internal/rules"
)

func init() {
	rules.Register(func(d *rules.Deps) rules.Rule { return NewRemoveToorUser(d) })
}

const passwdFile = "/etc/passwd"

// RemoveToorUser deletes FreeBSD's spare root account.
type RemoveToorUser struct {
	rules.BaseRule
}

func NewRemoveToorUser(d *rules.Deps) *RemoveToorUser {
	r := &RemoveToorUser{}
	r.BaseRule = rules.BaseRule{
		RuleNumber:       94,
		RuleName:         "RemoveToorUser",
		RuleDescription:  "Remove the toor account, a second uid 0 login shipped with FreeBSD.",
		RuleApplicable:   applicability.Predicate{Type: applicability.White, Family: []string{"freebsd"}},
		RuleMandatory:    true,
		RuleRootRequired: true,
		RuleHelpText:     "Runs 'pw userdel toor'. The account cannot be restored by undo.",
		RuleEnablingItem: rules.EnableItem(94, "REMOVETOORUSER",
			"To disable this rule set the value of REMOVETOORUSER to False."),
		Deps: d,
	}
	return r
}

func (r *RemoveToorUser) Report(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(r.Path(passwdFile))
	if err != nil {
		if os.IsNotExist(err) {
			r.Status().AddResult("%s does not exist", passwdFile)
			return false, nil
		}
		return false, rules.FileError("read "+passwdFile, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "toor:") {
			r.Status().AddResult("toor account is present")
			return false, nil
		}
	}
	return true, nil
}

func (r *RemoveToorUser) Fix(ctx context.Context) (bool, error) {
	if _, err := r.RunRecorded(ctx, nil, "pw", "userdel", "toor"); err != nil {
		return false, err
	}
	return true, nil
}

// Undo forgets the recorded deletion. A removed account is not recreated.
func (r *RemoveToorUser) Undo(ctx context.Context) (bool, error) {
	if _, err := r.Deps.Changes.ClearRule(ctx, r.RuleNumber); err != nil {
		return false, rules.FileError("clear change log", err)
	}
	return r.NoUndo("the toor account cannot be recreated")
}
