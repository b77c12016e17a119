package rules

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/supabase/hostaudit/internal/command"
	"github.com/supabase/hostaudit/internal/statelog"
)

// UndoEvents reverses the rule's events, newest first. Each event is
// deleted once it has been reversed; events that fail stay in the log so a
// later undo can retry them.
func (r *BaseRule) UndoEvents(ctx context.Context) (bool, error) {
	if r.Deps == nil || r.Deps.Changes == nil {
		return false, errors.New("no change log available")
	}
	events, err := r.Deps.Changes.Events(ctx, r.RuleNumber)
	if err != nil {
		return false, FileError("read change log", err)
	}
	if len(events) == 0 {
		r.status.AddResult("no recorded changes to undo")
		return true, nil
	}

	logger := r.Deps.RuleLogger(r)
	ok := true
	for i := len(events) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ev := events[i]
		if err := r.revert(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return false, err
			}
			ok = false
			r.status.AddResult("could not revert %s (%s): %v", ev.ID, ev.Type, err)
			logger.Warn("revert failed", "event", ev.ID, "type", ev.Type, "err", err)
			continue
		}
		if err := r.Deps.Changes.DeleteEntry(ctx, ev.ID); err != nil {
			ok = false
			r.status.AddResult("reverted %s but could not delete it: %v", ev.ID, err)
			continue
		}
		r.status.AddResult("reverted %s (%s %s)", ev.ID, ev.Type, describe(ev))
	}
	return ok, nil
}

func describe(ev statelog.Event) string {
	switch ev.Type {
	case statelog.EventComm:
		return ev.Command
	case statelog.EventService:
		return ev.Target
	default:
		return ev.Path
	}
}

func (r *BaseRule) revert(ctx context.Context, ev statelog.Event) error {
	switch ev.Type {
	case statelog.EventConf, statelog.EventCreation, statelog.EventDeletion:
		if err := r.Deps.Changes.RevertFileChange(ctx, ev.ID); err != nil {
			return FileError("restore "+ev.Path, err)
		}
		return nil

	case statelog.EventPerm:
		start, err := ParsePerms(ev.StartState)
		if err != nil {
			return FileError("restore perms "+ev.Path, err)
		}
		current, err := StatPerms(ev.Path)
		if err != nil {
			return err
		}
		return applyPerms(ev.Path, current, start)

	case statelog.EventComm:
		if strings.TrimSpace(ev.UndoCommand) == "" {
			r.status.AddResult("command %q has no undo", ev.Command)
			return nil
		}
		name, args := command.Split(ev.UndoCommand)
		res, err := r.Run(ctx, name, args...)
		if err != nil {
			return err
		}
		if !res.Success() {
			return CommandError(ev.UndoCommand, errors.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
		}
		return nil

	case statelog.EventService:
		return r.runService(ctx, ev.Target, ev.StartState == "enabled")

	default:
		return errors.Errorf("unknown event type %q", ev.Type)
	}
}
