package rules

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/supabase/hostaudit/internal/command"
	"github.com/supabase/hostaudit/internal/statelog"
	"github.com/supabase/hostaudit/pkg/types"
)

// Every helper below records its event before it mutates anything. If the
// record fails the mutation is not attempted.

func (r *BaseRule) record(ctx context.Context, ev statelog.Event) error {
	if r.Deps == nil || r.Deps.Changes == nil {
		return errors.New("no change log available")
	}
	ev.Rule = r.RuleNumber
	ev.RunID = r.Deps.RunID
	if ev.ID == "" {
		ev.ID = r.NextEventID()
	}
	var err error
	if ev.Type.HasSnapshot() {
		err = r.Deps.Changes.RecordFileChange(ctx, ev)
	} else {
		err = r.Deps.Changes.Record(ctx, ev)
	}
	return errors.Wrapf(err, "record %s event", ev.Type)
}

// WriteFile sets path's content. A mode of 0 keeps the existing mode, or
// uses 0644 for a new file. Nothing is recorded if the file already has
// the wanted content and mode.
func (r *BaseRule) WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error {
	typ := statelog.EventCreation
	info, err := os.Stat(path)
	switch {
	case err == nil:
		typ = statelog.EventConf
		if mode == 0 {
			mode = info.Mode().Perm()
		}
		current, readErr := os.ReadFile(path)
		if readErr != nil {
			return FileError("read "+path, readErr)
		}
		if bytes.Equal(current, data) && info.Mode().Perm() == mode {
			return nil
		}
	case os.IsNotExist(err):
		if mode == 0 {
			mode = 0o644
		}
	default:
		return FileError("stat "+path, err)
	}

	if err := r.record(ctx, statelog.Event{Type: typ, Path: path}); err != nil {
		return FileError("write "+path, err)
	}
	if err := statelog.WriteFileAtomic(path, data, mode); err != nil {
		return FileError("write "+path, err)
	}
	r.status.AddResult("wrote %s", path)
	return nil
}

// DeleteFile removes path after saving it. A missing file is not an error.
func (r *BaseRule) DeleteFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := r.record(ctx, statelog.Event{Type: statelog.EventDeletion, Path: path}); err != nil {
		return FileError("delete "+path, err)
	}
	if err := os.Remove(path); err != nil {
		return FileError("delete "+path, err)
	}
	r.status.AddResult("deleted %s", path)
	return nil
}

// Perms is a file's mode and ownership.
type Perms struct {
	Mode fs.FileMode
	UID  int
	GID  int
}

func (p Perms) String() string {
	return fmt.Sprintf("%04o %d %d", uint32(p.Mode.Perm()), p.UID, p.GID)
}

// ParsePerms is the inverse of Perms.String.
func ParsePerms(s string) (Perms, error) {
	var (
		mode     uint32
		uid, gid int
	)
	if _, err := fmt.Sscanf(s, "%o %d %d", &mode, &uid, &gid); err != nil {
		return Perms{}, errors.Wrapf(err, "parse perms %q", s)
	}
	return Perms{Mode: fs.FileMode(mode), UID: uid, GID: gid}, nil
}

// StatPerms reads a file's mode and ownership.
func StatPerms(path string) (Perms, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Perms{}, FileError("stat "+path, err)
	}
	return Perms{Mode: fs.FileMode(st.Mode) & fs.ModePerm, UID: int(st.Uid), GID: int(st.Gid)}, nil
}

// RootOwner returns 0 when running as root and -1 otherwise, for use as
// the uid and gid arguments of SetPerms.
func (r *BaseRule) RootOwner() int {
	if r.Deps != nil && r.Deps.Env != nil && r.Deps.Env.IsRoot() {
		return 0
	}
	return -1
}

// CheckPerms reports whether path has mode and, when running as root, is
// owned by root.
func (r *BaseRule) CheckPerms(path string, mode fs.FileMode) (bool, error) {
	p, err := StatPerms(path)
	if err != nil {
		return false, err
	}
	if p.Mode != mode.Perm() {
		return false, nil
	}
	if r.RootOwner() == 0 && (p.UID != 0 || p.GID != 0) {
		return false, nil
	}
	return true, nil
}

// SetPerms applies mode and ownership. A uid or gid of -1 leaves it alone.
func (r *BaseRule) SetPerms(ctx context.Context, path string, mode fs.FileMode, uid, gid int) error {
	start, err := StatPerms(path)
	if err != nil {
		return err
	}
	end := Perms{Mode: mode.Perm(), UID: uid, GID: gid}
	if uid < 0 {
		end.UID = start.UID
	}
	if gid < 0 {
		end.GID = start.GID
	}
	if start == end {
		return nil
	}

	ev := statelog.Event{Type: statelog.EventPerm, Path: path, StartState: start.String(), EndState: end.String()}
	if err := r.record(ctx, ev); err != nil {
		return FileError("set perms "+path, err)
	}
	if err := applyPerms(path, start, end); err != nil {
		return err
	}
	r.status.AddResult("set %s to %s", path, end)
	return nil
}

func applyPerms(path string, from, to Perms) error {
	if from.UID != to.UID || from.GID != to.GID {
		if err := os.Lchown(path, to.UID, to.GID); err != nil {
			if os.IsPermission(err) {
				return PermissionError("chown "+path, err)
			}
			return FileError("chown "+path, err)
		}
	}
	if err := os.Chmod(path, to.Mode); err != nil {
		return FileError("chmod "+path, err)
	}
	return nil
}

// Run executes a command without recording it. Use it in Report.
func (r *BaseRule) Run(ctx context.Context, name string, args ...string) (command.Result, error) {
	res, err := r.Deps.Runner.Run(ctx, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return res, err
		}
		return res, CommandError(command.Join(name, args...), err)
	}
	return res, nil
}

// RunRecorded records and executes a command that changes the system.
// undo is the command that reverses it, or nil if there is none. A
// non-zero exit is an error.
func (r *BaseRule) RunRecorded(ctx context.Context, undo []string, name string, args ...string) (command.Result, error) {
	line := command.Join(name, args...)
	ev := statelog.Event{Type: statelog.EventComm, Command: line}
	if len(undo) > 0 {
		ev.UndoCommand = command.Join(undo[0], undo[1:]...)
	}
	if err := r.record(ctx, ev); err != nil {
		return command.Result{Command: line}, CommandError(line, err)
	}

	res, err := r.Run(ctx, name, args...)
	if err != nil {
		return res, err
	}
	if !res.Success() {
		return res, CommandError(line, errors.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	r.status.AddResult("ran %s", line)
	return res, nil
}

// ServiceEnabled asks systemd whether a unit is enabled.
func (r *BaseRule) ServiceEnabled(ctx context.Context, service string) (bool, error) {
	res, err := r.Run(ctx, "systemctl", "is-enabled", service)
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}

func serviceState(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// SetService enables or disables a unit, recording its previous state.
func (r *BaseRule) SetService(ctx context.Context, service string, enable bool) error {
	current, err := r.ServiceEnabled(ctx, service)
	if err != nil {
		return err
	}
	if current == enable {
		return nil
	}

	ev := statelog.Event{
		Type:       statelog.EventService,
		Target:     service,
		StartState: serviceState(current),
		EndState:   serviceState(enable),
	}
	if err := r.record(ctx, ev); err != nil {
		return CommandError("systemctl "+service, err)
	}
	return r.runService(ctx, service, enable)
}

func (r *BaseRule) runService(ctx context.Context, service string, enable bool) error {
	verb := "disable"
	if enable {
		verb = "enable"
	}
	res, err := r.Run(ctx, "systemctl", verb, service)
	if err != nil {
		return err
	}
	if !res.Success() {
		return CommandError("systemctl "+verb+" "+service, errors.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	r.status.AddResult("%sd %s", verb, service)
	return nil
}

// ReloadService asks a service to pick up new configuration. In install
// mode services are not running yet, so the reload is Skipped.
func (r *BaseRule) ReloadService(ctx context.Context, service string) (types.Outcome, error) {
	if r.Deps.Env != nil && r.Deps.Env.InstallMode() {
		r.status.AddResult("install mode, not reloading %s", service)
		return types.OutcomeSkipped, nil
	}
	res, err := r.Run(ctx, "systemctl", "reload-or-restart", service)
	if err != nil {
		return types.OutcomeFailure, err
	}
	if !res.Success() {
		return types.OutcomeFailure, CommandError("reload "+service, errors.Errorf("exit %d", res.ExitCode))
	}
	return types.OutcomeSuccess, nil
}
