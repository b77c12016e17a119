package statelog

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Snapshot is the saved pre-fix state of a file.
type Snapshot struct {
	EventID     string
	Path        string
	Existed     bool
	Mode        fs.FileMode
	// UID and GID are -1 when the file did not exist.
	UID         int
	GID         int
	Content     []byte
	ArchivePath string
}

// RecordFileChange records ev together with a snapshot of ev.Path as it is
// now. Call it before touching the file. The snapshot also gets an archive
// copy under the state directory. Event and snapshot commit atomically.
func (s *Store) RecordFileChange(ctx context.Context, ev Event) error {
	if !ev.Type.HasSnapshot() {
		return errors.Errorf("event %s: type %q does not carry a file snapshot", ev.ID, ev.Type)
	}
	if ev.Path == "" {
		return errors.Errorf("event %s: no file path", ev.ID)
	}

	snap := Snapshot{EventID: ev.ID, Path: ev.Path, UID: -1, GID: -1}
	info, err := os.Stat(ev.Path)
	switch {
	case err == nil:
		if info.IsDir() {
			return errors.Errorf("event %s: %s is a directory", ev.ID, ev.Path)
		}
		content, err := os.ReadFile(ev.Path)
		if err != nil {
			return errors.Wrapf(err, "snapshot %s", ev.Path)
		}
		uid, gid, err := owner(ev.Path)
		if err != nil {
			return errors.Wrapf(err, "snapshot %s", ev.Path)
		}
		snap.Existed = true
		snap.Mode = info.Mode().Perm()
		snap.UID, snap.GID = uid, gid
		snap.Content = content
		if archived, err := s.archive(ev.Path, content); err != nil {
			s.logger.Warn("could not archive original file", "path", ev.Path, "err", err)
		} else {
			snap.ArchivePath = archived
		}
	case os.IsNotExist(err):
	default:
		return errors.Wrapf(err, "stat %s", ev.Path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if err := s.insert(ctx, tx, &ev); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO file_snapshots (event_id, path, existed, mode, uid, gid, content, archive_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.EventID, snap.Path, boolInt(snap.Existed), int64(snap.Mode), snap.UID, snap.GID, snap.Content, snap.ArchivePath)
	if err != nil {
		return errors.Wrapf(err, "insert snapshot %s", ev.ID)
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Snapshot returns the saved file state for an event.
func (s *Store) Snapshot(ctx context.Context, eventID string) (Snapshot, error) {
	var (
		snap    Snapshot
		existed int
		mode    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id, path, existed, mode, uid, gid, content, archive_path FROM file_snapshots WHERE event_id = ?`,
		eventID).Scan(&snap.EventID, &snap.Path, &existed, &mode, &snap.UID, &snap.GID, &snap.Content, &snap.ArchivePath)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, errors.Wrapf(ErrNotFound, "snapshot %s", eventID)
	}
	if err != nil {
		return snap, errors.Wrapf(err, "get snapshot %s", eventID)
	}
	snap.Existed = existed != 0
	snap.Mode = fs.FileMode(mode)
	return snap, nil
}

// RevertFileChange puts a file back the way its snapshot found it: the
// saved content, mode and owner if it existed, removed otherwise.
func (s *Store) RevertFileChange(ctx context.Context, eventID string) error {
	snap, err := s.Snapshot(ctx, eventID)
	if err != nil {
		return err
	}
	if !snap.Existed {
		if err := os.Remove(snap.Path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %s", snap.Path)
		}
		return nil
	}
	return writeAtomic(snap.Path, snap.Content, snap.Mode, snap.UID, snap.GID)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path. An existing file keeps its owner.
func WriteFileAtomic(path string, data []byte, mode fs.FileMode) error {
	uid, gid, err := owner(path)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		uid, gid = -1, -1
	default:
		return errors.Wrapf(err, "stat %s", path)
	}
	return writeAtomic(path, data, mode, uid, gid)
}

// writeAtomic is WriteFileAtomic with an explicit owner. A uid or gid of -1
// leaves the temp file's owner alone.
func writeAtomic(path string, data []byte, mode fs.FileMode, uid, gid int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "create temp for %s", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "sync %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	if uid >= 0 || gid >= 0 {
		tuid, tgid, err := owner(tmpName)
		if err != nil {
			return errors.Wrapf(err, "stat temp for %s", path)
		}
		if (uid >= 0 && uid != tuid) || (gid >= 0 && gid != tgid) {
			if err := os.Lchown(tmpName, uid, gid); err != nil {
				return errors.Wrapf(err, "chown %s", path)
			}
		}
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return errors.Wrapf(err, "chmod %s", path)
	}
	return errors.Wrapf(os.Rename(tmpName, path), "rename %s", path)
}

// archive keeps a copy of the original at <archive>/<path>.ovf. An existing
// archive with different content is kept and the new copy gets a timestamp
// suffix.
func (s *Store) archive(path string, content []byte) (string, error) {
	rel := strings.TrimPrefix(filepath.Clean(path), string(filepath.Separator))
	dest := filepath.Join(s.archiveDir, rel+".ovf")

	existing, err := os.ReadFile(dest)
	switch {
	case err == nil && bytes.Equal(existing, content):
		return dest, nil
	case err == nil:
		dest = fmt.Sprintf("%s%d", dest, s.now().UnixNano())
	case !os.IsNotExist(err):
		return "", errors.Wrapf(err, "read archive %s", dest)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return "", errors.Wrapf(err, "mkdir archive")
	}
	if err := os.WriteFile(dest, content, 0o600); err != nil {
		return "", errors.Wrapf(err, "write archive %s", dest)
	}
	return dest, nil
}

// owner returns the uid and gid of path. The error satisfies os.IsNotExist
// for a missing file.
func owner(path string) (int, int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return -1, -1, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return int(st.Uid), int(st.Gid), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
