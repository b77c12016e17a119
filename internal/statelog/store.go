package statelog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DBName is the event database file inside the state directory.
const DBName = "statechanges.db"

var (
	// ErrDuplicateEvent is returned when an event id is already recorded.
	ErrDuplicateEvent = errors.New("event id already recorded")
	// ErrNotFound is returned for an unknown event id.
	ErrNotFound = errors.New("event not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT    NOT NULL UNIQUE,
    rule         INTEGER NOT NULL,
    type         TEXT    NOT NULL,
    path         TEXT    NOT NULL DEFAULT '',
    target       TEXT    NOT NULL DEFAULT '',
    command      TEXT    NOT NULL DEFAULT '',
    undo_command TEXT    NOT NULL DEFAULT '',
    start_state  TEXT    NOT NULL DEFAULT '',
    end_state    TEXT    NOT NULL DEFAULT '',
    run_id       TEXT    NOT NULL DEFAULT '',
    recorded_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_rule ON events(rule, seq);
CREATE TABLE IF NOT EXISTS file_snapshots (
    event_id     TEXT    PRIMARY KEY,
    path         TEXT    NOT NULL,
    existed      INTEGER NOT NULL,
    mode         INTEGER NOT NULL DEFAULT 0,
    uid          INTEGER NOT NULL DEFAULT -1,
    gid          INTEGER NOT NULL DEFAULT -1,
    content      BLOB,
    archive_path TEXT    NOT NULL DEFAULT ''
);`

// Store is the sqlite backed event log. It expects a single writer.
type Store struct {
	db         *sql.DB
	path       string
	archiveDir string
	logger     *log.Logger
	memory     bool
	now        func() time.Time
}

// Open opens or creates the event log under stateDir. An unreadable or
// corrupt database is moved aside and replaced. If that also fails the
// store falls back to memory and logs a warning: undo is lost for this
// run but auditing continues.
func Open(ctx context.Context, stateDir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{
		path:       filepath.Join(stateDir, DBName),
		archiveDir: filepath.Join(stateDir, "archive"),
		logger:     logger,
		now:        time.Now,
	}

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		logger.Warn("state directory unavailable, change log kept in memory", "dir", stateDir, "err", err)
		return s.openMemory(ctx)
	}

	db, err := openDB(ctx, s.path)
	if err == nil {
		s.db = db
		return s, nil
	}

	aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	logger.Warn("change log unreadable, starting a new one", "path", s.path, "moved_to", aside, "err", err)
	if renameErr := os.Rename(s.path, aside); renameErr != nil && !os.IsNotExist(renameErr) {
		logger.Warn("could not move change log aside", "err", renameErr)
		return s.openMemory(ctx)
	}
	db, err = openDB(ctx, s.path)
	if err != nil {
		logger.Warn("change log still unusable", "err", err)
		return s.openMemory(ctx)
	}
	s.db = db
	return s, nil
}

func (s *Store) openMemory(ctx context.Context) (*Store, error) {
	db, err := openDB(ctx, ":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory change log")
	}
	s.db = db
	s.memory = true
	s.logger.Warn("undo will not be available after this run")
	return s, nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "integrity check")
	}
	if check != "ok" {
		db.Close()
		return nil, errors.Errorf("integrity check: %s", check)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	if err := addOwnerColumns(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// addOwnerColumns upgrades logs written before snapshots kept ownership.
// Old snapshots get -1, which leaves the owner alone on revert.
func addOwnerColumns(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info('file_snapshots')`)
	if err != nil {
		return errors.Wrap(err, "read snapshot columns")
	}
	have := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return errors.Wrap(err, "read snapshot columns")
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "read snapshot columns")
	}

	for _, col := range []string{"uid", "gid"} {
		if have[col] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE file_snapshots ADD COLUMN %s INTEGER NOT NULL DEFAULT -1", col)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "add snapshot column %s", col)
		}
	}
	return nil
}

// Path returns the database file, or ":memory:" after a fallback.
func (s *Store) Path() string {
	if s.memory {
		return ":memory:"
	}
	return s.path
}

// InMemory reports whether the store fell back to memory.
func (s *Store) InMemory() bool { return s.memory }

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts ev. It fails with ErrDuplicateEvent if the id exists.
func (s *Store) Record(ctx context.Context, ev Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if err := s.insert(ctx, tx, &ev); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, ev *Event) error {
	if ev.ID == "" {
		return errors.New("event id is empty")
	}
	if !ValidID(ev.ID) {
		return errors.Wrapf(ErrBadEventID, "%q", ev.ID)
	}
	if !ev.Type.Valid() {
		return errors.Errorf("event %s: unknown type %q", ev.ID, ev.Type)
	}

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE id = ?`, ev.ID).Scan(&n); err != nil {
		return errors.Wrap(err, "check event id")
	}
	if n > 0 {
		return errors.Wrapf(ErrDuplicateEvent, "%s", ev.ID)
	}

	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = s.now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, rule, type, path, target, command, undo_command, start_state, end_state, run_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Rule, string(ev.Type), ev.Path, ev.Target, ev.Command, ev.UndoCommand,
		ev.StartState, ev.EndState, ev.RunID, ev.RecordedAt.UnixNano())
	return errors.Wrapf(err, "insert event %s", ev.ID)
}

const eventColumns = `id, rule, type, path, target, command, undo_command, start_state, end_state, run_id, recorded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (Event, error) {
	var (
		ev    Event
		typ   string
		stamp int64
	)
	err := row.Scan(&ev.ID, &ev.Rule, &typ, &ev.Path, &ev.Target, &ev.Command, &ev.UndoCommand,
		&ev.StartState, &ev.EndState, &ev.RunID, &stamp)
	if err != nil {
		return ev, err
	}
	ev.Type = EventType(typ)
	ev.RecordedAt = time.Unix(0, stamp)
	return ev, nil
}

// Get returns the event with the given id.
func (s *Store) Get(ctx context.Context, id string) (Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return ev, errors.Wrapf(err, "get event %s", id)
}

// FindRuleChanges returns the ids of a rule's events in recorded order.
func (s *Store) FindRuleChanges(ctx context.Context, rule int) ([]string, error) {
	events, err := s.Events(ctx, rule)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids, nil
}

// Events returns a rule's events in recorded order.
func (s *Store) Events(ctx context.Context, rule int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE rule = ? ORDER BY seq`, rule)
	if err != nil {
		return nil, errors.Wrapf(err, "query events for rule %d", rule)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		events = append(events, ev)
	}
	return events, errors.Wrap(rows.Err(), "iterate events")
}

// RulesWithEvents returns the numbers of every rule that has events.
func (s *Store) RulesWithEvents(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT rule FROM events ORDER BY rule`)
	if err != nil {
		return nil, errors.Wrap(err, "query rules")
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Wrap(err, "scan rule")
		}
		out = append(out, n)
	}
	return out, errors.Wrap(rows.Err(), "iterate rules")
}

// DeleteEntry removes one event and any file snapshot attached to it. An
// unknown id is not an error.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete event %s", id)
	}
	// An id that is already gone counts as deleted.
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_snapshots WHERE event_id = ?`, id); err != nil {
		return errors.Wrapf(err, "delete snapshot %s", id)
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// ClearRule deletes every event of a rule and returns how many were removed.
func (s *Store) ClearRule(ctx context.Context, rule int) (int, error) {
	ids, err := s.FindRuleChanges(ctx, rule)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := s.DeleteEntry(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}
