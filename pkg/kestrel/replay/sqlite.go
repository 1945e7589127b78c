package replay

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
)

// SQLiteLog is a queryable replay-log backend, an alternative to the
// binary .kr1 format for operators who want to inspect or filter recorded
// events with SQL. Grounded on the teacher's checkpoint.SQLiteStore
// (pure-Go modernc.org/sqlite driver, WAL mode, restrictive file
// permissions created before sql.Open ever touches the path).
type SQLiteLog struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool

	cursorRows *sql.Rows
	cursorErr  error
}

// NewSQLiteLog opens (creating if absent) a SQLite-backed replay log at
// path, or ":memory:" for tests.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if createErr == nil {
				if closeErr := f.Close(); closeErr != nil {
					slog.Warn("replay: failed to close new sqlite log file",
						slog.String("path", path), slog.String("error", closeErr.Error()))
				}
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("replay: open sqlite log: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("replay: enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type INTEGER NOT NULL,
			ts_mono    INTEGER NOT NULL,
			ts_wall    INTEGER NOT NULL,
			entity_key BLOB NOT NULL,
			event_id   INTEGER NOT NULL,
			fields     BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("replay: create events table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_ts_mono ON events(ts_mono)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("replay: create ts_mono index: %w", err)
	}

	if path != ":memory:" {
		if err := os.Chmod(path, 0600); err != nil {
			slog.Warn("replay: failed to set restrictive permissions on sqlite log",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	return &SQLiteLog{db: db}, nil
}

// AppendEvent stores evt as the next row, in insertion order.
func (l *SQLiteLog) AppendEvent(evt *kevent.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New("replay: sqlite log closed")
	}

	body := encodeEvent(evt)
	entity := evt.EntityKey()
	_, err := l.db.Exec(`
		INSERT INTO events (event_type, ts_mono, ts_wall, entity_key, event_id, fields)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uint16(evt.EventType()), evt.TSMono(), evt.TSWall(), entity[:], evt.ID(), body)
	if err != nil {
		return fmt.Errorf("replay: insert event: %w", err)
	}
	return nil
}

// Next implements Source by streaming rows back in seq order, opening a
// cursor on first call.
func (l *SQLiteLog) Next() (*kevent.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errors.New("replay: sqlite log closed")
	}

	if l.cursorRows == nil && l.cursorErr == nil {
		rows, err := l.db.Query(`SELECT fields, event_id FROM events ORDER BY seq ASC`)
		if err != nil {
			l.cursorErr = fmt.Errorf("replay: query events: %w", err)
			return nil, l.cursorErr
		}
		l.cursorRows = rows
	}
	if l.cursorErr != nil {
		return nil, l.cursorErr
	}

	if !l.cursorRows.Next() {
		if err := l.cursorRows.Err(); err != nil {
			return nil, fmt.Errorf("replay: iterate events: %w", err)
		}
		return nil, io.EOF
	}

	var body []byte
	var id uint64
	if err := l.cursorRows.Scan(&body, &id); err != nil {
		return nil, fmt.Errorf("replay: scan event row: %w", err)
	}
	return decodeEvent(body, id)
}

// Close releases the underlying database handle and any open cursor.
func (l *SQLiteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.cursorRows != nil {
		l.cursorRows.Close()
	}
	return l.db.Close()
}
