package lexstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/localrivet/codebridge/internal/util"
)

const formatName = "codebridge-mv2"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS frames (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uri TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	checksum TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS frame_tags (
	frame_id INTEGER NOT NULL REFERENCES frames(id),
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (frame_id, name)
);
CREATE INDEX IF NOT EXISTS idx_frame_tags_name_value ON frame_tags(name, value);
`

// stagedFrame is a frame written by PutBytes but not yet committed.
type stagedFrame struct {
	content  string
	checksum string
	opts     PutOptions
	staged   time.Time
}

// DB is an open frame store file.
type DB struct {
	conn       *sqlite.Conn
	path       string
	lexEnabled bool
	pending    []stagedFrame
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for ACL audit records.
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		if logger != nil {
			db.logger = logger
		}
	}
}

func newDB(path string, opts []Option) *DB {
	db := &DB{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Create creates a new store file at path. It fails if the file exists.
func Create(path string, opts ...Option) (*DB, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrStoreExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat store file: %w", err)
	}

	conn, err := sqlite.OpenConn(path, sqlite.SQLITE_OPEN_CREATE|sqlite.SQLITE_OPEN_READWRITE|sqlite.SQLITE_OPEN_WAL|sqlite.SQLITE_OPEN_NOMUTEX)
	if err != nil {
		return nil, fmt.Errorf("failed to create store file: %w", err)
	}

	if err := initSchema(conn); err != nil {
		conn.Close()
		os.Remove(path)
		return nil, err
	}

	db := newDB(path, opts)
	db.conn = conn
	return db, nil
}

func initSchema(conn *sqlite.Conn) error {
	if err := sqlitex.ExecScript(conn, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return setMeta(conn, "format", formatName)
}

// Open opens an existing store file.
func Open(path string, opts ...Option) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrStoreMissing)
		}
		return nil, fmt.Errorf("failed to stat store file: %w", err)
	}

	conn, err := sqlite.OpenConn(path, sqlite.SQLITE_OPEN_READWRITE|sqlite.SQLITE_OPEN_WAL|sqlite.SQLITE_OPEN_NOMUTEX)
	if err != nil {
		return nil, fmt.Errorf("failed to open store file: %w", err)
	}

	format, err := getMeta(conn, "format")
	if err != nil || format != formatName {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotStore)
	}

	lex, err := getMeta(conn, "lex_enabled")
	if err != nil {
		conn.Close()
		return nil, err
	}

	db := newDB(path, opts)
	db.conn = conn
	db.lexEnabled = lex == "1"
	return db, nil
}

// Path returns the file the store was opened from.
func (db *DB) Path() string {
	return db.path
}

// Close drops any staged frames and closes the file.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	db.pending = nil
	err := db.conn.Close()
	db.conn = nil
	return err
}

// LexEnabled reports whether the lexical index is enabled.
func (db *DB) LexEnabled() bool {
	return db.lexEnabled
}

// EnableLex creates the lexical index and indexes every committed frame.
// Calling it again once the index exists is a no-op.
func (db *DB) EnableLex() error {
	if db.conn == nil {
		return ErrClosed
	}
	if db.lexEnabled {
		return nil
	}
	if err := db.enableLex(); err != nil {
		return err
	}
	db.lexEnabled = true
	return nil
}

func (db *DB) enableLex() (err error) {
	defer sqlitex.Save(db.conn)(&err)

	err = sqlitex.ExecTransient(db.conn,
		`CREATE VIRTUAL TABLE IF NOT EXISTS frames_fts USING fts5(content, tokenize='unicode61');`, nil)
	if err != nil {
		return fmt.Errorf("failed to create lexical index: %w", err)
	}

	err = sqlitex.Exec(db.conn, `
	INSERT INTO frames_fts (rowid, content)
	SELECT id, content FROM frames
	WHERE id NOT IN (SELECT rowid FROM frames_fts);`, nil)
	if err != nil {
		return fmt.Errorf("failed to backfill lexical index: %w", err)
	}

	return setMeta(db.conn, "lex_enabled", "1")
}

// PutBytes stages a frame. It becomes durable and searchable on Commit.
func (db *DB) PutBytes(data []byte, opts PutOptions) error {
	if db.conn == nil {
		return ErrClosed
	}
	for name := range opts.Tags {
		if !validTagName(name) {
			return fmt.Errorf("%q: %w", name, ErrInvalidTag)
		}
	}

	tags := make(map[string]string, len(opts.Tags))
	for k, v := range opts.Tags {
		tags[k] = v
	}
	opts.Tags = tags

	db.pending = append(db.pending, stagedFrame{
		content:  string(data),
		checksum: util.ContentHash(data),
		opts:     opts,
		staged:   db.now(),
	})
	return nil
}

// Pending returns the number of staged frames.
func (db *DB) Pending() int {
	return len(db.pending)
}

// Commit writes every staged frame in one transaction. Staged frames are
// dropped whether or not the commit succeeds; on failure nothing is written.
func (db *DB) Commit() error {
	if db.conn == nil {
		return ErrClosed
	}
	if len(db.pending) == 0 {
		return nil
	}
	staged := db.pending
	db.pending = nil
	return db.commit(staged)
}

func (db *DB) commit(staged []stagedFrame) (err error) {
	defer sqlitex.Save(db.conn)(&err)

	for _, f := range staged {
		if err = db.insertFrame(f); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) insertFrame(f stagedFrame) error {
	err := sqlitex.Exec(db.conn,
		`INSERT INTO frames (uri, title, content, checksum, created_at) VALUES (?, ?, ?, ?, ?);`,
		nil, f.opts.URI, f.opts.Title, f.content, f.checksum, f.staged.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	id := db.conn.LastInsertRowID()

	names := make([]string, 0, len(f.opts.Tags))
	for name := range f.opts.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		err = sqlitex.Exec(db.conn,
			`INSERT INTO frame_tags (frame_id, name, value) VALUES (?, ?, ?);`,
			nil, id, name, f.opts.Tags[name])
		if err != nil {
			return fmt.Errorf("failed to insert tag %s: %w", name, err)
		}
	}

	if db.lexEnabled {
		err = sqlitex.Exec(db.conn,
			`INSERT INTO frames_fts (rowid, content) VALUES (?, ?);`,
			nil, id, f.content)
		if err != nil {
			return fmt.Errorf("failed to index frame: %w", err)
		}
	}
	return nil
}

// FrameCount returns the number of committed frames.
func (db *DB) FrameCount() (int64, error) {
	if db.conn == nil {
		return 0, ErrClosed
	}
	var count int64
	err := sqlitex.Exec(db.conn, `SELECT COUNT(*) FROM frames;`, func(stmt *sqlite.Stmt) error {
		count = stmt.ColumnInt64(0)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return count, nil
}

func setMeta(conn *sqlite.Conn, key, value string) error {
	err := sqlitex.Exec(conn,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value;`,
		nil, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// getMeta returns "" for a missing key.
func getMeta(conn *sqlite.Conn, key string) (string, error) {
	var value string
	err := sqlitex.Exec(conn, `SELECT value FROM meta WHERE key = ?;`, func(stmt *sqlite.Stmt) error {
		value = stmt.ColumnText(0)
		return nil
	}, key)
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}
