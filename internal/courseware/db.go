// Package courseware serves a self-contained replica of the course platform's
// browser surface: account forms, the course designer with asynchronous
// provisioning, static course pages with activecode editors, and the
// program save/load endpoints.
package courseware

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the SQLCipher driver with per-connection pragmas.
	SQLiteDriverName = "sqlite3_coursewalk"

	// DBFileName is the database file inside the data directory.
	DBFileName = "courseware.db"

	// SQLite is single-writer; a small pool is plenty.
	maxOpenConns = 4
	maxIdleConns = 2
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if _, err := conn.Exec("PRAGMA foreign_keys = ON", nil); err != nil {
				return fmt.Errorf("enable foreign keys: %w", err)
			}
			return nil
		},
	})
}

// Schema is applied on every open; statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS courses (
    name TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    base_course TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('building', 'ready', 'failed')),
    created_at INTEGER NOT NULL,
    ready_at INTEGER
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    email TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    course TEXT NOT NULL REFERENCES courses(name),
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);

CREATE TABLE IF NOT EXISTS programs (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    acid TEXT NOT NULL,
    source TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, acid)
);
`

// SeedCourses exist from the start and are always ready.
var SeedCourses = []string{"devcourse", "overview", "thinkcspy"}

// Store is the courseware database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens (creating if needed) the database in dataDir. A non-empty
// dbKey (64 hex characters) encrypts it with SQLCipher.
func OpenStore(ctx context.Context, dataDir, dbKey string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := filepath.Join(dataDir, DBFileName) + "?"
	if dbKey != "" {
		dsn += fmt.Sprintf("_pragma_key=x'%s'&_pragma_cipher_page_size=4096&", dbKey)
	}
	dsn += sqlitePragmas()

	db, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func sqlitePragmas() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	now := s.now().Unix()
	for _, name := range SeedCourses {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO courses (name, description, base_course, status, created_at, ready_at)
			 VALUES (?, ?, ?, 'ready', ?, ?)`,
			name, "seeded course", DefaultBaseCourse, now, now,
		); err != nil {
			return fmt.Errorf("seed course %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
