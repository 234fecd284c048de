package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
)

// SchemaVersion is the schema this build reads and writes.
const SchemaVersion = 1

// DB is the SQLite-backed session store.
type DB struct {
	db   *sql.DB
	lock *flock.Flock
	path string
	log  *logging.Logger

	gen    atomic.Uint64
	mu     sync.Mutex
	closed bool
}

// Open creates or opens the store at path and takes the advisory lock
// next to it. A second process opening the same path fails with ErrLocked.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errkind.Store("open store", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errkind.Store("lock store", err)
	}
	if !ok {
		return nil, errkind.Store("lock store", ErrLocked)
	}

	dsn := "file:" + path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, errkind.Store("open store", err)
	}
	db.SetMaxOpenConns(1)

	s := &DB{db: db, lock: lock, path: path, log: logging.New("store")}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	s.log.Debug("store_opened", logging.Fields{"path": path})
	return s, nil
}

// Path returns the database file path.
func (s *DB) Path() string {
	return s.path
}

// Ping verifies the connection is alive.
func (s *DB) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return errkind.Store("ping store", s.db.PingContext(ctx))
}

// Close releases the connection and the lock.
func (s *DB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return errkind.Store("close store", err)
}

// Generation changes whenever a message is appended or a session is
// removed. Readers key caches on it.
func (s *DB) Generation() uint64 {
	return s.gen.Load()
}

func (s *DB) bump() {
	s.gen.Add(1)
}

func (s *DB) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errkind.Store("store", ErrClosed)
	}
	return nil
}

// tx runs fn inside a transaction, committing when fn returns nil.
func (s *DB) tx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	if err := s.check(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.Store(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var nf *NotFoundError
		if errors.As(err, &nf) || errkind.Is(err, errkind.KindStore) {
			return err
		}
		return errkind.Store(op, err)
	}
	return errkind.Store(op, tx.Commit())
}

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	tags_json TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	model_id TEXT NOT NULL DEFAULT '',
	category TEXT,
	status TEXT,
	error TEXT,
	tokens_prompt INTEGER NOT NULL DEFAULT 0,
	tokens_completion INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_messages_model ON messages(model_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_content ON messages(content);

CREATE TRIGGER IF NOT EXISTS messages_append_only
BEFORE UPDATE ON messages
BEGIN
	SELECT RAISE(ABORT, 'messages are append-only');
END;

CREATE TABLE IF NOT EXISTS batch_jobs (
	id TEXT PRIMARY KEY,
	model_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	status TEXT NOT NULL,
	checkpoint_offset INTEGER NOT NULL DEFAULT 0,
	session_id TEXT,
	stop_on_error INTEGER,
	source TEXT,
	template TEXT
);

CREATE TABLE IF NOT EXISTS batch_items (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES batch_jobs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	prompt TEXT NOT NULL,
	status TEXT NOT NULL,
	result_message_id TEXT REFERENCES messages(id) ON DELETE SET NULL,
	error TEXT,
	UNIQUE (batch_id, seq)
);

CREATE TABLE IF NOT EXISTS preferences (
	category TEXT PRIMARY KEY,
	model_id TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_runs (
	id TEXT PRIMARY KEY,
	workflow TEXT NOT NULL,
	session_id TEXT NOT NULL,
	status TEXT NOT NULL,
	next_step INTEGER NOT NULL DEFAULT 0,
	vars_json TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

func (s *DB) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return errkind.Store("migrate store", err)
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return errkind.Store("migrate store", err)
	default:
		v, perr := strconv.Atoi(raw)
		if perr != nil {
			return errkind.Newf(errkind.KindStore, "migrate store", "bad schema_version %q", raw)
		}
		if v > SchemaVersion {
			return errkind.Store("migrate store", fmt.Errorf("%w: database is v%d, this build supports v%d", ErrSchema, v, SchemaVersion))
		}
	}

	return s.tx(ctx, "migrate store", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			strconv.Itoa(SchemaVersion))
		return err
	})
}

// SchemaVersionOf reads the stored schema version.
func (s *DB) SchemaVersionOf(ctx context.Context) (int, error) {
	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw); err != nil {
		return 0, errkind.Store("read schema version", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errkind.Store("read schema version", err)
	}
	return v, nil
}
