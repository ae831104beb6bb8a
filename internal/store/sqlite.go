package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// Store wraps the pipeline's SQLite database: ingest audit rows, the
// payload cache backend and the checkpoint ledger backend.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	clock  clockwork.Clock
}

func New(db *sql.DB, logger *slog.Logger) *Store {
	return NewWithClock(db, logger, clockwork.NewRealClock())
}

func NewWithClock(db *sql.DB, logger *slog.Logger, clock clockwork.Clock) *Store {
	return &Store{db: db, logger: logger, clock: clock}
}

// Open opens (creating if needed) the database at path with WAL journaling
// and a busy timeout.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}
