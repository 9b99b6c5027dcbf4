// Package retained persists the last payload of every retained topic in
// SQLite so it survives a restart.
package retained

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite backed retained-topic table.
type Store struct {
	db     *sql.DB
	logger logger.Logger
	mu     sync.Mutex
	closed bool
}

func Open(cfg Config, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// A single connection serialises writers and keeps WAL checkpoints
	// predictable.
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Retained store initialized")

	return &Store{db: db, logger: log}, nil
}

// Save stores payload as the retained value of topic.
func (s *Store) Save(topic string, payload []byte) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errFactory.New(ErrClosed)
	}

	if _, err := s.db.Exec(upsertRetainedSQL, topic, payload, time.Now().Unix()); err != nil {
		return errFactory.WithData(ErrTransactionFailed, struct {
			Topic string
			Error string
		}{
			Topic: topic,
			Error: err.Error(),
		})
	}

	return nil
}

// Load returns every stored topic and payload.
func (s *Store) Load() (map[string][]byte, error) {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errFactory.New(ErrClosed)
	}

	rows, err := s.db.Query(selectRetainedSQL)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var topic string
		var payload []byte
		if err := rows.Scan(&topic, &payload); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		out[topic] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	s.logger.Debug().Int("topics", len(out)).Msg("Loaded retained topics")

	return out, nil
}

func (s *Store) Close() error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// Checkpoint WAL and cleanup on close
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := s.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	s.logger.Info().Msg("Retained store closed")

	return nil
}
