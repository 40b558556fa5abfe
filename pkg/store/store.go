package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrModelNotFound is returned when no model with the requested name exists.
var ErrModelNotFound = errors.New("store: model not found")

// Distribution kinds, as stored in word_distributions.kind.
const (
	KindStart    = "start"
	KindInterior = "interior"
	KindFinal    = "final"
)

// SetupSchema initializes the necessary tables in the provided database. It
// is idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaModels = `
CREATE TABLE IF NOT EXISTS word_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    build_id TEXT NOT NULL,
    top_k INTEGER NOT NULL,
    word_count INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
`
		schemaDistributions = `
CREATE TABLE IF NOT EXISTS word_distributions (
    model_id INTEGER NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('start', 'interior', 'final')),
    data BLOB NOT NULL,
    PRIMARY KEY (model_id, kind)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaModels); err != nil {
		return fmt.Errorf("could not create models schema: %w", err)
	}

	if _, err = tx.Exec(schemaDistributions); err != nil {
		return fmt.Errorf("could not create distributions schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Store holds the database connection and the prepared statements used to
// save and load models.
type Store struct {
	db                  *sql.DB
	stmtGetModelInfo    *sql.Stmt
	stmtGetModels       *sql.Stmt
	stmtGetDistribution *sql.Stmt
	stmtCountModels     *sql.Stmt
	stmtSumWords        *sql.Stmt
	logger              *slog.Logger
}

// NewStore creates and returns a new Store. The schema must already exist
// (see SetupSchema); preparing the statements fails otherwise.
func NewStore(db *sql.DB) (*Store, error) {
	stmtGetModelInfo, err := db.Prepare(`SELECT model_id, build_id, top_k, word_count, created_at FROM word_models WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetModels, err := db.Prepare(`SELECT model_id, model_name, build_id, top_k, word_count, created_at FROM word_models ORDER BY model_name;`)
	if err != nil {
		return nil, err
	}

	stmtGetDistribution, err := db.Prepare(`SELECT data FROM word_distributions WHERE model_id = ? AND kind = ?;`)
	if err != nil {
		return nil, err
	}

	stmtCountModels, err := db.Prepare(`SELECT COUNT(*) FROM word_models;`)
	if err != nil {
		return nil, err
	}

	stmtSumWords, err := db.Prepare(`SELECT coalesce(SUM(word_count), 0) FROM word_models;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:                  db,
		stmtGetModelInfo:    stmtGetModelInfo,
		stmtGetModels:       stmtGetModels,
		stmtGetDistribution: stmtGetDistribution,
		stmtCountModels:     stmtCountModels,
		stmtSumWords:        stmtSumWords,
		logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the Store. The database
// itself is left open.
func (s *Store) Close() {
	_ = s.stmtGetModelInfo.Close()
	_ = s.stmtGetModels.Close()
	_ = s.stmtGetDistribution.Close()
	_ = s.stmtCountModels.Close()
	_ = s.stmtSumWords.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}
