// Package store keeps a local history of exported artifacts in DuckDB.
// Only durable outputs are stored; raw telemetry never is.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb" // Register the duckdb driver.
	"github.com/rs/zerolog"

	"github.com/coral-mesh/perfmerge/internal/logging"
)

// ErrNotFound is returned by Get for an unknown artifact id.
var ErrNotFound = errors.New("artifact not found")

// Artifact is one stored export.
type Artifact struct {
	ID          string
	SessionID   string
	Kind        string
	CreatedAt   time.Time
	Contexts    int
	Samples     int
	ContentType string
	// Payload is empty in List results.
	Payload []byte
}

// Store persists artifacts.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
}

// Open opens (or creates) the DuckDB database at path. An empty path opens an
// in-memory database.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact database: %w", err)
	}
	s, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New creates a store on an open database and initializes its schema.
func New(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logging.WithComponent(logger, "artifact_store"),
	}

	err := withRetry(context.Background(), defaultRetry, s.initSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS artifacts (
			id           TEXT PRIMARY KEY,
			session_id   TEXT      NOT NULL,
			kind         TEXT      NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			contexts     INTEGER   NOT NULL,
			samples      INTEGER   NOT NULL,
			content_type TEXT      NOT NULL,
			payload      BLOB      NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_artifacts_session
			ON artifacts (session_id);
		CREATE INDEX IF NOT EXISTS idx_artifacts_created_at
			ON artifacts (created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Artifact store schema initialized")
	return nil
}

// Save stores an artifact, assigning an id and creation time when unset.
func (s *Store) Save(ctx context.Context, a *Artifact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Payload == nil {
		a.Payload = []byte{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := withRetry(ctx, defaultRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO artifacts (
				id, session_id, kind, created_at, contexts, samples, content_type, payload
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ID,
			a.SessionID,
			a.Kind,
			a.CreatedAt,
			a.Contexts,
			a.Samples,
			a.ContentType,
			a.Payload,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}

	s.logger.Debug().
		Str("artifact_id", a.ID).
		Str("session_id", a.SessionID).
		Str("kind", a.Kind).
		Int("bytes", len(a.Payload)).
		Msg("Stored artifact")
	return nil
}

// List returns artifact metadata, newest first. kind filters when non-empty;
// limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, kind string, limit int) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, session_id, kind, created_at, contexts, samples, content_type
		FROM artifacts
	`
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY created_at DESC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	artifacts := []Artifact{}
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Kind, &a.CreatedAt, &a.Contexts, &a.Samples, &a.ContentType); err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		artifacts = append(artifacts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}

	return artifacts, nil
}

// Get returns one artifact including its payload.
func (s *Store) Get(ctx context.Context, id string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a Artifact
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, kind, created_at, contexts, samples, content_type, payload
		FROM artifacts
		WHERE id = ?
	`, id).Scan(&a.ID, &a.SessionID, &a.Kind, &a.CreatedAt, &a.Contexts, &a.Samples, &a.ContentType, &a.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &a, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
