package participant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/postgres"
)

// DocumentsSchema creates the table PGCorpus reads from. Several
// participants share it, keyed by participant name.
const DocumentsSchema = `CREATE TABLE IF NOT EXISTS searchcore_documents (
    participant TEXT NOT NULL,
    path        TEXT NOT NULL,
    content     BYTEA NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (participant, path)
)`

// PGCorpus serves the rows of searchcore_documents tagged with one
// participant name.
type PGCorpus struct {
	db          *postgres.Client
	participant string
}

func NewPGCorpus(db *postgres.Client, participant string) *PGCorpus {
	return &PGCorpus{db: db, participant: participant}
}

// EnsureSchema creates the documents table when it is missing.
func (c *PGCorpus) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.DB.ExecContext(ctx, DocumentsSchema); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

func (c *PGCorpus) Accepts(p string) bool {
	return p != ""
}

func (c *PGCorpus) Read(ctx context.Context, p string) (*index.Document, error) {
	var (
		content []byte
		updated time.Time
	)
	err := c.db.DB.QueryRowContext(ctx,
		`SELECT content, updated_at FROM searchcore_documents WHERE participant = $1 AND path = $2`,
		c.participant, p,
	).Scan(&content, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", p, apperrors.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", p, err)
	}
	return &index.Document{Path: p, Content: content, ModTime: updated}, nil
}

func (c *PGCorpus) List(ctx context.Context) ([]string, error) {
	rows, err := c.db.DB.QueryContext(ctx,
		`SELECT path FROM searchcore_documents WHERE participant = $1 ORDER BY path`,
		c.participant,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Put inserts or replaces one document.
func (c *PGCorpus) Put(ctx context.Context, p string, content []byte) error {
	if p == "" {
		return fmt.Errorf("empty document path: %w", apperrors.ErrInvalidInput)
	}
	_, err := c.db.DB.ExecContext(ctx,
		`INSERT INTO searchcore_documents (participant, path, content, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (participant, path) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		c.participant, p, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing document %s: %w", p, err)
	}
	return nil
}

// Delete removes one document. Deleting a missing document is not an error.
func (c *PGCorpus) Delete(ctx context.Context, p string) error {
	_, err := c.db.DB.ExecContext(ctx,
		`DELETE FROM searchcore_documents WHERE participant = $1 AND path = $2`,
		c.participant, p,
	)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", p, err)
	}
	return nil
}
