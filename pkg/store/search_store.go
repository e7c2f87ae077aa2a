package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/destiny/pkg/database"
	"github.com/codeready-toolchain/destiny/pkg/models"
)

// SearchStore persists DeduplicatedReferenceProjection documents as JSONB
// and serves both candidate recall (Phase 2 of dedup) and the percolation
// corpus automation dispatch reads from. There is no dedicated search
// engine in this deployment: Postgres JSONB + GIN plays that role, per the
// application-code alternative spec.md sanctions when the store doesn't
// offer native percolation.
type SearchStore struct {
	db *database.Client
}

// NewSearchStore creates a SearchStore.
func NewSearchStore(db *database.Client) *SearchStore {
	return &SearchStore{db: db}
}

// Upsert writes (or rewrites) the projection for a canonical reference. The
// only write path into the index is a full projection rebuild — there is no
// incremental patch API, so a rebuild is always idempotent.
func (s *SearchStore) Upsert(ctx context.Context, proj models.DeduplicatedReferenceProjection) error {
	raw, err := json.Marshal(proj)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_documents (canonical_id, document, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (canonical_id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		proj.CanonicalID, raw, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert search document: %w", err)
	}
	return nil
}

// Get retrieves the current projection for a canonical reference.
func (s *SearchStore) Get(ctx context.Context, canonicalID string) (*models.DeduplicatedReferenceProjection, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT document FROM search_documents WHERE canonical_id = $1`, canonicalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get search document: %w", err)
	}
	var proj models.DeduplicatedReferenceProjection
	if err := json.Unmarshal(raw, &proj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search document: %w", err)
	}
	return &proj, nil
}

// Delete removes a projection, e.g. when pkg/cleanup purges the document of
// a canonical reference soft-deleted past the orphan TTL.
func (s *SearchStore) Delete(ctx context.Context, canonicalID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM search_documents WHERE canonical_id = $1`, canonicalID)
	if err != nil {
		return fmt.Errorf("failed to delete search document: %w", err)
	}
	return nil
}

// CandidateRecall returns up to limit reference IDs whose indexed title
// overlaps fields.Title by full-text search, ordered by rank — Phase 2 of
// the dedup pipeline (spec.md §5). A zero-value Title matches nothing.
func (s *SearchStore) CandidateRecall(ctx context.Context, fields models.SearchFields, limit int) ([]string, error) {
	if fields.Title == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT canonical_id FROM search_documents
		 WHERE to_tsvector('english', document->'search_fields'->>'title') @@ plainto_tsquery('english', $1)
		 ORDER BY ts_rank(to_tsvector('english', document->'search_fields'->>'title'), plainto_tsquery('english', $1)) DESC
		 LIMIT $2`, fields.Title, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to recall candidates: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AllDocuments returns every search document, used by pkg/cleanup to find
// documents whose canonical reference has been soft-deleted.
func (s *SearchStore) AllDocuments(ctx context.Context) ([]models.DeduplicatedReferenceProjection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM search_documents`)
	if err != nil {
		return nil, fmt.Errorf("failed to list search documents: %w", err)
	}
	defer rows.Close()

	var out []models.DeduplicatedReferenceProjection
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan search document: %w", err)
		}
		var proj models.DeduplicatedReferenceProjection
		if err := json.Unmarshal(raw, &proj); err != nil {
			return nil, fmt.Errorf("failed to unmarshal search document: %w", err)
		}
		out = append(out, proj)
	}
	return out, rows.Err()
}
