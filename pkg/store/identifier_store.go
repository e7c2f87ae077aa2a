package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/destiny/pkg/database"
	"github.com/codeready-toolchain/destiny/pkg/models"
)

// IdentifierStore manages the external_identifiers table: the lookup keys
// ingestion and dedup use to find an existing reference.
type IdentifierStore struct {
	db *database.Client
}

// NewIdentifierStore creates an IdentifierStore.
func NewIdentifierStore(db *database.Client) *IdentifierStore {
	return &IdentifierStore{db: db}
}

// FindReferenceByIdentifier looks up which reference, if any, already owns
// (identifierType, identifier, otherName). otherName is compared for every
// type, with nil and "" treated alike.
func (s *IdentifierStore) FindReferenceByIdentifier(ctx context.Context, identifierType models.IdentifierType, identifier string, otherName *string) (string, error) {
	var refID string
	err := s.db.GetContext(ctx, &refID,
		`SELECT reference_id FROM external_identifiers
		 WHERE identifier_type = $1 AND identifier = $2 AND COALESCE(other_identifier_name, '') = COALESCE($3, '')`,
		identifierType, identifier, otherName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to look up identifier: %w", err)
	}
	return refID, nil
}

// ListByReference returns every identifier currently attached to a reference.
func (s *IdentifierStore) ListByReference(ctx context.Context, referenceID string) ([]models.ExternalIdentifier, error) {
	var ids []models.ExternalIdentifier
	err := s.db.SelectContext(ctx, &ids,
		`SELECT reference_id, identifier_type, identifier, other_identifier_name, created_at
		 FROM external_identifiers WHERE reference_id = $1`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identifiers: %w", err)
	}
	return ids, nil
}

// Attach inserts one identifier for referenceID. It returns ErrIdentifierCollision
// (mapped from the unique-index violation) if the identifier already
// resolves to a different reference; callers in pkg/ingestion decide what to
// do with that per the batch's CollisionStrategy.
func (s *IdentifierStore) Attach(ctx context.Context, id models.ExternalIdentifier) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO external_identifiers (reference_id, identifier_type, identifier, other_identifier_name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id.ReferenceID, id.IdentifierType, id.Identifier, id.OtherIdentifierName, id.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrIdentifierCollision
		}
		return fmt.Errorf("failed to attach identifier: %w", err)
	}
	return nil
}

// Reassign moves an identifier from whichever reference currently holds it
// to newReferenceID — used by the "overwrite" collision strategy and by
// merges that fold a duplicate's identifiers onto its canonical.
func (s *IdentifierStore) Reassign(ctx context.Context, identifierType models.IdentifierType, identifier string, otherName *string, newReferenceID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE external_identifiers SET reference_id = $4
		 WHERE identifier_type = $1 AND identifier = $2 AND COALESCE(other_identifier_name, '') = COALESCE($3, '')`,
		identifierType, identifier, otherName, newReferenceID)
	if err != nil {
		return fmt.Errorf("failed to reassign identifier: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// Detach removes one identifier from referenceID, used when "discard"
// resolves a collision by dropping the incoming identifier entirely.
func (s *IdentifierStore) Detach(ctx context.Context, referenceID string, identifierType models.IdentifierType, identifier string, otherName *string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM external_identifiers
		 WHERE reference_id = $1 AND identifier_type = $2 AND identifier = $3 AND COALESCE(other_identifier_name, '') = COALESCE($4, '')`,
		referenceID, identifierType, identifier, otherName)
	if err != nil {
		return fmt.Errorf("failed to detach identifier: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
