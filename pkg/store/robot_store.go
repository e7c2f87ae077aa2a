package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/destiny/pkg/database"
	"github.com/codeready-toolchain/destiny/pkg/models"
)

// RobotStore manages registered robots and their standing automation queries.
type RobotStore struct {
	db *database.Client
}

// NewRobotStore creates a RobotStore.
func NewRobotStore(db *database.Client) *RobotStore {
	return &RobotStore{db: db}
}

// Register creates a new robot identity.
func (s *RobotStore) Register(ctx context.Context, r models.Robot) (*models.Robot, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO robots (id, base_url, client_secret_hash, name, owner, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.BaseURL, r.ClientSecretHash, r.Name, r.Owner, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to register robot: %w", err)
	}
	return &r, nil
}

// Get retrieves a robot by ID.
func (s *RobotStore) Get(ctx context.Context, id string) (*models.Robot, error) {
	var r models.Robot
	err := s.db.GetContext(ctx, &r,
		`SELECT id, base_url, client_secret_hash, name, owner, created_at FROM robots WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get robot: %w", err)
	}
	return &r, nil
}

// List returns every registered robot.
func (s *RobotStore) List(ctx context.Context) ([]models.Robot, error) {
	var out []models.Robot
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, base_url, client_secret_hash, name, owner, created_at FROM robots ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list robots: %w", err)
	}
	return out, nil
}

// RegisterAutomation binds a robot to a percolator query. The query must
// reference the changeset subdocument (enforced by pkg/automation before
// this is called, per spec.md §6's registration-time rejection rule).
func (s *RobotStore) RegisterAutomation(ctx context.Context, robotID string, query models.Query) (*models.RobotAutomation, error) {
	raw, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal automation query: %w", err)
	}
	a := &models.RobotAutomation{
		ID:        uuid.New().String(),
		RobotID:   robotID,
		Query:     query,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO robot_automations (id, robot_id, query, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.RobotID, raw, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to register automation: %w", err)
	}
	return a, nil
}

// ListAutomations returns every robot automation currently registered, for
// pkg/automation's percolation pass over a projection rebuild.
func (s *RobotStore) ListAutomations(ctx context.Context) ([]models.RobotAutomation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, robot_id, query, created_at FROM robot_automations`)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	defer rows.Close()

	var out []models.RobotAutomation
	for rows.Next() {
		var a models.RobotAutomation
		var raw []byte
		if err := rows.Scan(&a.ID, &a.RobotID, &raw, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}
		if err := json.Unmarshal(raw, &a.Query); err != nil {
			return nil, fmt.Errorf("failed to unmarshal automation query: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
