package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentflow/services/flow"
)

// Repository handles project persistence in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

var _ Store = (*Repository)(nil)

// InitSchema creates the projects table if it does not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS projects (
			id          SERIAL PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			flow        JSONB NOT NULL DEFAULT '{"nodes":[],"edges":[]}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Seed inserts the sample project when the table is empty.
func (r *Repository) Seed(ctx context.Context) error {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count); err != nil {
		return fmt.Errorf("count projects: %w", err)
	}
	if count > 0 {
		return nil
	}
	p, err := NewProject{Name: "Sample Project"}.Defaults()
	if err != nil {
		return fmt.Errorf("seed flow: %w", err)
	}
	if _, err := r.Create(ctx, p); err != nil {
		return fmt.Errorf("seed project: %w", err)
	}
	return nil
}

// List returns all projects, most recently updated first.
func (r *Repository) List(ctx context.Context) ([]Project, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, flow, created_at, updated_at
		FROM projects ORDER BY updated_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// Get retrieves a project by id.
func (r *Repository) Get(ctx context.Context, id int) (*Project, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, description, flow, created_at, updated_at
		FROM projects WHERE id = $1
	`, id)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get project %d: %w", id, ErrNotFound)
	}
	return p, err
}

// Create inserts a project and returns the stored row.
func (r *Repository) Create(ctx context.Context, np NewProject) (*Project, error) {
	flowJSON, err := json.Marshal(np.Flow)
	if err != nil {
		return nil, fmt.Errorf("marshal flow: %w", err)
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO projects (name, description, flow)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, flow, created_at, updated_at
	`, np.Name, np.Description, flowJSON)
	return scanProject(row)
}

// UpdateFlow replaces the stored flow. Last write wins.
func (r *Repository) UpdateFlow(ctx context.Context, id int, f flow.Flow) (*Project, error) {
	flowJSON, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal flow: %w", err)
	}
	row := r.db.QueryRow(ctx, `
		UPDATE projects SET flow = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, description, flow, created_at, updated_at
	`, id, flowJSON)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update project %d: %w", id, ErrNotFound)
	}
	return p, err
}

// Delete removes a project.
func (r *Repository) Delete(ctx context.Context, id int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete project %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanProject(row pgx.Row) (*Project, error) {
	var p Project
	var flowJSON []byte
	err := row.Scan(&p.ID, &p.Name, &p.Description, &flowJSON, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if err := json.Unmarshal(flowJSON, &p.Flow); err != nil {
		return nil, fmt.Errorf("unmarshal flow: %w", err)
	}
	return &p, nil
}

// InitDB creates the schema and seeds initial data. Called on startup when
// the editor talks to Postgres directly.
func InitDB(ctx context.Context, pool *pgxpool.Pool) error {
	repo := NewRepository(pool)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}
	return repo.Seed(ctx)
}
