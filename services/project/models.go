package project

import (
	"context"
	"errors"
	"time"

	"agentflow/services/flow"
)

// ErrNotFound indicates a project id unknown to the store.
var ErrNotFound = errors.New("project: not found")

// Project is a persisted flow definition.
type Project struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Flow        flow.Flow `json:"flow"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewProject is the payload for creating a project.
type NewProject struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Flow        flow.Flow `json:"flow"`
}

// Store is the project store the editor replicates to. The remote HTTP
// backend and the Postgres repository both implement it.
type Store interface {
	List(ctx context.Context) ([]Project, error)
	Get(ctx context.Context, id int) (*Project, error)
	Create(ctx context.Context, p NewProject) (*Project, error)
	UpdateFlow(ctx context.Context, id int, f flow.Flow) (*Project, error)
	Delete(ctx context.Context, id int) error
}

// Defaults fills the name and description the way new projects are offered,
// and seeds the sample flow when none is given.
func (p NewProject) Defaults() (NewProject, error) {
	if p.Name == "" {
		p.Name = "New Project"
	}
	if p.Description == "" {
		p.Description = "A new project with sample nodes."
	}
	if len(p.Flow.Nodes) == 0 {
		seed, err := flow.SeedFlow()
		if err != nil {
			return p, err
		}
		p.Flow = seed
	}
	return p, nil
}
