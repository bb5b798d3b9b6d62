package backend

import (
	"context"
	"fmt"
	"net/http"

	"agentflow/pkg/cache"
	"agentflow/services/flow"
	"agentflow/services/project"
)

var _ project.Store = (*Client)(nil)

// List returns the user's projects.
func (c *Client) List(ctx context.Context) ([]project.Project, error) {
	var out []project.Project
	if err := c.list(ctx, "/projects", cache.Projects, &out); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// Get returns one project.
func (c *Client) Get(ctx context.Context, id int) (*project.Project, error) {
	var p project.Project
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/projects/%d", id), nil, &p); err != nil {
		return nil, projectErr("get", id, err)
	}
	return &p, nil
}

// Create creates a project with np's flow.
func (c *Client) Create(ctx context.Context, np project.NewProject) (*project.Project, error) {
	var p project.Project
	if err := c.doJSON(ctx, http.MethodPost, "/projects/", np, &p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

type flowUpdate struct {
	Flow flow.Flow `json:"flow"`
}

// UpdateFlow replaces the project's flow and returns the canonical project.
func (c *Client) UpdateFlow(ctx context.Context, id int, f flow.Flow) (*project.Project, error) {
	var p project.Project
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/projects/%d", id), flowUpdate{Flow: f}, &p); err != nil {
		return nil, projectErr("update", id, err)
	}
	if p.ID == 0 {
		p.ID = id
		p.Flow = f
	}
	return &p, nil
}

// Delete removes a project.
func (c *Client) Delete(ctx context.Context, id int) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/projects/%d", id), nil, nil); err != nil {
		return projectErr("delete", id, err)
	}
	return nil
}

func projectErr(op string, id int, err error) error {
	if StatusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%s project %d: %w", op, id, project.ErrNotFound)
	}
	return fmt.Errorf("%s project %d: %w", op, id, err)
}
