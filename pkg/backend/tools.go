package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"agentflow/pkg/cache"
	"agentflow/services/tool"
)

func (c *Client) ListTools(ctx context.Context) ([]tool.Tool, error) {
	var out []tool.Tool
	if err := c.list(ctx, "/tools", cache.Tools, &out); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return out, nil
}

func (c *Client) GetTool(ctx context.Context, id int) (*tool.Tool, error) {
	var out tool.Tool
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/tools/%d", id), nil, &out); err != nil {
		return nil, toolErr("get", id, err)
	}
	return &out, nil
}

func (c *Client) CreateTool(ctx context.Context, t tool.Tool) (*tool.Tool, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var out tool.Tool
	if err := c.doJSON(ctx, http.MethodPost, "/tools", t, &out); err != nil {
		return nil, fmt.Errorf("create tool: %w", err)
	}
	return &out, nil
}

// UpdateTool sends the full tool; the backend replaces every field.
func (c *Client) UpdateTool(ctx context.Context, t tool.Tool) (*tool.Tool, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var out tool.Tool
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/tools/%d", t.ID), t, &out); err != nil {
		return nil, toolErr("update", t.ID, err)
	}
	return &out, nil
}

func (c *Client) DeleteTool(ctx context.Context, id int) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/tools/%d", id), nil, nil); err != nil {
		return toolErr("delete", id, err)
	}
	return nil
}

// SaveParameterConfigs stores the parameter values of one node.
func (c *Client) SaveParameterConfigs(ctx context.Context, toolID int, scope tool.Scope, params map[string]any) error {
	body := tool.SaveParameterConfigs{AgentID: scope.AgentID, NodeID: scope.NodeID, Parameters: params}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/tools/%d/parameter-configs", toolID), body, nil); err != nil {
		return fmt.Errorf("save parameter configs: %w", err)
	}
	return nil
}

// ParameterConfigs returns the stored values of one node as a
// parameter_name to parameter_value map. Failures are logged and yield an
// empty map so a node panel can always render.
func (c *Client) ParameterConfigs(ctx context.Context, toolID int, scope tool.Scope) map[string]any {
	var list tool.ParameterConfigList
	if err := c.doJSON(ctx, http.MethodGet, parameterConfigsPath(toolID, scope), nil, &list); err != nil {
		c.logger.Error("get parameter configs failed", "tool_id", toolID, "node_id", scope.NodeID, "error", err)
		return map[string]any{}
	}
	return list.Flatten()
}

func (c *Client) DeleteParameterConfigs(ctx context.Context, toolID int, scope tool.Scope) error {
	if err := c.doJSON(ctx, http.MethodDelete, parameterConfigsPath(toolID, scope), nil, nil); err != nil {
		return fmt.Errorf("delete parameter configs: %w", err)
	}
	return nil
}

func parameterConfigsPath(toolID int, scope tool.Scope) string {
	q := url.Values{}
	q.Set("agent_id", scope.AgentID)
	q.Set("node_id", scope.NodeID)
	return fmt.Sprintf("/tools/%d/parameter-configs?%s", toolID, q.Encode())
}

func toolErr(op string, id int, err error) error {
	if StatusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%s tool %d: %w", op, id, tool.ErrNotFound)
	}
	return fmt.Errorf("%s tool %d: %w", op, id, err)
}
