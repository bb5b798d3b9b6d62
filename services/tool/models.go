package tool

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound indicates a tool id unknown to the backend.
var ErrNotFound = errors.New("tool: not found")

// Tool is a user-defined function agents can call.
type Tool struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Code        string      `json:"code,omitempty"`
	LogoURL     string      `json:"logo_url,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	Variables   []Variable  `json:"variables,omitempty"`
	UserName    string      `json:"user_name,omitempty"`
	UserEmail   string      `json:"user_email,omitempty"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at,omitempty"`
}

// Parameter declares a value a user configures per node when attaching the tool.
type Parameter struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Required    bool           `json:"required"`
	Default     any            `json:"default,omitempty"`
	Options     []string       `json:"options,omitempty"`
	Validation  map[string]any `json:"validation,omitempty"`
}

// Variable is an environment value the tool reads at run time.
type Variable struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Value       string `json:"value,omitempty"`
}

// ParameterType enumerates the editor's supported parameter kinds.
const (
	ParamString  = "string"
	ParamNumber  = "number"
	ParamBoolean = "boolean"
	ParamSelect  = "select"
)

// Validate reports the first invalid parameter declaration.
func (t Tool) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("tool name is required")
	}
	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" {
			return errors.New("parameter name is required")
		}
		if seen[p.Name] {
			return errors.New("duplicate parameter " + p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case ParamString, ParamNumber, ParamBoolean:
		case ParamSelect:
			if len(p.Options) == 0 {
				return errors.New("select parameter " + p.Name + " needs options")
			}
		default:
			return errors.New("unknown parameter type " + p.Type)
		}
	}
	return nil
}

// ParameterConfig is one stored parameter value, scoped to a node in an agent.
type ParameterConfig struct {
	ID             int    `json:"id,omitempty"`
	ToolID         int    `json:"tool_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	NodeID         string `json:"node_id,omitempty"`
	ParameterName  string `json:"parameter_name"`
	ParameterValue any    `json:"parameter_value"`
}

// ParameterConfigList is the backend's response envelope.
type ParameterConfigList struct {
	Configs []ParameterConfig `json:"configs"`
}

// SaveParameterConfigs is the request body for storing a node's parameter values.
type SaveParameterConfigs struct {
	AgentID    string         `json:"agent_id"`
	NodeID     string         `json:"node_id"`
	Parameters map[string]any `json:"parameters"`
}

// Scope identifies the node a parameter config belongs to.
type Scope struct {
	AgentID string
	NodeID  string
}

// Flatten turns the config list into a parameter_name to parameter_value
// map. Later entries overwrite earlier ones with the same name.
func (l ParameterConfigList) Flatten() map[string]any {
	out := make(map[string]any, len(l.Configs))
	for _, c := range l.Configs {
		if c.ParameterName == "" {
			continue
		}
		out[c.ParameterName] = c.ParameterValue
	}
	return out
}

// Upload is a file staged for the attachments endpoint.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Attachment is the backend's reference to an uploaded tool file.
type Attachment struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Mime     string `json:"mime"`
}

// Meta is the message metadata block that references the attachment.
func (a Attachment) Meta() map[string]any {
	return map[string]any{
		"attachment_path": a.Path,
		"attachment_name": a.Filename,
		"attachment_mime": a.Mime,
	}
}
