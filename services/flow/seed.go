package flow

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// SeedFlow returns the sample flow new projects are created with.
func SeedFlow() (Flow, error) {
	return ParseYAML(seedYAML)
}

// ParseYAML decodes a flow written in YAML. Keys follow the JSON wire names.
// Edges without a type are plain edges.
func ParseYAML(data []byte) (Flow, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Flow{}, fmt.Errorf("parse flow yaml: %w", err)
	}
	// Round-trip through JSON so the wire tags on Node and Edge apply.
	buf, err := json.Marshal(raw)
	if err != nil {
		return Flow{}, fmt.Errorf("encode flow: %w", err)
	}
	var f Flow
	if err := json.Unmarshal(buf, &f); err != nil {
		return Flow{}, fmt.Errorf("decode flow: %w", err)
	}
	for i := range f.Edges {
		if f.Edges[i].Kind == "" {
			f.Edges[i].Kind = EdgePlain
		}
	}
	return f, nil
}
