package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedFlow(t *testing.T) {
	f, err := SeedFlow()
	require.NoError(t, err)

	assert.Len(t, f.Nodes, 14)
	assert.Len(t, f.Edges, 10)

	g := NewGraph(f)
	for _, e := range f.Edges {
		assert.NotNil(t, g.FindNode(e.Source), "edge %s source", e.ID)
		assert.NotNil(t, g.FindNode(e.Target), "edge %s target", e.ID)
	}

	converse := g.FindEdge("1-2")
	require.NotNil(t, converse)
	assert.Equal(t, EdgeConverse, converse.Kind)
	assert.True(t, converse.Animated)

	plain := g.FindEdge("condition-quickreply")
	require.NotNil(t, plain)
	assert.Equal(t, EdgePlain, plain.Kind)
	assert.Equal(t, "if", plain.SourceHandle)

	note := g.FindNode("998")
	require.NotNil(t, note)
	require.NotNil(t, note.Width)
	assert.Equal(t, 400.0, *note.Width)
	assert.Equal(t, "note", note.Name())
}

func TestParseYAML_Invalid(t *testing.T) {
	_, err := ParseYAML([]byte("nodes: [unterminated"))
	assert.Error(t, err)
}
