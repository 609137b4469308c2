package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() []Node {
	return []Node{
		{ID: "r", Name: "README.md"},
		{ID: "s", Name: "src", IsFolder: true, Children: []Node{
			{ID: "a", Name: "a.js"},
			{ID: "c", Name: "components", IsFolder: true, Children: []Node{
				{ID: "app", Name: "App.jsx"},
			}},
		}},
		{ID: "e", Name: "empty", IsFolder: true},
	}
}

func TestNode_MarshalJSON_ChildrenOnlyOnFolders(t *testing.T) {
	data, err := json.Marshal(sampleTree()[2])
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"e","name":"empty","isFolder":true,"children":[]}`, string(data))

	data, err = json.Marshal(sampleTree()[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r","name":"README.md","isFolder":false}`, string(data))
}

func TestNode_UnmarshalJSON_RejectsFileWithChildren(t *testing.T) {
	var n Node
	err := json.Unmarshal([]byte(`{"id":"x","name":"x","isFolder":false,"children":[]}`), &n)
	assert.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"f","name":"f","isFolder":true}`), &n))
	assert.NotNil(t, n.Children)
	assert.Empty(t, n.Children)
}

func TestFindByID(t *testing.T) {
	n, ok := FindByID(sampleTree(), "app")
	require.True(t, ok)
	assert.Equal(t, "App.jsx", n.Name)

	_, ok = FindByID(sampleTree(), "missing")
	assert.False(t, ok)
}

func TestFileIDsAndCount(t *testing.T) {
	assert.Equal(t, []string{"r", "a", "app"}, FileIDs(sampleTree()))
	assert.Equal(t, 6, CountNodes(sampleTree()))
	assert.Len(t, IDs(sampleTree()), 6)
}

func TestPath(t *testing.T) {
	p, ok := Path(sampleTree(), "app")
	require.True(t, ok)
	assert.Equal(t, "src/components/App.jsx", p)
}
