package model

import (
	"encoding/json"
	"fmt"
)

// Node is one entry of a settled file tree snapshot.
//
// Children is only meaningful for folders. On the wire a folder always
// carries a children array (possibly empty) and a file never does.
type Node struct {
	ID       string
	Name     string
	IsFolder bool
	Children []Node
}

type wireNode struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	IsFolder bool    `json:"isFolder"`
	Children *[]Node `json:"children,omitempty"`
}

// MarshalJSON emits {id, name, isFolder, children?}.
func (n Node) MarshalJSON() ([]byte, error) {
	w := wireNode{ID: n.ID, Name: n.Name, IsFolder: n.IsFolder}
	if n.IsFolder {
		children := n.Children
		if children == nil {
			children = []Node{}
		}
		w.Children = &children
	}
	return json.Marshal(w)
}

// UnmarshalJSON rejects files that carry children.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.IsFolder && w.Children != nil {
		return fmt.Errorf("node %s: file must not carry children", w.ID)
	}
	n.ID = w.ID
	n.Name = w.Name
	n.IsFolder = w.IsFolder
	n.Children = nil
	if w.IsFolder {
		n.Children = []Node{}
		if w.Children != nil {
			n.Children = *w.Children
		}
	}
	return nil
}

// FindByID searches nodes depth-first, pre-order.
func FindByID(nodes []Node, id string) (Node, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
		if n.IsFolder {
			if found, ok := FindByID(n.Children, id); ok {
				return found, true
			}
		}
	}
	return Node{}, false
}

// FileIDs returns the ids of every file in nodes, pre-order.
func FileIDs(nodes []Node) []string {
	var ids []string
	for _, n := range nodes {
		if n.IsFolder {
			ids = append(ids, FileIDs(n.Children)...)
			continue
		}
		ids = append(ids, n.ID)
	}
	return ids
}

// CountNodes counts files and folders.
func CountNodes(nodes []Node) int {
	count := 0
	for _, n := range nodes {
		count++
		count += CountNodes(n.Children)
	}
	return count
}

// IDs returns every node id in nodes as a set.
func IDs(nodes []Node) map[string]bool {
	set := make(map[string]bool)
	var walk func([]Node)
	walk = func(ns []Node) {
		for _, n := range ns {
			set[n.ID] = true
			walk(n.Children)
		}
	}
	walk(nodes)
	return set
}

// Path returns the slash-joined names from the root down to id.
func Path(nodes []Node, id string) (string, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n.Name, true
		}
		if n.IsFolder {
			if rest, ok := Path(n.Children, id); ok {
				return n.Name + "/" + rest, true
			}
		}
	}
	return "", false
}

// ToValue converts nodes to the generic form MarshalCanonical accepts.
func ToValue(nodes []Node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		obj := map[string]any{
			"id":       n.ID,
			"name":     n.Name,
			"isFolder": n.IsFolder,
		}
		if n.IsFolder {
			obj["children"] = ToValue(n.Children)
		}
		out[i] = obj
	}
	return out
}
