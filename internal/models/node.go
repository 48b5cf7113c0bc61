package models

import (
	"fmt"
	"strings"
	"time"
)

// RootParentIndex marks a node with no parent
const RootParentIndex = -1

// Node is one entry in a task's discovered link tree. NodeIndex is assigned
// in discovery order and is unique within a task. IsPruned is true for the
// nodes the prune pass retained; only retained file nodes become Files.
type Node struct {
	ID          string    `json:"id" badgerhold:"key"`
	TaskID      string    `json:"task_id" badgerhold:"index"`
	NodeIndex   int       `json:"node_index"`
	ParentIndex int       `json:"parent_index"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Depth       int       `json:"depth"`
	IsPruned    bool      `json:"is_pruned"`
	IsFile      bool      `json:"is_file"`
	Extension   string    `json:"extension,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NodeKey builds the storage key for a node within its task
func NodeKey(taskID string, nodeIndex int) string {
	return fmt.Sprintf("%s:%d", taskID, nodeIndex)
}

// Validate checks the tree ordering invariant: a parent always precedes its
// child, so ParentIndex must be below NodeIndex (or RootParentIndex)
func (n *Node) Validate() error {
	if n.TaskID == "" {
		return fmt.Errorf("node task ID is required")
	}
	if n.NodeIndex < 0 {
		return fmt.Errorf("node index must be non-negative, got %d", n.NodeIndex)
	}
	if n.ParentIndex != RootParentIndex && n.ParentIndex >= n.NodeIndex {
		return fmt.Errorf("parent index %d must precede node index %d", n.ParentIndex, n.NodeIndex)
	}
	return nil
}

// DetectExtension returns the lowercase file extension of a URL path,
// without the dot, or "" when the URL does not look like a file link
func DetectExtension(url string) string {
	path := url
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.LastIndex(path, "."); i >= 0 && i < len(path)-1 {
		return strings.ToLower(path[i+1:])
	}
	return ""
}
