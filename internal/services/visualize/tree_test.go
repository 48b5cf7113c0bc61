package visualize

import (
	"testing"

	"github.com/ternarybob/nyushi/internal/models"
)

func node(index, parent int, retained bool) *models.Node {
	return &models.Node{
		TaskID:      "t1",
		NodeIndex:   index,
		ParentIndex: parent,
		URL:         "https://example.ac.jp",
		IsPruned:    retained,
	}
}

func TestKeptNodesDropsUnretainedSubtrees(t *testing.T) {
	// 0 (retained) -> 1 (dropped) -> 2 (retained), 0 -> 3 (retained)
	nodes := []*models.Node{
		node(0, models.RootParentIndex, true),
		node(1, 0, false),
		node(2, 1, true),
		node(3, 0, true),
	}

	kept := keptNodes(nodes)
	indexes := map[int]bool{}
	for _, n := range kept {
		indexes[n.NodeIndex] = true
	}

	if !indexes[0] || !indexes[3] {
		t.Errorf("kept = %v, want 0 and 3", indexes)
	}
	if indexes[1] {
		t.Error("dropped node 1 must not appear")
	}
	if indexes[2] {
		t.Error("node 2 under a dropped ancestor must not appear")
	}
}

func TestBuildTreeData(t *testing.T) {
	nodes := []*models.Node{
		{TaskID: "t1", NodeIndex: 0, ParentIndex: models.RootParentIndex, Title: "Home"},
		{TaskID: "t1", NodeIndex: 1, ParentIndex: 0, Title: "Admissions"},
		{TaskID: "t1", NodeIndex: 2, ParentIndex: 1, Title: "guide", IsFile: true, Extension: "pdf"},
	}

	root := buildTreeData(nodes)
	if root == nil {
		t.Fatal("no root built")
	}
	if root.Name != "Home" {
		t.Errorf("root name = %q", root.Name)
	}
	if len(root.Children) != 1 {
		t.Fatalf("root children = %d", len(root.Children))
	}
	child := root.Children[0]
	if len(child.Children) != 1 {
		t.Fatalf("admissions children = %d", len(child.Children))
	}
	if child.Children[0].Name != "[pdf] guide" {
		t.Errorf("file label = %q", child.Children[0].Name)
	}
}

func TestBuildTreeDataNoRoot(t *testing.T) {
	nodes := []*models.Node{{TaskID: "t1", NodeIndex: 1, ParentIndex: 0}}
	if root := buildTreeData(nodes); root != nil {
		t.Errorf("expected nil root, got %+v", root)
	}
}

func TestBuildTreeDataFallsBackToURL(t *testing.T) {
	nodes := []*models.Node{
		{TaskID: "t1", NodeIndex: 0, ParentIndex: models.RootParentIndex, URL: "https://example.ac.jp"},
	}
	root := buildTreeData(nodes)
	if root == nil || root.Name != "https://example.ac.jp" {
		t.Errorf("untitled node should label with its URL: %+v", root)
	}
}
