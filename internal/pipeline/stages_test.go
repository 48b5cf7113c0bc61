package pipeline

import (
	"testing"

	"github.com/ternarybob/nyushi/internal/models"
)

func TestBreadcrumbJoinsAncestorsRootFirst(t *testing.T) {
	byIndex := map[int]*models.Node{
		0: {NodeIndex: 0, ParentIndex: models.RootParentIndex, Title: "ホーム"},
		1: {NodeIndex: 1, ParentIndex: 0, Title: "入試情報"},
		2: {NodeIndex: 2, ParentIndex: 1, Title: "大学院"},
		3: {NodeIndex: 3, ParentIndex: 2, Title: "募集要項"},
	}

	got := breadcrumb(byIndex, byIndex[3])
	want := "ホーム > 入試情報 > 大学院"
	if got != want {
		t.Errorf("breadcrumb = %q, want %q", got, want)
	}
}

func TestBreadcrumbUsesURLForUntitledPages(t *testing.T) {
	byIndex := map[int]*models.Node{
		0: {NodeIndex: 0, ParentIndex: models.RootParentIndex, URL: "https://example.ac.jp"},
		1: {NodeIndex: 1, ParentIndex: 0, Title: "入試"},
	}

	got := breadcrumb(byIndex, byIndex[1])
	if got != "https://example.ac.jp" {
		t.Errorf("breadcrumb = %q", got)
	}
}

func TestBreadcrumbRootNode(t *testing.T) {
	byIndex := map[int]*models.Node{
		0: {NodeIndex: 0, ParentIndex: models.RootParentIndex, Title: "ホーム"},
	}
	if got := breadcrumb(byIndex, byIndex[0]); got != "" {
		t.Errorf("root breadcrumb = %q, want empty", got)
	}
}
