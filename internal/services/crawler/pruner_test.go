package crawler

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
)

// scriptedLLM replies with a fixed response
type scriptedLLM struct {
	response string
	err      error
	prompts  []string
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	for _, m := range messages {
		s.prompts = append(s.prompts, m.Content)
	}
	return s.response, s.err
}

func (s *scriptedLLM) Model() string                         { return "test-model" }
func (s *scriptedLLM) HealthCheck(ctx context.Context) error { return nil }
func (s *scriptedLLM) Close() error                          { return nil }

func TestParsePruneResponse(t *testing.T) {
	cases := []struct {
		name     string
		response string
		count    int
		want     []int
		wantErr  bool
	}{
		{"plain array", "[0, 2, 4]", 5, []int{0, 2, 4}, false},
		{"code fence", "```json\n[1, 3]\n```", 5, []int{1, 3}, false},
		{"embedded in prose", "保持するノード: [0, 1] 以上です", 5, []int{0, 1}, false},
		{"out of range dropped", "[0, 9, -1, 2]", 5, []int{0, 2}, false},
		{"duplicates dropped", "[2, 2, 2]", 5, []int{2}, false},
		{"no array", "すべて保持してください", 5, nil, true},
	}
	for _, tc := range cases {
		got, err := parsePruneResponse(tc.response, tc.count)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tc.name, err, tc.wantErr)
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Errorf("%s: kept = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPruneAlwaysKeepsRoot(t *testing.T) {
	llm := &scriptedLLM{response: "[3, 5]"}
	pruner := NewPruner(llm, arbor.NewLogger())

	task := &models.Task{ID: "t1", SchoolName: "Example U", URL: "https://example.ac.jp"}
	nodes := make([]*models.Node, 6)
	for i := range nodes {
		nodes[i] = &models.Node{TaskID: "t1", NodeIndex: i, ParentIndex: i - 1, URL: fmt.Sprintf("https://example.ac.jp/%d", i)}
	}
	nodes[0].ParentIndex = models.RootParentIndex

	kept, err := pruner.Prune(context.Background(), task, nodes, "")
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(kept) != 3 || kept[0] != 0 {
		t.Errorf("kept = %v, want root prepended", kept)
	}
}

func TestBuildPrunePromptIncludesTreeAndExcerpt(t *testing.T) {
	task := &models.Task{ID: "t1", SchoolName: "Example U", URL: "https://example.ac.jp"}
	nodes := []*models.Node{
		{NodeIndex: 0, ParentIndex: models.RootParentIndex, URL: "https://example.ac.jp", Title: "Home"},
		{NodeIndex: 1, ParentIndex: 0, URL: "https://example.ac.jp/guide.pdf", Title: "募集要項", IsFile: true, Extension: "pdf"},
	}

	prompt := buildPrunePrompt(task, nodes, strings.Repeat("x", 3000))

	if !strings.Contains(prompt, "Example U") {
		t.Error("prompt missing school name")
	}
	if !strings.Contains(prompt, "file:pdf") {
		t.Error("prompt missing file node kind")
	}
	if strings.Count(prompt, "x") > 2000 {
		t.Error("root excerpt not truncated")
	}
}

func TestPruneEmptyTree(t *testing.T) {
	pruner := NewPruner(&scriptedLLM{response: "[]"}, arbor.NewLogger())
	kept, err := pruner.Prune(context.Background(), &models.Task{ID: "t1"}, nil, "")
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if kept != nil {
		t.Errorf("kept = %v, want nil for empty tree", kept)
	}
}
