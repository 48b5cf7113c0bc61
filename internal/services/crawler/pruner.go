package crawler

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
	"github.com/tidwall/gjson"
)

// Pruner asks the LLM which nodes of a discovered link tree are worth
// keeping for admissions-document harvesting
type Pruner struct {
	llm    interfaces.LLMService
	logger arbor.ILogger
}

// NewPruner creates a tree pruner
func NewPruner(llm interfaces.LLMService, logger arbor.ILogger) *Pruner {
	return &Pruner{llm: llm, logger: logger}
}

const pruneSystemPrompt = `あなたは大学の入試情報サイトを分析するアシスタントです。
リンクツリーから、入試要項・過去問題・合格発表・出願書類などの入試関連文書に
つながるノードだけを選んでください。広報、アクセス、サークル紹介などの
無関係なページは除外します。

回答は保持するノード番号の JSON 配列のみで返してください。例: [0, 3, 7]`

// Prune returns the node indexes to keep. The root node is always kept.
func (p *Pruner) Prune(ctx context.Context, task *models.Task, nodes []*models.Node, rootMarkdown string) ([]int, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	prompt := buildPrunePrompt(task, nodes, rootMarkdown)

	response, err := p.llm.Chat(ctx, []interfaces.Message{
		{Role: "system", Content: pruneSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("prune completion failed: %w", err)
	}

	kept, err := parsePruneResponse(response, len(nodes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse prune response: %w", err)
	}

	// The root always survives; everything hangs off it
	if len(kept) == 0 || kept[0] != 0 {
		hasRoot := false
		for _, idx := range kept {
			if idx == 0 {
				hasRoot = true
				break
			}
		}
		if !hasRoot {
			kept = append([]int{0}, kept...)
		}
	}

	return kept, nil
}

// buildPrunePrompt renders the node table plus a trimmed excerpt of the
// seed page for context
func buildPrunePrompt(task *models.Task, nodes []*models.Node, rootMarkdown string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "学校名: %s\n", task.SchoolName)
	fmt.Fprintf(&b, "起点URL: %s\n\n", task.URL)
	b.WriteString("リンクツリー (番号 | 親番号 | 深さ | 種別 | タイトル | URL):\n")

	for _, node := range nodes {
		kind := "page"
		if node.IsFile {
			kind = "file:" + node.Extension
		}
		title := node.Title
		if len(title) > 80 {
			title = title[:80]
		}
		fmt.Fprintf(&b, "%d | %d | %d | %s | %s | %s\n",
			node.NodeIndex, node.ParentIndex, node.Depth, kind, title, node.URL)
	}

	if rootMarkdown != "" {
		const excerptLimit = 2000
		if len(rootMarkdown) > excerptLimit {
			rootMarkdown = rootMarkdown[:excerptLimit]
		}
		b.WriteString("\n起点ページの内容 (抜粋):\n")
		b.WriteString(rootMarkdown)
	}

	return b.String()
}

// parsePruneResponse pulls the index array out of the LLM reply. Code
// fences and surrounding prose are tolerated; out-of-range indexes are
// dropped.
func parsePruneResponse(response string, nodeCount int) ([]int, error) {
	cleaned := stripCodeFence(response)

	parsed := gjson.Parse(cleaned)
	if !parsed.IsArray() {
		// The array may be embedded in prose; take the first bracket pair
		start := strings.Index(cleaned, "[")
		end := strings.LastIndex(cleaned, "]")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no index array found in response")
		}
		parsed = gjson.Parse(cleaned[start : end+1])
		if !parsed.IsArray() {
			return nil, fmt.Errorf("malformed index array in response")
		}
	}

	var kept []int
	seen := make(map[int]bool)
	for _, item := range parsed.Array() {
		idx := int(item.Int())
		if idx < 0 || idx >= nodeCount || seen[idx] {
			continue
		}
		seen[idx] = true
		kept = append(kept, idx)
	}

	return kept, nil
}

// stripCodeFence removes a surrounding markdown code fence if present
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
