package rename

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/interfaces"
)

// scriptedLLM replies with a fixed response
type scriptedLLM struct {
	response string
	err      error
	prompt   string
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	if len(messages) > 0 {
		s.prompt = messages[len(messages)-1].Content
	}
	return s.response, s.err
}

func (s *scriptedLLM) Model() string                         { return "test-model" }
func (s *scriptedLLM) HealthCheck(ctx context.Context) error { return nil }
func (s *scriptedLLM) Close() error                          { return nil }

const sampleResponse = `{
  "university": "推測大学",
  "department": "工学部",
  "major": "全専攻",
  "course": "一般選抜",
  "year": "2026",
  "semester": "前期",
  "doc_type": "募集要項",
  "detail": "",
  "confidence": 0.9,
  "reason": "表紙に記載"
}`

func TestParseStructuredName(t *testing.T) {
	name, err := ParseStructuredName(sampleResponse)
	if err != nil {
		t.Fatalf("ParseStructuredName failed: %v", err)
	}
	if name.University != "推測大学" || name.Year != "2026" || name.DocType != "募集要項" {
		t.Errorf("parsed = %+v", name)
	}
	if name.Confidence != 0.9 {
		t.Errorf("confidence = %v", name.Confidence)
	}
}

func TestParseStructuredNameCodeFence(t *testing.T) {
	fenced := "```json\n" + sampleResponse + "\n```"
	if _, err := ParseStructuredName(fenced); err != nil {
		t.Errorf("fenced JSON should parse: %v", err)
	}
}

func TestParseStructuredNameEmbeddedInProse(t *testing.T) {
	prose := "分類結果は次の通りです。\n" + sampleResponse + "\n以上です。"
	name, err := ParseStructuredName(prose)
	if err != nil {
		t.Fatalf("embedded JSON should parse: %v", err)
	}
	if name.Department != "工学部" {
		t.Errorf("parsed = %+v", name)
	}
}

func TestParseStructuredNameRejectsEmpty(t *testing.T) {
	for _, response := range []string{
		"わかりません",
		`{"detail": "something"}`,
		"",
	} {
		if _, err := ParseStructuredName(response); err == nil {
			t.Errorf("response %q should fail", response)
		}
	}
}

func TestRenameSchoolOverridesUniversity(t *testing.T) {
	llm := &scriptedLLM{response: sampleResponse}
	renamer, err := NewRenamer(llm, &common.RenameConfig{MaxContentChars: 8000}, arbor.NewLogger())
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := renamer.Rename(context.Background(), &Request{
		SchoolName:   "正式大学",
		OriginalName: "guide.pdf",
		Content:      "本文",
		Extension:    "pdf",
	})
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	if outcome.Structured.University != "正式大学" {
		t.Errorf("University = %q, confirmed school must override the model", outcome.Structured.University)
	}
	if !strings.HasPrefix(outcome.Name, "正式大学_工学部_全専攻_") {
		t.Errorf("Name = %q", outcome.Name)
	}
	if !strings.HasSuffix(outcome.Name, ".pdf") {
		t.Errorf("Name = %q, missing forced extension", outcome.Name)
	}
	if outcome.RawResponse != sampleResponse {
		t.Error("raw response must be preserved for the imputation pass")
	}
	if outcome.Model != "test-model" {
		t.Errorf("Model = %q, the producing model is recorded for auditing", outcome.Model)
	}
}

func TestRenamePropagatesLLMError(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("rate limited")}
	renamer, err := NewRenamer(llm, &common.RenameConfig{}, arbor.NewLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := renamer.Rename(context.Background(), &Request{Content: "x"}); err == nil {
		t.Error("LLM error should propagate")
	}
}

func TestBuildPromptTruncatesContent(t *testing.T) {
	req := &Request{
		SchoolName: "例大学",
		Content:    strings.Repeat("長", 3000),
	}
	prompt := buildPrompt(defaultPromptTemplate, req, 300)

	if !strings.Contains(prompt, "例大学") {
		t.Error("prompt missing school name")
	}
	if strings.Count(prompt, "長")*len("長") > 300 {
		t.Error("content not truncated")
	}
	if strings.Contains(prompt, "{content}") {
		t.Error("placeholder left unsubstituted")
	}
}

func TestLoadTemplateOverride(t *testing.T) {
	if _, err := loadTemplate("/nonexistent/prompt.txt"); err == nil {
		t.Error("missing override file should fail")
	}
	tpl, err := loadTemplate("")
	if err != nil || tpl == "" {
		t.Errorf("default template load failed: %v", err)
	}
}
