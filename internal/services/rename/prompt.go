package rename

import (
	"fmt"
	"os"
	"strings"
)

// defaultPromptTemplate asks for the eight classification fields as JSON.
// Placeholders are substituted with the document's context before sending.
const defaultPromptTemplate = `以下の大学入試関連文書を分類し、構造化されたファイル名の要素を JSON で返してください。

学校名: {school_name}
文書URL: {url}
パンくず: {breadcrumb}
ページタイトル: {title}
親ページタイトル: {parent_title}
元のファイル名: {original_name}

文書内容:
{content}

次の形式の JSON のみを返してください。判断できないフィールドは "Unknown" とします。

{
  "university": "大学名",
  "department": "学部・研究科名",
  "major": "専攻名 (全専攻対象なら 全専攻)",
  "course": "課程・入試方式",
  "year": "年度 (例: 2026)",
  "semester": "学期・期 (例: 前期)",
  "doc_type": "文書種別 (募集要項/過去問/合格発表/出願書類 など)",
  "detail": "補足",
  "confidence": 0.0,
  "reason": "判断根拠"
}`

// Request carries everything the renamer knows about one document
type Request struct {
	SchoolName   string
	URL          string
	Breadcrumb   string
	Title        string
	ParentTitle  string
	OriginalName string
	Content      string
	Extension    string
}

// loadTemplate returns the prompt template, honoring a configured override file
func loadTemplate(promptFile string) (string, error) {
	if promptFile == "" {
		return defaultPromptTemplate, nil
	}
	data, err := os.ReadFile(promptFile)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt template %s: %w", promptFile, err)
	}
	return string(data), nil
}

// buildPrompt substitutes the request into the template. Content is
// truncated to maxContentChars before substitution.
func buildPrompt(template string, req *Request, maxContentChars int) string {
	content := req.Content
	if maxContentChars > 0 && len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	replacer := strings.NewReplacer(
		"{school_name}", req.SchoolName,
		"{url}", req.URL,
		"{breadcrumb}", req.Breadcrumb,
		"{title}", req.Title,
		"{parent_title}", req.ParentTitle,
		"{original_name}", req.OriginalName,
		"{content}", content,
	)
	return replacer.Replace(template)
}
