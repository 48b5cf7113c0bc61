package rename

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
	"github.com/tidwall/gjson"
)

// Renamer assigns canonical structured filenames via the LLM
type Renamer struct {
	llm      interfaces.LLMService
	template string
	cfg      *common.RenameConfig
	logger   arbor.ILogger
}

// Outcome is a finished rename: the canonical filename, its parsed
// fields, the model that produced it, and the raw output kept for the
// imputation pass
type Outcome struct {
	Name        string
	Structured  *models.StructuredName
	Model       string
	RawResponse string
}

// NewRenamer creates a renamer service
func NewRenamer(llm interfaces.LLMService, cfg *common.RenameConfig, logger arbor.ILogger) (*Renamer, error) {
	template, err := loadTemplate(cfg.PromptFile)
	if err != nil {
		return nil, err
	}

	return &Renamer{
		llm:      llm,
		template: template,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Rename classifies the document and produces its canonical filename.
// A confirmed school name always overrides the model's university field.
func (r *Renamer) Rename(ctx context.Context, req *Request) (*Outcome, error) {
	prompt := buildPrompt(r.template, req, r.cfg.MaxContentChars)

	response, err := r.llm.Chat(ctx, []interfaces.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("rename completion failed: %w", err)
	}

	structured, err := ParseStructuredName(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rename response: %w", err)
	}

	// The upstream catalog knows the school; the model only guesses it
	if req.SchoolName != "" {
		structured.University = req.SchoolName
	}

	name := structured.Format(req.Extension)

	r.logger.Debug().
		Str("original_name", req.OriginalName).
		Str("renamed", name).
		Float64("confidence", structured.Confidence).
		Msg("Document renamed")

	return &Outcome{
		Name:        name,
		Structured:  structured,
		Model:       r.llm.Model(),
		RawResponse: response,
	}, nil
}

// ParseStructuredName extracts name fields from an LLM reply. Code fences
// and stray prose around the JSON object are tolerated.
func ParseStructuredName(response string) (*models.StructuredName, error) {
	cleaned := stripCodeFence(response)

	parsed := gjson.Parse(cleaned)
	if !parsed.IsObject() {
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object found in response")
		}
		parsed = gjson.Parse(cleaned[start : end+1])
		if !parsed.IsObject() {
			return nil, fmt.Errorf("malformed JSON object in response")
		}
	}

	name := &models.StructuredName{
		University: parsed.Get("university").String(),
		Department: parsed.Get("department").String(),
		Major:      parsed.Get("major").String(),
		Course:     parsed.Get("course").String(),
		Year:       parsed.Get("year").String(),
		Semester:   parsed.Get("semester").String(),
		DocType:    parsed.Get("doc_type").String(),
		Detail:     parsed.Get("detail").String(),
		Confidence: parsed.Get("confidence").Float(),
		Reason:     parsed.Get("reason").String(),
	}

	if name.University == "" && name.DocType == "" && name.Year == "" {
		return nil, fmt.Errorf("response carries no usable name fields")
	}

	return name, nil
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
