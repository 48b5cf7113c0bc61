package impute

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
	"github.com/ternarybob/nyushi/internal/services/rename"
)

// majorCatchAll marks a document that applies to every major; it never
// counts as evidence for a specific major
const majorCatchAll = "全専攻"

// imputablePositions covers university, department and major. Later name
// fields are document-specific and stay Unknown.
const imputablePositions = 3

// Service fills Unknown name fields per task once all of the task's files
// are renamed, using the most common value the LLM produced for sibling
// documents
type Service struct {
	catalog interfaces.Catalog
	logger  arbor.ILogger
}

// NewService creates an imputation service
func NewService(catalog interfaces.Catalog, logger arbor.ILogger) *Service {
	return &Service{catalog: catalog, logger: logger}
}

// ImputeTask rewrites Unknown values in the first three name positions of
// every renamed file of the task
func (s *Service) ImputeTask(ctx context.Context, taskID string) error {
	files, err := s.catalog.ListFilesByTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to list files for imputation: %w", err)
	}

	fills := collectFills(files)
	if len(fills) == 0 {
		return nil
	}

	updated := 0
	for _, file := range files {
		if file.RenamedName == "" {
			continue
		}
		newName, changed := applyFills(file.RenamedName, fills)
		if !changed {
			continue
		}
		if err := s.catalog.UpdateFileRenamedNameOnly(ctx, file.ID, newName); err != nil {
			return fmt.Errorf("failed to update imputed name for file %s: %w", file.ID, err)
		}
		updated++
	}

	if updated > 0 {
		s.logger.Info().
			Str("task_id", taskID).
			Int("updated", updated).
			Msg("Unknown name fields imputed")
	}
	return nil
}

// collectFills tallies the non-Unknown values the LLM produced for the
// imputable positions and returns the winner per position. The major
// catch-all value is excluded from counting.
func collectFills(files []*models.File) map[int]string {
	counts := [imputablePositions]map[string]int{}
	for i := range counts {
		counts[i] = make(map[string]int)
	}

	fields := [imputablePositions]string{"university", "department", "major"}
	for _, file := range files {
		if file.LLMRawResponse == "" {
			continue
		}
		parsed, err := rename.ParseStructuredName(file.LLMRawResponse)
		if err != nil {
			continue
		}
		values := [imputablePositions]string{parsed.University, parsed.Department, parsed.Major}
		for i := range fields {
			v := strings.TrimSpace(values[i])
			if v == "" || v == models.UnknownField {
				continue
			}
			if i == 2 && v == majorCatchAll {
				continue
			}
			counts[i][v]++
		}
	}

	fills := make(map[int]string)
	for i := range counts {
		if winner := mostCommon(counts[i]); winner != "" {
			fills[i] = winner
		}
	}
	return fills
}

// mostCommon returns the highest-count value, ties broken alphabetically
// for determinism
func mostCommon(counts map[string]int) string {
	type entry struct {
		value string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for v, c := range counts {
		entries = append(entries, entry{v, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].value < entries[j].value
	})
	if len(entries) == 0 {
		return ""
	}
	return entries[0].value
}

// applyFills replaces Unknown in the imputable positions of a rendered
// filename. Positions beyond the first three are never touched.
func applyFills(name string, fills map[int]string) (string, bool) {
	ext := ""
	base := name
	if i := strings.LastIndex(name, "."); i > 0 {
		base = name[:i]
		ext = name[i:]
	}

	parts := strings.Split(base, "_")
	changed := false
	for i := 0; i < imputablePositions && i < len(parts); i++ {
		if parts[i] != models.UnknownField {
			continue
		}
		if fill, ok := fills[i]; ok {
			parts[i] = models.SanitizeFilename(fill)
			changed = true
		}
	}

	return strings.Join(parts, "_") + ext, changed
}
