package models

import (
	"regexp"
	"strings"
)

// UnknownField is the placeholder an LLM returns when a name field cannot
// be determined from the document
const UnknownField = "Unknown"

// StructuredName holds the eight classification fields a renamed document
// carries, plus the model's own confidence estimate
type StructuredName struct {
	University string  `json:"university"`
	Department string  `json:"department"`
	Major      string  `json:"major"`
	Course     string  `json:"course"`
	Year       string  `json:"year"`
	Semester   string  `json:"semester"`
	DocType    string  `json:"doc_type"`
	Detail     string  `json:"detail"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

var (
	illegalNameChars = regexp.MustCompile(`[/\\:*?"<>|]`)
	underscoreRuns   = regexp.MustCompile(`_+`)
)

// SanitizeFilename replaces characters that are illegal in filenames,
// collapses underscore runs, and trims leading/trailing underscores
func SanitizeFilename(name string) string {
	s := illegalNameChars.ReplaceAllString(name, "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// orUnknown substitutes the placeholder for empty fields
func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return UnknownField
	}
	return v
}

// Format renders the canonical filename for the given extension (without dot).
// Field order is fixed; empty fields render as Unknown.
func (n *StructuredName) Format(ext string) string {
	parts := []string{
		orUnknown(n.University),
		orUnknown(n.Department),
		orUnknown(n.Major),
		orUnknown(n.Course),
		orUnknown(n.Year),
		orUnknown(n.Semester),
		orUnknown(n.DocType),
		orUnknown(n.Detail),
	}
	name := SanitizeFilename(strings.Join(parts, "_"))
	return ForceExtension(name, ext)
}

// ForceExtension ensures name ends with ".ext", replacing any existing
// extension-looking suffix the LLM may have appended
func ForceExtension(name, ext string) string {
	ext = normalizeExt(ext)
	if ext == "" {
		return name
	}
	lower := strings.ToLower(name)
	for candidate := range SupportedExtensions {
		if strings.HasSuffix(lower, "."+candidate) {
			name = name[:len(name)-len(candidate)-1]
			break
		}
	}
	return strings.TrimSuffix(name, ".") + "." + ext
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
