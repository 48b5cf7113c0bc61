package interfaces

import "context"

// TextExtractor pulls plain text from a downloaded document on disk
type TextExtractor interface {
	// ExtractText returns the document's text content. The path's
	// extension selects the format handler.
	ExtractText(ctx context.Context, path string) (string, error)

	// Supports reports whether the extension (without dot) has a handler
	Supports(ext string) bool
}
