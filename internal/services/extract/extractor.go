package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
)

// Service extracts plain text from downloaded documents. PDF goes through
// pdfcpu; DOCX and XLSX are unpacked directly. Legacy binary formats
// (.doc, .xls) have no handler and fail with a clear message.
type Service struct {
	blobs    interfaces.BlobStore
	tempDir  string
	maxChars int
	timeout  time.Duration
	logger   arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.TextExtractor = (*Service)(nil)

// NewService creates a text extraction service
func NewService(blobs interfaces.BlobStore, cfg *common.ExtractConfig, storageCfg *common.StorageConfig, logger arbor.ILogger) (*Service, error) {
	tempDir := storageCfg.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "nyushi-extract")
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create extraction temp directory: %w", err)
	}

	return &Service{
		blobs:    blobs,
		tempDir:  tempDir,
		maxChars: cfg.MaxChars,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

// Supports reports whether the extension has a text handler
func (s *Service) Supports(ext string) bool {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "pdf", "docx", "xlsx":
		return true
	default:
		return false
	}
}

// ExtractText pulls the text content from a document on disk. The path's
// extension selects the handler.
func (s *Service) ExtractText(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	var text string
	var err error
	switch ext {
	case "pdf":
		text, err = s.extractPDF(ctx, path)
	case "docx":
		text, err = extractDOCX(path)
	case "xlsx":
		text, err = extractXLSX(path)
	case "doc", "xls":
		return "", fmt.Errorf("legacy format .%s is not supported for extraction", ext)
	default:
		return "", fmt.Errorf("no extraction handler for .%s", ext)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if s.maxChars > 0 && len(text) > s.maxChars {
		text = text[:s.maxChars]
	}
	return text, nil
}

// ExtractFromBlob materializes a stored document into the temp directory
// and extracts its text. The temp copy is removed before returning.
// Extraction runs under the configured per-file deadline so a
// pathological document cannot wedge a worker indefinitely.
func (s *Service) ExtractFromBlob(ctx context.Context, blobKey string) (string, error) {
	r, err := s.blobs.Open(ctx, blobKey)
	if err != nil {
		return "", fmt.Errorf("failed to open blob %s: %w", blobKey, err)
	}
	defer r.Close()

	ext := models.DetectExtension(blobKey)
	tmp, err := os.CreateTemp(s.tempDir, "extract-*."+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to materialize blob %s: %w", blobKey, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// The format handlers do not take a context, so the deadline is
	// enforced around them. A timed-out handler goroutine is abandoned;
	// its temp file read fails harmlessly once the file is unlinked.
	type extractResult struct {
		text string
		err  error
	}
	done := make(chan extractResult, 1)
	go func() {
		text, err := s.ExtractText(ctx, tmpName)
		done <- extractResult{text: text, err: err}
	}()

	var text string
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("extraction of %s exceeded deadline: %w", blobKey, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("extraction of %s exceeded deadline: %w", blobKey, err)
		}
		text = res.text
	}

	s.logger.Debug().
		Str("blob_key", blobKey).
		Int("chars", len(text)).
		Msg("Text extracted")

	return text, nil
}
