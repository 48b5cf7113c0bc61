package extract

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/storage/blob"
)

// writeZip builds a zip file from member name to XML content
func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExtractDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.docx")
	writeZip(t, path, map[string]string{
		"word/document.xml": `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>募集要項</w:t></w:r><w:r><w:t> 2026年度</w:t></w:r></w:p>
    <w:p><w:r><w:t>出願期間</w:t></w:r></w:p>
  </w:body>
</w:document>`,
	})

	text, err := extractDOCX(path)
	if err != nil {
		t.Fatalf("extractDOCX failed: %v", err)
	}
	if !strings.Contains(text, "募集要項 2026年度") {
		t.Errorf("runs within a paragraph should join: %q", text)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 2 {
		t.Errorf("got %d paragraphs, want 2: %q", len(lines), text)
	}
}

func TestExtractXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheet.xlsx")
	writeZip(t, path, map[string]string{
		"xl/sharedStrings.xml": `<?xml version="1.0"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <si><t>学部</t></si>
  <si><r><t>工</t></r><r><t>学部</t></r></si>
</sst>`,
		"xl/worksheets/sheet1.xml": `<?xml version="1.0"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row><c t="s"><v>0</v></c><c><v>120</v></c></row>
    <row><c t="s"><v>1</v></c></row>
  </sheetData>
</worksheet>`,
	})

	text, err := extractXLSX(path)
	if err != nil {
		t.Fatalf("extractXLSX failed: %v", err)
	}
	if !strings.Contains(text, "学部\t120") {
		t.Errorf("row cells should be tab separated: %q", text)
	}
	if !strings.Contains(text, "工学部") {
		t.Errorf("rich-text shared string should join its runs: %q", text)
	}
}

func TestExtractXLSXWithoutSharedStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.xlsx")
	writeZip(t, path, map[string]string{
		"xl/worksheets/sheet1.xml": `<?xml version="1.0"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row><c><v>42</v></c></row>
  </sheetData>
</worksheet>`,
	})

	text, err := extractXLSX(path)
	if err != nil {
		t.Fatalf("extractXLSX failed: %v", err)
	}
	if !strings.Contains(text, "42") {
		t.Errorf("numeric cells should survive: %q", text)
	}
}

func newTestService(t *testing.T, maxChars int) *Service {
	t.Helper()
	logger := arbor.NewLogger()
	blobs, err := blob.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := NewService(blobs, &common.ExtractConfig{MaxChars: maxChars},
		&common.StorageConfig{TempDir: t.TempDir()}, logger)
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestSupports(t *testing.T) {
	svc := newTestService(t, 0)
	for _, ext := range []string{"pdf", "docx", "xlsx", ".PDF"} {
		if !svc.Supports(ext) {
			t.Errorf("Supports(%q) = false", ext)
		}
	}
	for _, ext := range []string{"doc", "xls", "html", ""} {
		if svc.Supports(ext) {
			t.Errorf("Supports(%q) = true", ext)
		}
	}
}

func TestExtractTextLegacyFormats(t *testing.T) {
	svc := newTestService(t, 0)
	for _, name := range []string{"old.doc", "old.xls"} {
		if _, err := svc.ExtractText(context.Background(), name); err == nil {
			t.Errorf("legacy %s should fail with a clear error", name)
		}
	}
}

func TestExtractFromBlobHonorsDeadline(t *testing.T) {
	logger := arbor.NewLogger()
	blobs, err := blob.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := NewService(blobs, &common.ExtractConfig{Timeout: time.Nanosecond},
		&common.StorageConfig{TempDir: t.TempDir()}, logger)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "doc.docx")
	writeZip(t, path, map[string]string{
		"word/document.xml": `<w:document xmlns:w="x"><w:body><w:p><w:r><w:t>募集要項</w:t></w:r></w:p></w:body></w:document>`,
	})
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := blobs.Write(context.Background(), "task_t1/raw/doc.docx", f); err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, err = svc.ExtractFromBlob(context.Background(), "task_t1/raw/doc.docx")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestExtractTextTruncates(t *testing.T) {
	svc := newTestService(t, 10)

	path := filepath.Join(t.TempDir(), "long.docx")
	writeZip(t, path, map[string]string{
		"word/document.xml": `<w:document xmlns:w="x"><w:body><w:p><w:r><w:t>` +
			strings.Repeat("a", 100) + `</w:t></w:r></w:p></w:body></w:document>`,
	})

	text, err := svc.ExtractText(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if len(text) != 10 {
		t.Errorf("truncated length = %d, want 10", len(text))
	}
}
