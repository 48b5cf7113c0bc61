package download

import "testing"

func TestPickFilenamePrecedence(t *testing.T) {
	cases := []struct {
		name        string
		url         string
		override    string
		disposition string
		contentType string
		want        string
	}{
		{
			"override wins",
			"https://example.ac.jp/docs/original.pdf",
			"forced-name", "attachment; filename=server.pdf", "application/pdf",
			"forced-name.pdf",
		},
		{
			"content disposition",
			"https://example.ac.jp/download?id=7",
			"", `attachment; filename="guide2026.pdf"`, "application/pdf",
			"guide2026.pdf",
		},
		{
			"url basename",
			"https://example.ac.jp/docs/youkou.pdf",
			"", "", "",
			"youkou.pdf",
		},
		{
			"extension forced from content type",
			"https://example.ac.jp/download?id=9",
			"", `attachment; filename="data"`, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"data.xlsx",
		},
		{
			"pdf fallback extension",
			"https://example.ac.jp/serve?doc=3",
			"", `attachment; filename="mystery"`, "text/plain",
			"mystery.pdf",
		},
	}
	for _, tc := range cases {
		got := pickFilename(tc.url, tc.override, tc.disposition, tc.contentType)
		if got != tc.want {
			t.Errorf("%s: pickFilename = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestPickFilenameHashFallback(t *testing.T) {
	// No override, disposition, or path basename: fall back to a URL hash
	got := pickFilename("https://example.ac.jp/", "", "", "application/pdf")
	if len(got) != 16+len(".pdf") {
		t.Errorf("hash fallback = %q, want 16 hex chars plus extension", got)
	}

	again := pickFilename("https://example.ac.jp/", "", "", "application/pdf")
	if got != again {
		t.Errorf("hash fallback not deterministic: %q vs %q", got, again)
	}
}

func TestFilenameFromURLDecodes(t *testing.T) {
	got := filenameFromURL("https://example.ac.jp/docs/%E5%8B%9F%E9%9B%86.pdf")
	if got != "募集.pdf" {
		t.Errorf("filenameFromURL = %q", got)
	}
}

func TestExtensionFromContentType(t *testing.T) {
	cases := []struct {
		ct   string
		want string
	}{
		{"application/pdf", "pdf"},
		{"application/pdf; charset=binary", "pdf"},
		{"APPLICATION/MSWORD", "doc"},
		{"text/html", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := extensionFromContentType(tc.ct); got != tc.want {
			t.Errorf("extensionFromContentType(%q) = %q, want %q", tc.ct, got, tc.want)
		}
	}
}
