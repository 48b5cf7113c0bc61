package models

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"募集要項 2026", "募集要項_2026"},
		{`a/b\c:d*e?f"g<h>i|j`, "a_b_c_d_e_f_g_h_i_j"},
		{"__already__clean__", "already_clean"},
		{"a   b", "a_b"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStructuredNameFormat(t *testing.T) {
	name := &StructuredName{
		University: "東京大学",
		Department: "工学部",
		Year:       "2026",
		DocType:    "募集要項",
	}
	got := name.Format("pdf")
	want := "東京大学_工学部_Unknown_Unknown_2026_Unknown_募集要項_Unknown.pdf"
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}

func TestFormatAlwaysEightFields(t *testing.T) {
	name := &StructuredName{}
	got := name.Format("docx")
	base := strings.TrimSuffix(got, ".docx")
	if parts := strings.Split(base, "_"); len(parts) != 8 {
		t.Errorf("Format() produced %d fields, want 8: %q", len(parts), got)
	}
}

func TestForceExtension(t *testing.T) {
	cases := []struct {
		name string
		ext  string
		want string
	}{
		{"report", "pdf", "report.pdf"},
		{"report.pdf", "pdf", "report.pdf"},
		{"report.PDF", "pdf", "report.pdf"},
		{"report.docx", "pdf", "report.pdf"},
		{"report", "", "report"},
		{"report", ".xlsx", "report.xlsx"},
	}
	for _, tc := range cases {
		if got := ForceExtension(tc.name, tc.ext); got != tc.want {
			t.Errorf("ForceExtension(%q, %q) = %q, want %q", tc.name, tc.ext, got, tc.want)
		}
	}
}

func TestHashURLStable(t *testing.T) {
	a := HashURL("https://example.ac.jp/admissions")
	b := HashURL("https://example.ac.jp/admissions")
	if a != b {
		t.Errorf("HashURL not deterministic: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("HashURL length = %d, want 32", len(a))
	}
	if a == HashURL("https://example.ac.jp/other") {
		t.Error("different URLs produced the same hash")
	}
}

func TestIsSupportedExtension(t *testing.T) {
	for _, ext := range []string{"pdf", "PDF", ".docx", "xls"} {
		if !IsSupportedExtension(ext) {
			t.Errorf("IsSupportedExtension(%q) = false, want true", ext)
		}
	}
	for _, ext := range []string{"html", "zip", ""} {
		if IsSupportedExtension(ext) {
			t.Errorf("IsSupportedExtension(%q) = true, want false", ext)
		}
	}
}
