package download

import (
	"crypto/md5"
	"encoding/hex"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/ternarybob/nyushi/internal/models"
)

// contentTypeExtensions maps response content types to forced extensions
var contentTypeExtensions = map[string]string{
	"application/pdf":    "pdf",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"application/vnd.ms-excel": "xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": "xlsx",
}

// pickFilename chooses the stored filename for a download. Precedence:
// configured override, Content-Disposition, URL basename, md5 of the URL.
// The extension is always forced from the URL, then the content type,
// then pdf as the last resort.
func pickFilename(sourceURL, override, contentDisposition, contentType string) string {
	var base string

	switch {
	case override != "":
		base = override
	case contentDisposition != "":
		if name := filenameFromDisposition(contentDisposition); name != "" {
			base = name
		}
	}
	if base == "" {
		base = filenameFromURL(sourceURL)
	}
	if base == "" {
		sum := md5.Sum([]byte(sourceURL))
		base = hex.EncodeToString(sum[:])[:16]
	}

	ext := models.DetectExtension(sourceURL)
	if !models.IsSupportedExtension(ext) {
		ext = extensionFromContentType(contentType)
	}
	if ext == "" {
		ext = "pdf"
	}

	return models.ForceExtension(models.SanitizeFilename(base), ext)
}

// filenameFromDisposition parses a Content-Disposition header
func filenameFromDisposition(header string) string {
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// filenameFromURL returns the URL path basename without query noise
func filenameFromURL(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	return base
}

// extensionFromContentType maps a Content-Type header to an extension
func extensionFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	return contentTypeExtensions[strings.TrimSpace(strings.ToLower(mediaType))]
}
