package media

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectMIME sniffs the content type of data, ignoring parameters such as charset.
func DetectMIME(data []byte) string {
	m := mimetype.Detect(data).String()
	if i := strings.Index(m, ";"); i >= 0 {
		m = m[:i]
	}
	return m
}

// ResolveMIME prefers the declared type and falls back to sniffing.
func ResolveMIME(declared string, data []byte) string {
	if declared != "" {
		if base, _, err := mime.ParseMediaType(declared); err == nil {
			return base
		}
	}
	return DetectMIME(data)
}

// EnsureExtension appends an extension derived from mimeType when name has none.
func EnsureExtension(name, mimeType string) string {
	if filepath.Ext(name) != "" {
		return name
	}
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return name + m.Extension()
	}
	return name
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
