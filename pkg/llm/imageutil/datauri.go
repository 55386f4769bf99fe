package imageutil

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Images arrive as data URLs, remote URLs, local file paths, or bare base64.
// Short opaque strings that resolve to nothing are rejected rather than
// guessed at.
const minBareBase64Len = 100

// ToDataURL canonicalises a user-supplied image reference:
//   - data: URLs and http(s) URLs pass through unchanged
//   - an existing file path is loaded, preprocessed, and encoded
//   - a long bare base64 string is wrapped as a JPEG data URL
func ToDataURL(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty image reference")
	}

	if strings.HasPrefix(ref, "data:") ||
		strings.HasPrefix(ref, "http://") ||
		strings.HasPrefix(ref, "https://") {
		return ref, nil
	}

	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		data, mimeType, err := PrepareFile(ref)
		if err != nil {
			// Fall back to raw bytes for formats the preprocessor can't decode
			raw, readErr := os.ReadFile(ref)
			if readErr != nil {
				return "", fmt.Errorf("failed to read image %s: %w", ref, readErr)
			}
			data, mimeType = raw, mimeByExt(ref)
		}
		return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)), nil
	}

	if len(ref) > minBareBase64Len {
		if _, err := base64.StdEncoding.DecodeString(ref); err == nil {
			return "data:image/jpeg;base64," + ref, nil
		}
	}

	return "", fmt.Errorf("unrecognised image reference (not a URL, file, or base64 payload)")
}

func mimeByExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// SplitDataURL separates a data URL into its MIME type and raw bytes.
// Used by providers that need inline bytes instead of a URL.
func SplitDataURL(dataURL string) (mimeType string, data []byte, err error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return "", nil, fmt.Errorf("not a data URL")
	}
	rest := strings.TrimPrefix(dataURL, "data:")
	sep := strings.Index(rest, ";base64,")
	if sep == -1 {
		return "", nil, fmt.Errorf("data URL missing base64 payload")
	}
	mimeType = rest[:sep]
	data, err = base64.StdEncoding.DecodeString(rest[sep+len(";base64,"):])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 in data URL: %w", err)
	}
	return mimeType, data, nil
}
