package ui

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// MaxAttachmentBytes is the client-side size ceiling for image attachments.
const MaxAttachmentBytes = 5 << 20

// DetectMIME resolves an attachment's media type from its extension, falling
// back to content sniffing for unknown extensions.
func DetectMIME(filename string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return http.DetectContentType(data)
}

// ValidateAttachment enforces the composer's constraints before any upload is
// attempted: images only, at most MaxAttachmentBytes.
func ValidateAttachment(mimeType string, size int64) error {
	if !strings.HasPrefix(mimeType, "image/") {
		return fmt.Errorf("only image attachments are supported, got %s", mimeType)
	}
	if size > MaxAttachmentBytes {
		return fmt.Errorf("image is too large: %d bytes (limit %d)", size, MaxAttachmentBytes)
	}
	return nil
}
