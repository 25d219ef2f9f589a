package validation

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/username/slips/src/logger"
)

// AllowedClientContentTypes lists the client-declared MIME types accepted for SLIP uploads.
var AllowedClientContentTypes = map[string]bool{
	"text/plain":               true,
	"application/octet-stream": true,
	"text/csv":                 false, // SLIP files are fixed-width, not delimited
	"application/vnd.ms-excel": false,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": false,
}

// ValidateClientContentType checks the Content-Type header provided by the client.
func ValidateClientContentType(contentType string) error {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if allowed, exists := AllowedClientContentTypes[ct]; !exists || !allowed {
		logger.L.Warn("Disallowed client-declared Content-Type", "contentType", contentType)
		return fmt.Errorf("client-declared file type '%s' is not allowed for SLIP upload", contentType)
	}
	return nil
}

// ValidateFileContentByMagicBytes sniffs the first bytes of an upload, requires plain
// text, and rewinds the reader for the parser. It returns the detected content type.
func ValidateFileContentByMagicBytes(file io.ReadSeeker) (string, error) {
	if file == nil {
		return "", fmt.Errorf("file is nil")
	}

	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read file for content type checking: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to reset file read pointer: %w", err)
	}

	detected := http.DetectContentType(buffer[:n])
	detected = strings.ToLower(strings.Split(detected, ";")[0])
	if detected != "text/plain" {
		logger.L.Warn("Disallowed detected file content type (magic bytes)", "detectedContentType", detected)
		return detected, fmt.Errorf("detected file content type '%s' is not consistent with a SLIP file", detected)
	}
	if bytes.IndexByte(buffer[:n], 0) >= 0 {
		return detected, fmt.Errorf("file contains NUL bytes")
	}

	logger.L.Debug("File content type (magic bytes) validated", "detectedContentType", detected)
	return detected, nil
}
