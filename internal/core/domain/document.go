package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Format is the closed set of document kinds the service can read.
type Format string

const (
	FormatPDF         Format = "pdf"
	FormatDocx        Format = "docx"
	FormatDoc         Format = "doc"
	FormatSpreadsheet Format = "spreadsheet"
	FormatText        Format = "text"
)

// DefaultContextMaxChars is the document context budget in characters.
const DefaultContextMaxChars = 4000

var formatByExtension = map[string]Format{
	"txt":  FormatText,
	"pdf":  FormatPDF,
	"docx": FormatDocx,
	"doc":  FormatDoc,
	"xlsx": FormatSpreadsheet,
	"xlsm": FormatSpreadsheet,
}

// AllowedExtensions lists accepted upload extensions without the dot.
func AllowedExtensions() []string {
	return []string{"txt", "pdf", "docx", "doc", "xlsm", "xlsx"}
}

// ParseFormat maps a filename extension (with or without the leading dot,
// any case) to its Format.
func ParseFormat(ext string) (Format, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	format, ok := formatByExtension[key]
	if !ok {
		return "", WrapError(ErrInvalidInput, "parse format", fmt.Errorf("unsupported extension %q", ext))
	}
	return format, nil
}

// FormatFromFilename resolves the Format of a filename by its last suffix.
// A bare ".txt" counts as a txt file.
func FormatFromFilename(name string) (Format, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		return "", WrapError(ErrInvalidInput, "parse format", fmt.Errorf("filename %q has no extension", name))
	}
	return ParseFormat(ext)
}

type UploadStatus string

const (
	UploadStatusReady  UploadStatus = "ready"
	UploadStatusFailed UploadStatus = "failed"
	UploadStatusPurged UploadStatus = "purged"
)

type UploadedFile struct {
	ID                string       `json:"id"`
	SessionID         string       `json:"session_id"`
	OriginalFilename  string       `json:"original_filename"`
	SanitizedFilename string       `json:"sanitized_filename"`
	StorageKey        string       `json:"storage_key"`
	StoragePath       string       `json:"storage_path"`
	Format            Format       `json:"format"`
	SizeBytes         int64        `json:"size_bytes"`
	ExtractedChars    int          `json:"extracted_chars"`
	Status            UploadStatus `json:"status"`
	Error             string       `json:"error,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// TruncateContext keeps the first maxChars characters of text.
func TruncateContext(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultContextMaxChars
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	count := 0
	for idx := range text {
		if count == maxChars {
			return text[:idx]
		}
		count++
	}
	return text
}
