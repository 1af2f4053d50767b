package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var formatTypes = map[string]string{
	"html": "text/html",
	"pdf":  "application/pdf",
}

// RequireFile fails unless path is a regular, non-empty file.
func RequireFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("artifact %s is not a regular file", path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("artifact %s is empty", path)
	}
	return info, nil
}

// RequireReport checks a report file and that its content matches format.
func RequireReport(path, format string) error {
	if _, err := RequireFile(path); err != nil {
		return err
	}
	want, ok := formatTypes[format]
	if !ok {
		return fmt.Errorf("unknown report format %q", format)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detecting type of %s: %w", path, err)
	}
	if !mt.Is(want) {
		return fmt.Errorf("report %s is %s, want %s", path, mt.String(), want)
	}
	return nil
}

// FormatOf guesses the report format of path from its extension.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "pdf"
	case ".html", ".htm":
		return "html"
	}
	return ""
}

// ContentType sniffs path, falling back to a generic binary type.
func ContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
