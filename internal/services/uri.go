package services

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DocumentURI identifies a document by format and file system path.
type DocumentURI struct {
	Format string `json:"format"`
	Path   string `json:"path"`
}

var formatAliases = map[string]string{
	"htm":  "html",
	"jpeg": "jpg",
	"tif":  "tiff",
}

// URIFromFilename derives the format from the file extension.
func URIFromFilename(path string) DocumentURI {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if alias, ok := formatAliases[ext]; ok {
		ext = alias
	}
	return DocumentURI{Format: ext, Path: path}
}

// ParseURI parses the "format:path" form produced by String.
func ParseURI(raw string) (DocumentURI, error) {
	format, path, ok := strings.Cut(raw, ":")
	if !ok || format == "" || path == "" {
		return DocumentURI{}, fmt.Errorf("invalid document uri %q", raw)
	}
	return DocumentURI{Format: strings.ToLower(format), Path: path}, nil
}

func (u DocumentURI) String() string {
	return u.Format + ":" + u.Path
}

func (u DocumentURI) IsZero() bool { return u.Path == "" }

// ChangeDocumentError asks the loader to open NewURI in place of OldURI.
type ChangeDocumentError struct {
	OldURI DocumentURI
	NewURI DocumentURI
	Reason string
}

func (e *ChangeDocumentError) Error() string {
	return fmt.Sprintf("document %s changed to %s: %s", e.OldURI, e.NewURI, e.Reason)
}
