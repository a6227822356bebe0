// ABOUTME: Shared helpers for file-based decoders
// ABOUTME: Param is a path string or an object with a file key
package decoder

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ziplantil/exocaster/internal/metadata"
)

type fileParam struct {
	File string `json:"file"`
}

// parseFileParam accepts a plain path string or {"file": path}.
func parseFileParam(param json.RawMessage) (string, error) {
	var path string
	if err := json.Unmarshal(param, &path); err == nil {
		if path == "" {
			return "", fmt.Errorf("empty file path")
		}
		return path, nil
	}
	var p fileParam
	if err := json.Unmarshal(param, &p); err != nil {
		return "", fmt.Errorf("param must be a path or an object: %w", err)
	}
	if p.File == "" {
		return "", fmt.Errorf("param needs a 'file' field")
	}
	return p.File, nil
}

// fallbackMetadata derives a title from the file name for formats
// whose tags we do not parse.
func fallbackMetadata(path string) metadata.Metadata {
	base := filepath.Base(path)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	return metadata.Metadata{{Key: "title", Value: title}}
}
