package server

import (
	"errors"
	"path/filepath"
	"strings"
)

var allowedDeckExtensions = map[string]struct{}{
	".ppt":  {},
	".pptx": {},
	".pdf":  {},
}

func validateDeckFilename(name string) (string, error) {
	trimmed := strings.TrimSpace(filepath.Base(name))
	if trimmed == "" || trimmed == "." || trimmed == string(filepath.Separator) {
		return "", errors.New("file name is required")
	}
	ext := strings.ToLower(filepath.Ext(trimmed))
	if _, ok := allowedDeckExtensions[ext]; !ok {
		return "", errors.New("unsupported file type; upload a .ppt, .pptx or .pdf deck")
	}
	return trimmed, nil
}
