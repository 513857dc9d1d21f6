// Package security contains filesystem guards for operator-supplied paths.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrInvalidPath   = errors.New("invalid file path")
)

// ValidateFilePath reports whether path stays inside baseDir once
// cleaned. With an empty baseDir only empty and upward-escaping
// relative paths are rejected.
func ValidateFilePath(path, baseDir string) error {
	if strings.TrimSpace(path) == "" {
		return ErrInvalidPath
	}
	clean := filepath.Clean(path)

	if baseDir == "" {
		if escapesUpward(clean) {
			return ErrPathTraversal
		}
		return nil
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	absPath, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	// Rel-based containment avoids the prefix pitfall where /base
	// matches /base-other.
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || escapesUpward(rel) {
		return ErrPathTraversal
	}
	return nil
}

func escapesUpward(p string) bool {
	return p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator))
}
