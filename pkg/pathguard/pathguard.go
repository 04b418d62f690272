// Package pathguard maps client supplied file references onto the shared audio directory.
package pathguard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("invalid path")

// Guard resolves relative references against a fixed root. It holds no mutable
// state and never touches the filesystem, so it is safe for concurrent use.
type Guard struct {
	root string
}

// New requires an absolute root; it is cleaned once here.
func New(root string) (*Guard, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("pathguard root must be absolute: %s", root)
	}
	return &Guard{root: filepath.Clean(root)}, nil
}

func (g *Guard) Root() string {
	return g.root
}

// Resolve returns the absolute path of ref inside the root.
func (g *Guard) Resolve(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("%w: file path cannot be empty", ErrInvalidPath)
	}

	normalized := strings.ReplaceAll(ref, `\`, "/")
	if strings.HasPrefix(normalized, "/") || filepath.VolumeName(ref) != "" {
		return "", fmt.Errorf("%w: absolute paths are not allowed", ErrInvalidPath)
	}
	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: path traversal ('..') is forbidden", ErrInvalidPath)
		}
	}

	prefix := g.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	full := filepath.Join(g.root, filepath.FromSlash(normalized))
	if !strings.HasPrefix(full, prefix) {
		return "", fmt.Errorf("%w: path resolves outside designated shared audio directory", ErrInvalidPath)
	}
	return full, nil
}
