package safety

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a caller supplied directory would resolve
// outside the archive root.
var ErrOutsideRoot = errors.New("path outside archive root")

// ResolveUnder maps a caller supplied directory onto root. An empty dir is
// root itself, a relative dir is joined under root, and an absolute dir is
// accepted only when it already lies inside root.
func ResolveUnder(root, dir string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("archive root is not configured")
	}
	if dir == "" {
		return filepath.Abs(root)
	}
	if !filepath.IsAbs(dir) {
		rel, err := CleanRelativePath(dir)
		if err != nil {
			return "", err
		}
		dir = filepath.Join(root, rel)
	}
	return EnsureUnderRoot(root, dir)
}

// CleanRelativePath normalizes p and refuses absolute paths and any
// leading parent segment.
func CleanRelativePath(p string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(p))
	switch {
	case p == "" || clean == ".":
		return "", fmt.Errorf("%w: empty relative path %q", ErrOutsideRoot, p)
	case filepath.IsAbs(clean):
		return "", fmt.Errorf("%w: %q is absolute", ErrOutsideRoot, p)
	case escapes(clean):
		return "", fmt.Errorf("%w: %q climbs above the root", ErrOutsideRoot, p)
	}
	return clean, nil
}

// EnsureUnderRoot returns candidate as an absolute path when it lies inside
// root (root itself included).
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", candidate, err)
	}
	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil || escapes(rel) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, candidate)
	}
	return candAbs, nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
