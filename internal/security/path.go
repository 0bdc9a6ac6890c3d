package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePath canonicalizes path and verifies the result stays inside root.
// Relative paths are resolved against root, "~" expands to the user's home
// directory, and symlinks are resolved before the boundary check so a link
// pointing outside the root is rejected even when the link itself lives
// inside it.
//
// The returned path is fully resolved; callers must perform I/O against it
// directly rather than re-resolving, so the checked target and the used
// target are the same.
func ValidatePath(path, root string) (string, error) {
	canonRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("%w: project root %s", ErrNotFound, root)
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(canonRoot, path)
	}
	path = filepath.Clean(path)

	resolved, err := resolveSymlinks(path)
	if err != nil {
		return "", err
	}

	if !isWithin(resolved, canonRoot) {
		return "", fmt.Errorf("%w: %s", ErrEscapesBoundary, resolved)
	}
	return resolved, nil
}

// resolveSymlinks canonicalizes path even when its tail components do not
// exist yet: the longest existing ancestor is resolved and the remaining
// components are appended verbatim. The input is already Clean, so the
// appended tail cannot contain "..".
func resolveSymlinks(path string) (string, error) {
	remaining := ""
	p := path
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(resolved, remaining), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving %s: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return path, nil
		}
		remaining = filepath.Join(filepath.Base(p), remaining)
		p = parent
	}
}

// isWithin reports whether path equals dir or is a descendant of it. Both
// arguments must already be canonical.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
