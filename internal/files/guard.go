package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrAccessDenied is returned for paths outside every allowed root.
var ErrAccessDenied = errors.New("access denied: path outside allowed directories")

// Guard confines path-taking operations to a set of root directories.
type Guard struct {
	roots []string
}

// NewGuard creates a Guard for roots. Without roots the user's home
// directory is allowed.
func NewGuard(roots []string) *Guard {
	if len(roots) == 0 {
		if home, err := os.UserHomeDir(); err == nil {
			roots = []string{home}
		}
	}
	g := &Guard{}
	for _, root := range roots {
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		g.roots = append(g.roots, abs)
	}
	return g
}

// Check resolves path and verifies it lies within an allowed root. It
// returns the cleaned absolute path.
func (g *Guard) Check(path string) (string, error) {
	if path == "" || strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: invalid path", ErrAccessDenied)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	for _, root := range g.roots {
		if abs == root || strings.HasPrefix(abs, withSeparator(root)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrAccessDenied, path)
}

// withSeparator appends a trailing separator unless root already ends
// in one, as the filesystem root does.
func withSeparator(root string) string {
	if strings.HasSuffix(root, string(filepath.Separator)) {
		return root
	}
	return root + string(filepath.Separator)
}

// Roots returns the allowed roots.
func (g *Guard) Roots() []string {
	return append([]string(nil), g.roots...)
}
