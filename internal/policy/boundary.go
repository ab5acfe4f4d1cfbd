package policy

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideBoundary indicates a path that escapes the session boundary.
var ErrOutsideBoundary = errors.New("path escapes session boundary")

// Boundary anchors path validation on the directory the session started in.
// A later chdir by the tool does not move the boundary: every candidate
// path is resolved against the anchor, not the process working directory.
type Boundary struct {
	anchor string
}

// NewBoundary creates a boundary anchored at dir. dir is made absolute and
// cleaned once, at session start.
func NewBoundary(dir string) (*Boundary, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve boundary anchor %q: %w", dir, err)
	}
	return &Boundary{anchor: filepath.Clean(abs)}, nil
}

// Anchor returns the absolute session start directory.
func (b *Boundary) Anchor() string {
	return b.anchor
}

// Validate resolves path against the anchor and returns the absolute result
// if it stays inside the boundary. Lexical traversal (".." segments) is
// cleaned before the containment check, so "sub/../../etc" is rejected even
// though each segment looks local.
func (b *Boundary) Validate(path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(b.anchor, resolved)
	}
	resolved = filepath.Clean(resolved)
	if !pathHasPrefix(resolved, b.anchor) {
		return "", fmt.Errorf("%w: %q resolves to %q, outside %q", ErrOutsideBoundary, path, resolved, b.anchor)
	}
	return resolved, nil
}

// Contains reports whether path, resolved against the anchor, stays inside
// the boundary.
func (b *Boundary) Contains(path string) bool {
	_, err := b.Validate(path)
	return err == nil
}

// ValidateAll validates every path and returns the resolved forms, failing
// on the first escape.
func (b *Boundary) ValidateAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		resolved, err := b.Validate(p)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

// SuspiciousTraversal reports whether the raw path textually reaches for a
// parent directory. Used for logging a sharper reason alongside rejection.
func SuspiciousTraversal(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
