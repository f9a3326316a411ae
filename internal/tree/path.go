package tree

import (
	"errors"
	"strings"
)

// Join joins path segments with "/". Empty segments are skipped.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split breaks a path into its segments, rejecting empty paths and empty
// segments ("a//b").
func Split(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, errors.New("tree: empty path")
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return nil, errors.New("tree: empty path segment")
		}
	}
	return segs, nil
}

// related reports whether two paths address overlapping subtrees, i.e. one
// is a prefix of the other segment-wise. A watcher on "a/b" must fire for
// commits on "a", "a/b" and "a/b/c".
func related(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
