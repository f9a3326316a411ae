package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FSStore is a filesystem-backed Store. Keys map to files under the root
// directory; download URLs are baseURL + "/" + key.
//
// Keys are restricted to a flat, conservative character set so a key can
// never escape the root directory.
type FSStore struct {
	root    string
	baseURL string
}

// NewFSStore constructs a filesystem store rooted at dir. baseURL is the
// public prefix blobs are served under (e.g. "http://host/blobs").
func NewFSStore(dir, baseURL string) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New("blob: empty root dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &FSStore{root: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func validKey(key string) bool {
	if key == "" || len(key) > 255 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	// ".." is representable with the allowed charset; refuse it outright.
	return !strings.Contains(key, "..")
}

func (s *FSStore) path(key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.root, key), nil
}

func (s *FSStore) urlFor(key string) string {
	return s.baseURL + "/" + url.PathEscape(key)
}

// Put writes the blob to a temp file and renames it into place, so a
// concurrent reader never observes a partial blob.
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return s.urlFor(key), nil
}

// DownloadURL returns the public URL if the blob exists.
func (s *FSStore) DownloadURL(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return s.urlFor(key), nil
}

// Open returns the blob contents.
func (s *FSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Handler serves blobs over HTTP under the given route prefix
// (e.g. "/blobs/").
func Handler(s Store, prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, prefix)
		if key == "" {
			http.NotFound(w, r)
			return
		}
		rc, err := s.Open(r.Context(), key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer func() { _ = rc.Close() }()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, rc)
	})
}
