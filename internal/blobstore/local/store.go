// Package local keeps blobs on the local filesystem and serves them through
// the gateway's /blobs route.
package local

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ageniuscoder/mmchat/messaging/internal/blobstore"
)

type Store struct {
	dir     string
	baseURL string
}

func New(dir, baseURL string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("local blobstore: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local blobstore: create %q: %w", dir, err)
	}
	return &Store{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the root directory; the gateway serves it statically.
func (s *Store) Dir() string { return s.dir }

func (s *Store) PutBytes(_ context.Context, path string, data []byte, _ string) error {
	p, err := blobstore.CleanPath(path)
	if err != nil {
		return err
	}
	full := filepath.Join(s.dir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("local blobstore: PutBytes %q: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("local blobstore: PutBytes %q: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("local blobstore: PutBytes %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("local blobstore: PutBytes %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("local blobstore: PutBytes %q: %w", path, err)
	}
	return nil
}

func (s *Store) DownloadURL(_ context.Context, path string) (string, error) {
	p, err := blobstore.CleanPath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(s.dir, filepath.FromSlash(p))); err != nil {
		return "", fmt.Errorf("local blobstore: DownloadURL %q: %w", path, err)
	}
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segs, "/"), nil
}
