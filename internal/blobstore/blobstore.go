// Package blobstore is the binary object storage used for message
// attachments.
package blobstore

import (
	"context"
	"errors"
	"strings"
)

type Store interface {
	// PutBytes stores data under path, replacing any existing object.
	PutBytes(ctx context.Context, path string, data []byte, contentType string) error
	// DownloadURL returns a URL a browser can fetch the object from.
	DownloadURL(ctx context.Context, path string) (string, error)
}

var ErrInvalidPath = errors.New("blobstore: invalid object path")

// CleanPath rejects absolute paths, empty segments and parent references.
func CleanPath(path string) (string, error) {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return path, nil
}
