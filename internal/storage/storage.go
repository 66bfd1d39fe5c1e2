// Package storage keeps batch input and output files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a reference does not resolve to a stored object
var ErrNotFound = errors.New("storage: object not found")

// Store saves and loads artifacts by key
type Store interface {
	// Put stores body under key and returns a reference for Open and URL
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// URL returns a link a user can download the object from
	URL(ctx context.Context, ref string) (string, error)
}

// LocalStore keeps artifacts in a directory
type LocalStore struct {
	Dir     string
	BaseURL string // prefix for download links, e.g. https://kotoba.example/media
}

// NewLocalStore creates the directory if needed
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{Dir: dir, BaseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *LocalStore) path(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if clean == "/" {
		return "", fmt.Errorf("invalid reference %q", ref)
	}
	return filepath.Join(s.Dir, filepath.FromSlash(clean)), nil
}

// Put writes body to Dir/key
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	return strings.TrimPrefix(path.Clean("/"+key), "/"), nil
}

// Open opens a stored file
func (s *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return f, err
}

// URL joins BaseURL and ref. Without a BaseURL files are not served and
// there is no link, so it returns "".
func (s *LocalStore) URL(ctx context.Context, ref string) (string, error) {
	if s.BaseURL == "" {
		return "", nil
	}
	u, err := url.JoinPath(s.BaseURL, strings.Split(ref, "/")...)
	if err != nil {
		return "", err
	}
	return u, nil
}
