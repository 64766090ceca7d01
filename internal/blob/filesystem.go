package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFSBaseURL prefixes filesystem URLs when no public base URL is configured.
const DefaultFSBaseURL = "blob://local"

type FilesystemStore struct {
	root   string
	prefix urlPrefix
}

func NewFilesystemStore(root, publicBaseURL string) (*FilesystemStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "./data/blobs"
	}
	cleanRoot := filepath.Clean(root)
	if err := os.MkdirAll(cleanRoot, 0o750); err != nil {
		return nil, err
	}
	if strings.TrimSpace(publicBaseURL) == "" {
		publicBaseURL = DefaultFSBaseURL
	}
	return &FilesystemStore{root: cleanRoot, prefix: newURLPrefix(publicBaseURL)}, nil
}

func (s *FilesystemStore) Put(_ context.Context, key, _ string, body []byte) (Object, error) {
	path, err := s.resolvePath(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return Object{}, err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, body, 0o640); err != nil {
		return Object{}, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return Object{}, err
	}
	return Object{URL: s.prefix.url(s.cleanKey(key)), Size: int64(len(body))}, nil
}

func (s *FilesystemStore) Get(_ context.Context, url string) ([]byte, error) {
	key, err := s.prefix.key(url)
	if err != nil {
		return nil, err
	}
	path, err := s.resolvePath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *FilesystemStore) Delete(_ context.Context, url string) error {
	key, err := s.prefix.key(url)
	if err != nil {
		return err
	}
	path, err := s.resolvePath(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FilesystemStore) cleanKey(key string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+strings.TrimSpace(key))), "/")
}

func (s *FilesystemStore) resolvePath(key string) (string, error) {
	key = s.cleanKey(key)
	if key == "" || key == "." {
		return "", errors.New("invalid blob key")
	}
	path := filepath.Join(s.root, key)
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", errors.New("invalid blob key path")
	}
	return path, nil
}
