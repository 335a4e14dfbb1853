package internal

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalStore serves detections out of a plain directory with the same
// layout the bucket uses. Used for development boxes that rsync output
// from the capture rig instead of going through GCS, and by tests.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Dir returns the backing directory, so the HTTP layer can serve images
// from it directly.
func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Ready(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("local store dir %s: %w", s.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local store path %s is not a directory", s.dir)
	}
	return nil
}

func (s *LocalStore) List(ctx context.Context, prefix string, max int) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if max > 0 && len(keys) > max {
		keys = keys[:max]
	}
	return keys, nil
}

func (s *LocalStore) Read(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(key)))
}

// SignURL returns a path the local /local/ static route serves. There is
// nothing to sign and nothing expires.
func (s *LocalStore) SignURL(key string, _ time.Duration) (string, error) {
	if _, err := os.Stat(filepath.Join(s.dir, filepath.FromSlash(key))); err != nil {
		return "", fmt.Errorf("local object %s: %w", key, err)
	}
	return "/local/" + key, nil
}
