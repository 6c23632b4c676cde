package artifact

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalProvider keeps buckets as directories under RootPath.
type LocalProvider struct {
	RootPath string
}

func NewLocalProvider(root string) *LocalProvider {
	return &LocalProvider{RootPath: root}
}

func (l *LocalProvider) Put(_ context.Context, bucket, key string, body io.ReadSeeker, _ string) error {
	p := filepath.Join(l.RootPath, bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (l *LocalProvider) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(l.RootPath, bucket, filepath.FromSlash(key)))
}

func (l *LocalProvider) List(_ context.Context, bucket, prefix string) ([]string, error) {
	bucketPath := filepath.Join(l.RootPath, bucket)
	var keys []string
	err := filepath.WalkDir(bucketPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(bucketPath, p)
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	sort.Strings(keys)
	return keys, err
}
