package storage

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// FileSystem stores objects as files below a directory.
type FileSystem struct {
	dir string
}

func NewFileSystem(dir string) *FileSystem {
	return &FileSystem{dir: dir}
}

// Put replaces the file atomically: readers see either the previous or the new
// content, never a partial write.
func (f *FileSystem) Put(_ context.Context, name string, data []byte) error {
	p := f.Path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Get returns the stored object, or nil if it does not exist.
func (f *FileSystem) Get(_ context.Context, name string) ([]byte, error) {
	bs, err := os.ReadFile(f.Path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return bs, err
}

func (f *FileSystem) Path(name string) string {
	return filepath.Join(f.dir, filepath.FromSlash(name))
}

func sortedNames(files map[string][]byte) []string {
	return slices.Sorted(maps.Keys(files))
}
