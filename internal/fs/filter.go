package fs

import (
	"fmt"
	"io/fs"
	"path"
	"slices"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru"
)

// patterns caches compiled globs; the same patterns are compiled for every
// source on every rebuild.
var patterns = mustCache(256)

func mustCache(size int) *lru.Cache {
	c, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return c
}

// CompilePattern compiles a file pattern the way FilterFS matches it, with '/'
// as separator. Compiled patterns are cached.
func CompilePattern(pattern string) (glob.Glob, error) {
	if g, ok := patterns.Get(pattern); ok {
		return g.(glob.Glob), nil
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("failed to compile file pattern %q: %w", pattern, err)
	}
	patterns.Add(pattern, g)
	return g, nil
}

// FilterFS hides the files of an fs.FS that match none of the included
// patterns or any of the excluded ones. An empty include list includes
// everything. Directories are always visible. Patterns use '/' as separator,
// so "*" matches within one directory and "**" across directories.
type FilterFS struct {
	fsys     fs.FS
	included []glob.Glob
	excluded []glob.Glob
}

var (
	_ fs.ReadDirFS  = (*FilterFS)(nil)
	_ fs.ReadFileFS = (*FilterFS)(nil)
	_ fs.StatFS     = (*FilterFS)(nil)
)

func NewFilterFS(fsys fs.FS, included, excluded []string) (*FilterFS, error) {
	f := &FilterFS{fsys: fsys}
	for _, p := range included {
		g, err := CompilePattern(p)
		if err != nil {
			return nil, err
		}
		f.included = append(f.included, g)
	}
	for _, p := range excluded {
		g, err := CompilePattern(p)
		if err != nil {
			return nil, err
		}
		f.excluded = append(f.excluded, g)
	}
	return f, nil
}

// Match reports whether the file name passes the filter.
func (f *FilterFS) Match(name string) bool {
	match := func(g glob.Glob) bool { return g.Match(name) }
	if len(f.included) > 0 && !slices.ContainsFunc(f.included, match) {
		return false
	}
	return !slices.ContainsFunc(f.excluded, match)
}

func (f *FilterFS) Open(name string) (fs.File, error) {
	file, err := f.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		if dir, ok := file.(fs.ReadDirFile); ok {
			return &filterDir{ReadDirFile: dir, filter: f, path: name}, nil
		}
		return file, nil
	}
	if !f.Match(name) {
		file.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return file, nil
}

func (f *FilterFS) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(f.fsys, name)
	if err != nil {
		return nil, err
	}
	return f.filter(name, entries), nil
}

func (f *FilterFS) ReadFile(name string) ([]byte, error) {
	if !f.Match(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return fs.ReadFile(f.fsys, name)
}

func (f *FilterFS) Stat(name string) (fs.FileInfo, error) {
	info, err := fs.Stat(f.fsys, name)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() && !f.Match(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return info, nil
}

func (f *FilterFS) filter(dir string, entries []fs.DirEntry) []fs.DirEntry {
	return slices.DeleteFunc(entries, func(e fs.DirEntry) bool {
		return !e.IsDir() && !f.Match(path.Join(dir, e.Name()))
	})
}

type filterDir struct {
	fs.ReadDirFile
	filter *FilterFS
	path   string
}

func (d *filterDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if n <= 0 {
		entries, err := d.ReadDirFile.ReadDir(n)
		return d.filter.filter(d.path, entries), err
	}
	// Keep reading until n visible entries are found or the directory ends.
	var result []fs.DirEntry
	for len(result) < n {
		entries, err := d.ReadDirFile.ReadDir(n - len(result))
		result = append(result, d.filter.filter(d.path, entries)...)
		if err != nil {
			if len(result) > 0 {
				return result, nil
			}
			return nil, err
		}
	}
	return result, nil
}
