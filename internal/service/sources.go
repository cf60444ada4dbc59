package service

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/apim-gateway/gwbundle/internal/config"
	"github.com/apim-gateway/gwbundle/internal/gitsync"
	"github.com/apim-gateway/gwbundle/internal/loader"
	"github.com/apim-gateway/gwbundle/internal/logging"
)

// Sources synchronizes the git sources of a project into working copies
// below a directory and merges all sources into one file system.
type Sources struct {
	cfg   *config.Root
	dir   string
	syncs map[string]*gitsync.Synchronizer
	log   *logging.Logger
}

func NewSources(cfg *config.Root, dir string, log *logging.Logger) *Sources {
	s := &Sources{cfg: cfg, dir: dir, syncs: map[string]*gitsync.Synchronizer{}, log: log}
	for _, src := range cfg.SortedSources() {
		if src.Git == nil {
			continue
		}
		s.syncs[src.Name] = gitsync.New(filepath.Join(dir, src.Name), *src.Git, src.Name).WithLogger(log)
	}
	return s
}

// Sync updates every working copy. It returns the version variables of the
// checked out commits: "git.<source>.commit" per source and "git.commit" for
// the first git source.
func (s *Sources) Sync(ctx context.Context) (map[string]string, error) {
	vars := map[string]string{}
	for _, src := range s.cfg.SortedSources() {
		sync, ok := s.syncs[src.Name]
		if !ok {
			continue
		}
		head, err := sync.Execute(ctx)
		if err != nil {
			return nil, err
		}
		vars["git."+src.Name+".commit"] = head
		if _, ok := vars["git.commit"]; !ok {
			vars["git.commit"] = head
		}
	}
	return vars, nil
}

// FS returns the merged file system of all sources.
func (s *Sources) FS() (fs.FS, error) {
	return loader.Sources(s.cfg, func(src *config.Source) string {
		if sync, ok := s.syncs[src.Name]; ok {
			return sync.Path()
		}
		return loader.LocalRoot(src)
	})
}
