package loader

import (
	"cmp"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yalue/merged_fs"

	"github.com/apim-gateway/gwbundle/internal/config"
	gwfs "github.com/apim-gateway/gwbundle/internal/fs"
)

// Sources merges the configured sources into the file system a project is
// loaded from. root returns the directory a source is read from, which for
// git sources is the working copy. A file present in several sources is taken
// from the first source in name order.
func Sources(cfg *config.Root, root func(src *config.Source) string) (fs.FS, error) {
	var fses []fs.FS
	for _, src := range cfg.SortedSources() {
		dir := root(src)
		if src.Git != nil && src.Directory != "" {
			dir = filepath.Join(dir, src.Directory)
		}
		filtered, err := gwfs.NewFilterFS(os.DirFS(dir), src.IncludedFiles, src.ExcludedFiles)
		if err != nil {
			return nil, err
		}
		fses = append(fses, filtered)
	}
	return merged_fs.MergeMultiple(fses...), nil
}

// LocalRoot is the root of sources that are not synchronized from git.
func LocalRoot(src *config.Source) string {
	return cmp.Or(src.Directory, ".")
}
