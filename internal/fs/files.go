// Package fs holds the file system helpers of the loader and the export
// writer.
package fs

import (
	"errors"
	"io/fs"
	"os"
	"strings"
)

// ContainsFiles returns true if the given fs.FS contains any files, and false otherwise.
func ContainsFiles(fsys fs.FS) (bool, error) {
	// errFound stops the walk at the first file.
	errFound := os.ErrExist

	err := fs.WalkDir(fsys, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return errFound
		}
		return nil
	})
	if err == errFound {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, err
}

var nameEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"\\", "%5C",
	":", "%3A",
	"*", "%2A",
	"?", "%3F",
	"\"", "%22",
	"<", "%3C",
	">", "%3E",
	"|", "%7C",
)

var nameUnescaper = strings.NewReplacer(
	"%25", "%",
	"%2F", "/",
	"%5C", "\\",
	"%3A", ":",
	"%2A", "*",
	"%3F", "?",
	"%22", "\"",
	"%3C", "<",
	"%3E", ">",
	"%7C", "|",
)

// EscapeName makes an entity name usable as a single path segment.
func EscapeName(name string) string {
	return nameEscaper.Replace(name)
}

// UnescapeName reverses EscapeName.
func UnescapeName(name string) string {
	return nameUnescaper.Replace(name)
}
