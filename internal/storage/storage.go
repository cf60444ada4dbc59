// Package storage writes build artifacts to the configured output: a local
// directory or an Amazon S3, Google Cloud Storage or Azure Blob Storage bucket.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/apim-gateway/gwbundle/internal/assembler"
	"github.com/apim-gateway/gwbundle/internal/config"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

// Store stores named objects.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
}

// New returns the store selected by cfg. An empty configuration writes to the
// working directory.
func New(ctx context.Context, cfg config.ObjectStorage) (Store, error) {
	switch {
	case cfg.AmazonS3 != nil:
		return NewAmazonS3(ctx, cfg.AmazonS3)
	case cfg.GCPCloudStorage != nil:
		return NewGCPCloudStorage(ctx, cfg.GCPCloudStorage)
	case cfg.AzureBlobStorage != nil:
		return NewAzureBlobStorage(ctx, cfg.AzureBlobStorage)
	case cfg.FileSystemStorage != nil:
		return NewFileSystem(cfg.FileSystemStorage.Path), nil
	default:
		return NewFileSystem("."), nil
	}
}

// Files returns the serialized files of an artifact keyed by file name.
func Files(a *assembler.Artifact) (map[string][]byte, error) {
	files := map[string][]byte{}

	install, err := gateway.Marshal(a.Install)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.InstallFile, err)
	}
	files[a.InstallFile] = install

	if a.Delete != nil {
		del, err := gateway.Marshal(a.Delete)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.DeleteFile, err)
		}
		files[a.DeleteFile] = del
	}

	if a.Metadata != nil {
		md, err := yaml.Marshal(a.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.MetadataFile, err)
		}
		files[a.MetadataFile] = md
	}

	for _, key := range a.PrivateKeys {
		bs, err := gateway.Marshal(key.Context)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key.FileName, err)
		}
		files[key.FileName] = bs
	}
	return files, nil
}

// Write stores every file of the artifacts and returns the names written in
// sorted order. All artifacts are serialized before the first file is stored.
// The install bundle of an artifact is stored last, so a failure never leaves
// an install bundle without its delete bundle, metadata or private keys.
// done, if not nil, is called after each complete artifact.
func Write(ctx context.Context, store Store, artifacts []*assembler.Artifact, done func(a *assembler.Artifact, names []string)) ([]string, error) {
	serialized := make([]map[string][]byte, len(artifacts))
	for i, a := range artifacts {
		files, err := Files(a)
		if err != nil {
			return nil, err
		}
		serialized[i] = files
	}

	var written []string
	for i, a := range artifacts {
		names := writeOrder(a, serialized[i])
		for _, name := range names {
			if err := store.Put(ctx, name, serialized[i][name]); err != nil {
				slices.Sort(written)
				return written, fmt.Errorf("failed to store %s: %w", name, err)
			}
			written = append(written, name)
		}
		if done != nil {
			done(a, names)
		}
	}
	slices.Sort(written)
	return written, nil
}

// writeOrder returns the file names of an artifact sorted, with the install
// bundle moved to the end.
func writeOrder(a *assembler.Artifact, files map[string][]byte) []string {
	names := slices.DeleteFunc(sortedNames(files), func(name string) bool { return name == a.InstallFile })
	return append(names, a.InstallFile)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
