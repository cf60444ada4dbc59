package export

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/goccy/go-yaml"

	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	gwfs "github.com/apim-gateway/gwbundle/internal/fs"
	"github.com/apim-gateway/gwbundle/internal/loader"
	"github.com/apim-gateway/gwbundle/internal/logging"
)

// Writer writes an entity graph in the layout read by the loader.
type Writer struct {
	kinds *entity.Registry
	log   *logging.Logger
}

func NewWriter(kinds *entity.Registry) *Writer {
	return &Writer{kinds: kinds, log: logging.NewNop()}
}

func (w *Writer) WithLogger(log *logging.Logger) *Writer {
	w.log = log
	return w
}

// Write writes b below dir. Existing files are overwritten.
func (w *Writer) Write(dir string, b *bundle.Bundle) error {
	for k := range w.kinds.Sorted() {
		if k.File == "" {
			continue
		}
		entities := b.Entities(k.Type)
		if len(entities) == 0 {
			continue
		}

		docs := make(map[string]*loader.Document, len(entities))
		for _, e := range entities {
			doc := loader.NewDocument(e)
			doc.Dependencies = declaredDependencies(e)
			docs[e.Key()] = doc

			if e.Content != "" {
				if err := writeFile(dir, policyFile(e.Key()), []byte(e.Content)); err != nil {
					return err
				}
			}
			if k.Type == entity.TypePrivateKey {
				if err := w.writePrivateKey(dir, b, e); err != nil {
					return err
				}
			}
		}
		if err := writeDocuments(dir, loader.DocumentFile(k), docs); err != nil {
			return err
		}
		w.log.Debugf("wrote %d %s entities", len(entities), k.Type)
	}

	unsupported := b.Unsupported()
	if len(unsupported) == 0 {
		return nil
	}
	docs := make(map[string]*loader.Document, len(unsupported))
	for _, e := range unsupported {
		doc := etree.NewDocument()
		doc.SetRoot(e.Raw.Copy())
		resource, err := doc.WriteToString()
		if err != nil {
			return err
		}
		if _, ok := docs[e.Name]; ok {
			return fmt.Errorf("unsupported entities of different types share the name %q", e.Name)
		}
		docs[e.Name] = &loader.Document{ID: e.ID, GUID: e.GUID, Type: e.Type, Resource: resource, Properties: e.Properties}
	}
	return writeDocuments(dir, filepath.Join(loader.ConfigDir, loader.UnsupportedFile+loader.DefaultDocumentExt), docs)
}

func (w *Writer) writePrivateKey(dir string, b *bundle.Bundle, e *entity.Entity) error {
	var attrs entity.PrivateKeyAttributes
	if err := entity.DecodeAttributes(e, &attrs); err != nil {
		return err
	}
	name := cmp.Or(attrs.KeyFile, e.Name)
	data, ok := b.PrivateKeyFile(name)
	if !ok {
		w.log.Debugf("no key material for private key %q", e.Name)
		return nil
	}
	return writeFile(dir, filepath.Join(loader.PrivateKeyDir, gwfs.EscapeName(name)+loader.PrivateKeyExt), data)
}

// declaredDependencies returns the dependencies of e that the loader does not
// derive from its policy document or attributes.
func declaredDependencies(e *entity.Entity) []entity.Dependency {
	var derived []entity.Dependency
	if e.Content != "" {
		derived, _ = loader.PolicyReferences(e.Content)
	}
	if p, ok := e.Attributes["policy"].(string); ok && e.Type == entity.TypeEncass {
		derived = append(derived, entity.Dependency{Type: entity.TypePolicy, Name: p})
	}
	var result []entity.Dependency
	for _, dep := range e.Dependencies {
		if !slices.Contains(derived, dep) && !slices.Contains(result, dep) {
			result = append(result, dep)
		}
	}
	return result
}

// policyFile returns the file of the policy document at key, with every path
// segment escaped.
func policyFile(key string) string {
	segments := strings.Split(key, "/")
	for i := range segments {
		segments[i] = gwfs.EscapeName(segments[i])
	}
	return filepath.Join(loader.SourceDir, filepath.Join(segments...)+loader.PolicyExt)
}

func writeDocuments(dir, name string, docs map[string]*loader.Document) error {
	bs, err := yaml.MarshalWithOptions(docs, yaml.Indent(2), yaml.UseLiteralStyleIfMultiline(true))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return writeFile(dir, name, bs)
}

func writeFile(dir, name string, data []byte) error {
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}
