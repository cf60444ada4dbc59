package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"path"

	"github.com/goccy/go-yaml"

	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

// Layout of a project source.
const (
	ConfigDir          = "config"
	SourceDir          = "src"
	PrivateKeyDir      = "config/privateKeys"
	PrivateKeyExt      = ".p12"
	PolicyExt          = ".xml"
	UnsupportedFile    = "unsupported-entities"
	DefaultDocumentExt = ".yml"
)

var documentExts = []string{".yml", ".yaml", ".json"}

// Document is the declarative form of one entity. Files map entity keys to
// documents.
type Document struct {
	ID           string              `json:"id,omitempty"`
	GUID         string              `json:"guid,omitempty"`
	Properties   map[string]any      `json:"properties,omitempty"`
	Attributes   map[string]any      `json:"attributes,omitempty"`
	Dependencies []entity.Dependency `json:"dependencies,omitempty"`
	Annotations  *entity.Annotations `json:"annotations,omitempty"`

	// Type and Resource are set for entities of unregistered types only.
	// Resource is the XML of the resource element.
	Type     entity.Type `json:"type,omitempty"`
	Resource string      `json:"resource,omitempty"`
}

// NewDocument returns the document describing e. Identity fields that are
// implied by the key are left out.
func NewDocument(e *entity.Entity) *Document {
	doc := &Document{
		ID:           e.ID,
		GUID:         e.GUID,
		Properties:   e.Properties,
		Attributes:   e.Attributes,
		Dependencies: e.Dependencies,
	}
	if e.Annotations.Bundle != nil || e.Shared || e.Redeployable {
		annotations := e.Annotations
		doc.Annotations = &annotations
	}
	return doc
}

// readDocuments reads the entity documents stored under base, which names a
// file without extension. Each document is returned as JSON so that patches
// can be applied to it. A missing file yields no documents.
func readDocuments(fsys fs.FS, base string) (map[string]json.RawMessage, string, error) {
	var found []string
	for _, ext := range documentExts {
		_, err := fs.Stat(fsys, base+ext)
		switch {
		case err == nil:
			found = append(found, base+ext)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, "", err
		}
	}
	switch len(found) {
	case 0:
		return nil, "", nil
	case 1:
	default:
		return nil, "", gateway.NewLoadError(nil, "conflicting files %v", found)
	}

	file := found[0]
	bs, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, "", err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return nil, "", gateway.NewLoadError(err, "%s", file)
	}

	docs := make(map[string]json.RawMessage, len(raw))
	for key, value := range raw {
		if value == nil {
			docs[key] = json.RawMessage("{}")
			continue
		}
		bs, err := json.Marshal(value)
		if err != nil {
			return nil, "", gateway.NewLoadError(err, "%s: %q", file, key)
		}
		docs[key] = bs
	}
	return docs, file, nil
}

// decodeDocument decodes a JSON document. Numbers in properties become int32
// when they fit and int64 otherwise; numbers in attributes become int64.
// Non-integral numbers are kept as float64.
func decodeDocument(raw json.RawMessage) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	for k, v := range doc.Properties {
		doc.Properties[k] = normalize(v, true)
	}
	for k, v := range doc.Attributes {
		doc.Attributes[k] = normalize(v, false)
	}
	return &doc, nil
}

func normalize(v any, narrow bool) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			if narrow && i >= math.MinInt32 && i <= math.MaxInt32 {
				return int32(i)
			}
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k := range v {
			v[k] = normalize(v[k], narrow)
		}
		return v
	case []any:
		for i := range v {
			v[i] = normalize(v[i], narrow)
		}
		return v
	default:
		return v
	}
}

// DocumentFile returns the path of the file holding the documents of kind k.
func DocumentFile(k *entity.Kind) string {
	return path.Join(ConfigDir, k.File+DefaultDocumentExt)
}
