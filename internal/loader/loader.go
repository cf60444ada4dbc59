// Package loader reads the declarative project layout into an entity graph.
//
// A project source holds one document file per entity kind under config/
// (config/policies.yml, config/static-properties.yml, ...), mapping entity
// keys to documents. Policy and service XML lives under src/ at the path of
// the entity, private key material under config/privateKeys/<alias>.p12 and
// entities of unregistered types in config/unsupported-entities.yml.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/config"
	"github.com/apim-gateway/gwbundle/internal/entity"
	gwfs "github.com/apim-gateway/gwbundle/internal/fs"
	"github.com/apim-gateway/gwbundle/internal/gateway"
	"github.com/apim-gateway/gwbundle/internal/jsonpatch"
	"github.com/apim-gateway/gwbundle/internal/logging"
)

type Loader struct {
	kinds   *entity.Registry
	ids     IDGenerator
	patches []config.Patch
	deps    []*bundle.Bundle
	log     *logging.Logger
}

func New(kinds *entity.Registry) *Loader {
	return &Loader{kinds: kinds, ids: NewNameBasedIDs(""), log: logging.NewNop()}
}

func (l *Loader) WithIDGenerator(ids IDGenerator) *Loader {
	l.ids = ids
	return l
}

func (l *Loader) WithPatches(patches []config.Patch) *Loader {
	l.patches = patches
	return l
}

// WithDependencies sets the bundles that references which cannot be
// satisfied by the project itself are resolved against.
func (l *Loader) WithDependencies(deps ...*bundle.Bundle) *Loader {
	l.deps = deps
	return l
}

func (l *Loader) WithLogger(log *logging.Logger) *Loader {
	l.log = log
	return l
}

// Load reads the project in fsys.
func (l *Loader) Load(fsys fs.FS) (*bundle.Bundle, error) {
	patches, err := newPatchSet(l.patches)
	if err != nil {
		return nil, err
	}

	policies, err := readPolicies(fsys)
	if err != nil {
		return nil, err
	}

	b := bundle.New(l.kinds)
	for k := range l.kinds.Sorted() {
		if k.File == "" {
			continue
		}
		docs, file, err := readDocuments(fsys, path.Join(ConfigDir, k.File))
		if err != nil {
			return nil, err
		}
		for _, key := range entity.SortedKeys(docs) {
			e, err := l.entity(k, key, docs[key], patches)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if content, ok := policies[key]; ok && (k.Type == entity.TypePolicy || k.Type == entity.TypeService) {
				e.Content = content
				delete(policies, key)
			}
			if err := l.add(b, e); err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
		}
		if len(docs) > 0 {
			l.log.Debugf("loaded %d %s entities from %s", len(docs), k.Type, file)
		}
	}

	// Policy documents without a declaration are plain policies.
	if len(policies) > 0 {
		k, ok := l.kinds.Lookup(entity.TypePolicy)
		if !ok {
			return nil, gateway.NewLoadError(nil, "policy kind is not registered")
		}
		for _, key := range entity.SortedKeys(policies) {
			e, err := l.entity(k, key, nil, patches)
			if err != nil {
				return nil, err
			}
			e.Content = policies[key]
			if err := l.add(b, e); err != nil {
				return nil, err
			}
		}
	}

	if err := l.folders(b); err != nil {
		return nil, err
	}
	if err := l.privateKeys(fsys, b); err != nil {
		return nil, err
	}
	if err := l.unsupported(fsys, b, patches); err != nil {
		return nil, err
	}
	if err := patches.unused(); err != nil {
		return nil, err
	}

	for _, d := range l.deps {
		b.AddDependency(d)
	}
	return b, nil
}

func (l *Loader) entity(k *entity.Kind, key string, raw json.RawMessage, patches *patchSet) (*entity.Entity, error) {
	raw, err := patches.apply(k.Type, key, raw)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, gateway.NewLoadError(err, "%s %q", k.Type, key)
	}

	e := &entity.Entity{
		Type:         k.Type,
		Name:         key,
		ID:           doc.ID,
		GUID:         doc.GUID,
		Properties:   doc.Properties,
		Attributes:   doc.Attributes,
		Dependencies: doc.Dependencies,
	}
	if k.PathKeyed {
		e.Path = key
		e.Name = entity.ExtractName(key)
		e.FolderPath = entity.ParentPath(key)
	}
	if doc.Annotations != nil {
		e.Annotations = *doc.Annotations
		if e.Bundle != nil && !k.Annotable {
			return nil, gateway.NewLoadError(nil, "%s %q: entities of this type cannot carry a bundle annotation", k.Type, key)
		}
	}
	l.assignIDs(e)
	return e, nil
}

func (l *Loader) assignIDs(e *entity.Entity) {
	if e.ID != "" && e.GUID != "" {
		return
	}
	id, guid := l.ids.Generate(e.Type, e.Key())
	if e.ID == "" {
		e.ID = id
	}
	if e.GUID == "" {
		e.GUID = guid
	}
}

// add completes the dependencies of e with the references found in its
// policy document and attributes, then adds it to b.
func (l *Loader) add(b *bundle.Bundle, e *entity.Entity) error {
	if e.Content != "" {
		refs, err := PolicyReferences(e.Content)
		if err != nil {
			return gateway.NewLoadError(err, "%s %q", e.Type, e.Key())
		}
		for _, ref := range refs {
			addDependency(e, ref)
		}
	}
	if e.Type == entity.TypeEncass {
		var attrs entity.EncassAttributes
		if err := entity.DecodeAttributes(e, &attrs); err != nil {
			return gateway.NewLoadError(err, "%s %q", e.Type, e.Key())
		}
		if attrs.Policy != "" {
			addDependency(e, entity.Dependency{Type: entity.TypePolicy, Name: attrs.Policy})
		}
	}
	return b.Add(e)
}

func addDependency(e *entity.Entity, dep entity.Dependency) {
	if !slices.Contains(e.Dependencies, dep) {
		e.Dependencies = append(e.Dependencies, dep)
	}
}

// PolicyReferences returns the include and encapsulated assertion references
// of a policy document in document order.
func PolicyReferences(content string) ([]entity.Dependency, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(content); err != nil {
		return nil, fmt.Errorf("invalid policy document: %w", err)
	}
	var deps []entity.Dependency
	for _, el := range doc.FindElements("//L7p:PolicyGuid[@policyPath]") {
		deps = append(deps, entity.Dependency{Type: entity.TypePolicy, Name: el.SelectAttrValue("policyPath", "")})
	}
	for _, el := range doc.FindElements("//L7p:Encapsulated[@encassName]") {
		deps = append(deps, entity.Dependency{Type: entity.TypeEncass, Name: el.SelectAttrValue("encassName", "")})
	}
	return deps, nil
}

// folders creates the folder ancestry of every folderable entity.
func (l *Loader) folders(b *bundle.Bundle) error {
	for k := range l.kinds.Sorted() {
		if !k.Folderable {
			continue
		}
		for _, e := range b.Entities(k.Type) {
			for p := e.FolderPath; p != "" && !b.Has(entity.TypeFolder, p); p = entity.ParentPath(p) {
				folder := &entity.Entity{
					Type:       entity.TypeFolder,
					Name:       entity.ExtractName(p),
					Path:       p,
					FolderPath: entity.ParentPath(p),
				}
				l.assignIDs(folder)
				if err := b.Add(folder); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (l *Loader) privateKeys(fsys fs.FS, b *bundle.Bundle) error {
	entries, err := fs.ReadDir(fsys, PrivateKeyDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != PrivateKeyExt {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(PrivateKeyDir, entry.Name()))
		if err != nil {
			return err
		}
		b.AddPrivateKeyFile(gwfs.UnescapeName(strings.TrimSuffix(entry.Name(), PrivateKeyExt)), data)
	}
	return nil
}

// unsupported loads the entities of unregistered types. Their documents name
// the type and hold the resource element as XML.
func (l *Loader) unsupported(fsys fs.FS, b *bundle.Bundle, patches *patchSet) error {
	docs, file, err := readDocuments(fsys, path.Join(ConfigDir, UnsupportedFile))
	if err != nil {
		return err
	}
	for _, key := range entity.SortedKeys(docs) {
		doc, err := decodeDocument(docs[key])
		if err != nil {
			return gateway.NewLoadError(err, "%s: %q", file, key)
		}
		if doc.Type == "" || doc.Resource == "" {
			return gateway.NewLoadError(nil, "%s: %q: type and resource are required", file, key)
		}
		if l.kinds.Registered(doc.Type) {
			return gateway.NewLoadError(nil, "%s: %q: type %s is supported and belongs in its own file", file, key, doc.Type)
		}
		raw, err := patches.apply(doc.Type, key, docs[key])
		if err != nil {
			return err
		}
		if doc, err = decodeDocument(raw); err != nil {
			return gateway.NewLoadError(err, "%s: %q", file, key)
		}

		resource := etree.NewDocument()
		if err := resource.ReadFromString(doc.Resource); err != nil || resource.Root() == nil {
			return gateway.NewLoadError(err, "%s: %q: invalid resource", file, key)
		}
		e := &entity.Entity{
			Type:         doc.Type,
			Name:         key,
			ID:           doc.ID,
			GUID:         doc.GUID,
			Properties:   doc.Properties,
			Dependencies: doc.Dependencies,
			Raw:          resource.Root(),
		}
		l.assignIDs(e)
		if err := b.AddUnsupported(e); err != nil {
			return err
		}
	}
	return nil
}

// readPolicies returns the policy documents under src/, keyed by entity path.
// Path segments are unescaped.
func readPolicies(fsys fs.FS) (map[string]string, error) {
	policies := map[string]string{}
	err := fs.WalkDir(fsys, SourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != PolicyExt {
			return nil
		}
		bs, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		rel := strings.TrimSuffix(strings.TrimPrefix(p, SourceDir+"/"), PolicyExt)
		segments := strings.Split(rel, "/")
		for i := range segments {
			segments[i] = gwfs.UnescapeName(segments[i])
		}
		policies[strings.Join(segments, "/")] = string(bs)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return policies, nil
	}
	return policies, err
}

// patchSet holds the compiled patches by entity type and key, and tracks the
// ones that were applied.
type patchSet struct {
	patches map[patchKey][]jsonpatch.Patch
	used    map[patchKey]bool
}

type patchKey struct {
	t   entity.Type
	key string
}

func newPatchSet(patches []config.Patch) (*patchSet, error) {
	s := &patchSet{patches: map[patchKey][]jsonpatch.Patch{}, used: map[patchKey]bool{}}
	for i := range patches {
		ops, err := patches[i].Compile()
		if err != nil {
			return nil, err
		}
		k := patchKey{t: entity.Type(patches[i].Type), key: patches[i].Key}
		s.patches[k] = append(s.patches[k], ops)
	}
	return s, nil
}

func (s *patchSet) apply(t entity.Type, key string, raw json.RawMessage) (json.RawMessage, error) {
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	k := patchKey{t: t, key: key}
	for _, p := range s.patches[k] {
		var err error
		if raw, err = jsonpatch.Apply(p, raw); err != nil {
			return nil, gateway.NewLoadError(err, "failed to patch %s %q", t, key)
		}
	}
	if len(s.patches[k]) > 0 {
		s.used[k] = true
	}
	return raw, nil
}

// unused fails for patches that matched no entity.
func (s *patchSet) unused() error {
	var errs []error
	for k := range s.patches {
		if !s.used[k] {
			errs = append(errs, fmt.Errorf("patch for %s %q matches no entity", k.t, k.key))
		}
	}
	slices.SortFunc(errs, func(a, b error) int { return strings.Compare(a.Error(), b.Error()) })
	return errors.Join(errs...)
}
