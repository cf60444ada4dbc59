package config

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/swaggest/jsonschema-go"

	gwfs "github.com/apim-gateway/gwbundle/internal/fs"
	"github.com/apim-gateway/gwbundle/internal/jsonpatch"
)

// DefaultFile is the project file looked up when no --config flag is given.
const DefaultFile = "gwbundle.yaml"

// Root is the top-level project configuration.
type Root struct {
	Project      Project            `json:"project" required:"true"`
	Build        Build              `json:"build,omitzero"`
	Sources      map[string]*Source `json:"sources,omitempty"`
	Dependencies StringSet          `json:"dependencies,omitempty"`
	Patches      []Patch            `json:"patches,omitempty"`
	Output       ObjectStorage      `json:"output,omitzero"`
	Secrets      map[string]*Secret `json:"secrets,omitempty"` // Schema validation overrides Secret to object type.
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root struct.
// Sources and secrets are defined as mappings keyed by name; the names are
// injected here along with the secrets every SecretRef points to.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalJSON by type aliasing
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

func (r *Root) unmarshal() error {
	for name := range r.Secrets {
		r.Secrets[name] = cmp.Or(r.Secrets[name], &Secret{})
		r.Secrets[name].Name = name
	}

	for name := range r.Sources {
		r.Sources[name] = cmp.Or(r.Sources[name], &Source{})
		r.Sources[name].Name = name
		if git := r.Sources[name].Git; git != nil && git.Credentials != nil {
			git.Credentials.value = r.Secrets[git.Credentials.Name]
		}
	}

	for _, ref := range r.Output.credentials() {
		ref.value = r.Secrets[ref.Name]
	}

	return r.validate()
}

func (r *Root) validate() error {
	if _, err := r.Build.BundleType(); err != nil {
		return err
	}
	for _, src := range r.SortedSources() {
		if err := src.validate(); err != nil {
			return err
		}
	}
	for _, s := range r.SortedSecrets() {
		if err := s.validate(); err != nil {
			return err
		}
	}
	for i := range r.Patches {
		if _, err := r.Patches[i].Compile(); err != nil {
			return err
		}
	}
	return r.Output.validate()
}

// SortedSources returns the sources ordered by name.
func (r *Root) SortedSources() iter.Seq2[int, *Source] {
	return iterator(r.Sources, func(s *Source) string { return s.Name })
}

// SortedSecrets returns the secrets ordered by name.
func (r *Root) SortedSecrets() iter.Seq2[int, *Secret] {
	return iterator(r.Secrets, func(s *Secret) string { return s.Name })
}

// Resolve makes the relative paths of the configuration relative to dir, the
// directory of the configuration file.
func (r *Root) Resolve(dir string) {
	for _, src := range r.Sources {
		if src.Git == nil && src.Directory != "" && !filepath.IsAbs(src.Directory) {
			src.Directory = filepath.Join(dir, src.Directory)
		}
	}
	for i, dep := range r.Dependencies {
		if !filepath.IsAbs(dep) && !strings.Contains(dep, "://") {
			r.Dependencies[i] = filepath.Join(dir, dep)
		}
	}
	if fs := r.Output.FileSystemStorage; fs != nil && !filepath.IsAbs(fs.Path) {
		fs.Path = filepath.Join(dir, fs.Path)
	}
}

func (r *Root) Equal(other *Root) bool {
	return fastEqual(r, other, func(r, other *Root) bool {
		return r.Project == other.Project &&
			r.Build == other.Build &&
			maps.EqualFunc(r.Sources, other.Sources, (*Source).Equal) &&
			r.Dependencies.Equal(other.Dependencies) &&
			slices.EqualFunc(r.Patches, other.Patches, Patch.Equal) &&
			r.Output.Equal(&other.Output) &&
			maps.EqualFunc(r.Secrets, other.Secrets, (*Secret).Equal)
	})
}

func iterator[V any](m map[string]V, name func(V) string) func(func(int, V) bool) {
	names := make([]string, 0, len(m))
	for _, v := range m {
		names = append(names, name(v))
	}

	sort.Strings(names)

	return func(yield func(int, V) bool) {
		for i, name := range names {
			if !yield(i, m[name]) {
				return
			}
		}
	}
}

// Validate checks a configuration document against the configuration schema.
func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

func ParseFile(filename string) (*Root, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	root, err := Parse(bs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	root.Resolve(filepath.Dir(filename))
	return root, nil
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &root, nil
}

// Project names the artifacts a build produces.
type Project struct {
	Name       string `json:"name" minLength:"1" required:"true"`
	Group      string `json:"group,omitempty"`
	Version    string `json:"version,omitempty"` // Expanded with ResolveVersion before use.
	ConfigName string `json:"config_name,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Build controls how the artifacts are assembled.
type Build struct {
	Type                           string   `json:"type,omitempty" enum:"deployment,environment"`
	GenerateMetadata               bool     `json:"generate_metadata,omitempty"`
	IgnoreAnnotations              bool     `json:"ignore_annotations,omitempty"`
	DisableUniqueEnvironmentNaming bool     `json:"disable_unique_environment_naming,omitempty"`
	Parallelism                    int      `json:"parallelism,omitempty" minimum:"0"`
	Interval                       Duration `json:"interval,omitzero"`

	_ struct{} `additionalProperties:"false"`
}

// BundleType is the build type in its canonical spelling. An empty type
// means deployment.
func (b Build) BundleType() (string, error) {
	switch b.Type {
	case "", "deployment":
		return "deployment", nil
	case "environment":
		return "environment", nil
	}
	return "", fmt.Errorf("unknown build type %q", b.Type)
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m" or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Source is one directory of declarative project files. When Git is set, the
// repository is synchronized first and Directory is taken relative to the
// working copy.
type Source struct {
	Name          string    `json:"-"`
	Directory     string    `json:"directory,omitempty"`
	IncludedFiles StringSet `json:"included_files,omitempty"`
	ExcludedFiles StringSet `json:"excluded_files,omitempty"`
	Git           *Git      `json:"git,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (s *Source) Equal(other *Source) bool {
	return fastEqual(s, other, func(s, other *Source) bool {
		return s.Name == other.Name &&
			s.Directory == other.Directory &&
			s.IncludedFiles.Equal(other.IncludedFiles) &&
			s.ExcludedFiles.Equal(other.ExcludedFiles) &&
			s.Git.Equal(other.Git)
	})
}

func (s *Source) validate() error {
	for _, pattern := range slices.Concat(s.IncludedFiles, s.ExcludedFiles) {
		if _, err := gwfs.CompilePattern(pattern); err != nil {
			return fmt.Errorf("source %q: %w", s.Name, err)
		}
	}
	if s.Git != nil && s.Git.Repo == "" {
		return fmt.Errorf("source %q: git repository is required", s.Name)
	}
	return nil
}

type StringSet []string

func (a StringSet) Equal(b StringSet) bool {
	return setEqual(a, b, func(s string) string { return s }, func(a, b string) bool { return a == b })
}

func (a StringSet) Add(value string) StringSet {
	i := sort.Search(len(a), func(i int) bool { return a[i] >= value })
	if i < len(a) && a[i] == value {
		return a
	}

	return slices.Insert(a, i, value)
}

// Git defines the repository a source is synchronized from.
type Git struct {
	Repo        string     `json:"repo" required:"true"`
	Reference   *string    `json:"reference,omitempty"`
	Commit      *string    `json:"commit,omitempty"`
	Credentials *SecretRef `json:"credentials,omitempty"` // If nil, use the default SSH authentication mechanisms available
	// or no authentication for public repos. Note, JSON schema validation overrides this to string type.

	_ struct{} `additionalProperties:"false"`
}

func (g *Git) Equal(other *Git) bool {
	return fastEqual(g, other, func(g, other *Git) bool {
		return g.Repo == other.Repo &&
			stringPtrEqual(g.Reference, other.Reference) &&
			stringPtrEqual(g.Commit, other.Commit) &&
			g.Credentials.Equal(other.Credentials)
	})
}

// Patch is a JSON patch applied to the document of one entity when the
// project is loaded.
type Patch struct {
	Type  string          `json:"type" minLength:"1" required:"true"`
	Key   string          `json:"key" minLength:"1" required:"true"`
	Patch json.RawMessage `json:"patch" required:"true"`

	_ struct{} `additionalProperties:"false"`
}

func (Patch) PrepareJSONSchema(schema *jsonschema.Schema) error {
	if p, ok := schema.Properties["patch"]; ok && p.TypeObject != nil {
		p.TypeObject.Type = nil
		p.TypeObject.AddType(jsonschema.Array)
	}
	return nil
}

// UnmarshalYAML keeps the patch operations as JSON so that they can be handed
// to the patch library unchanged.
func (p *Patch) UnmarshalYAML(bs []byte) error {
	var raw struct {
		Type  string `json:"type"`
		Key   string `json:"key"`
		Patch []any  `json:"patch"`
	}
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode patch: %w", err)
	}
	ops, err := json.Marshal(raw.Patch)
	if err != nil {
		return fmt.Errorf("failed to encode patch for %s %q: %w", raw.Type, raw.Key, err)
	}
	*p = Patch{Type: raw.Type, Key: raw.Key, Patch: ops}
	return nil
}

func (p *Patch) Compile() (jsonpatch.Patch, error) {
	ops, err := jsonpatch.Decode(p.Patch)
	if err != nil {
		return nil, fmt.Errorf("patch for %s %q: %w", p.Type, p.Key, err)
	}
	return ops, nil
}

func (p Patch) Equal(other Patch) bool {
	return p.Type == other.Type && p.Key == other.Key && jsonEqual(p.Patch, other.Patch)
}

func jsonEqual(a, b json.RawMessage) bool {
	var x, y any
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return slices.Equal(a, b)
	}
	xs, _ := json.Marshal(x)
	ys, _ := json.Marshal(y)
	return slices.Equal(xs, ys)
}

type SecretRef struct {
	Name  string `json:"-"`
	value *Secret
}

// Resolve retrieves the secret value from the secret store. If the secret is not found, an error is returned.
// If the secret is found, it returns the value as an interface{} which can be further typed as needed.
func (s *SecretRef) Resolve(ctx context.Context) (any, error) {
	if s.value == nil {
		return nil, fmt.Errorf("secret %q not found", s.Name)
	}

	return s.value.Typed(ctx)
}

func (s *SecretRef) MarshalYAML() (any, error) {
	if s.Name == "" {
		return nil, nil
	}
	return s.Name, nil
}

func (s *SecretRef) MarshalJSON() ([]byte, error) {
	v, err := s.MarshalYAML()
	if err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

func (s *SecretRef) UnmarshalYAML(bs []byte) error {
	if err := yaml.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("expected scalar node: %w", err)
	}
	return nil
}

func (s *SecretRef) UnmarshalJSON(bs []byte) error {
	if err := json.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("failed to unmarshal SecretRef: %w", err)
	}

	return nil
}

func (*SecretRef) PrepareJSONSchema(schema *jsonschema.Schema) error {
	schema.Type = nil
	schema.AddType(jsonschema.String)
	return nil
}

func (s *SecretRef) Equal(other *SecretRef) bool {
	return fastEqual(s, other, func(s, other *SecretRef) bool {
		return s.Name == other.Name && s.value.Equal(other.value)
	})
}

// ObjectStorage selects where the artifacts are written. Exactly one backend
// is expected; an empty ObjectStorage writes to the working directory.
type ObjectStorage struct {
	AmazonS3          *AmazonS3          `json:"aws,omitempty"`
	GCPCloudStorage   *GCPCloudStorage   `json:"gcp,omitempty"`
	AzureBlobStorage  *AzureBlobStorage  `json:"azure,omitempty"`
	FileSystemStorage *FileSystemStorage `json:"filesystem,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (o *ObjectStorage) Equal(other *ObjectStorage) bool {
	return fastEqual(o, other, func(o, other *ObjectStorage) bool {
		return o.AmazonS3.Equal(other.AmazonS3) &&
			o.GCPCloudStorage.Equal(other.GCPCloudStorage) &&
			o.AzureBlobStorage.Equal(other.AzureBlobStorage) &&
			o.FileSystemStorage.Equal(other.FileSystemStorage)
	})
}

func (o *ObjectStorage) credentials() []*SecretRef {
	var refs []*SecretRef
	if o.AmazonS3 != nil && o.AmazonS3.Credentials != nil {
		refs = append(refs, o.AmazonS3.Credentials)
	}
	if o.GCPCloudStorage != nil && o.GCPCloudStorage.Credentials != nil {
		refs = append(refs, o.GCPCloudStorage.Credentials)
	}
	if o.AzureBlobStorage != nil && o.AzureBlobStorage.Credentials != nil {
		refs = append(refs, o.AzureBlobStorage.Credentials)
	}
	return refs
}

func (o *ObjectStorage) validate() error {
	n := 0
	for _, set := range []bool{o.AmazonS3 != nil, o.GCPCloudStorage != nil, o.AzureBlobStorage != nil, o.FileSystemStorage != nil} {
		if set {
			n++
		}
	}
	if n > 1 {
		return errors.New("only one output storage may be configured")
	}

	if err := o.AmazonS3.validate(); err != nil {
		return err
	}
	if err := o.GCPCloudStorage.validate(); err != nil {
		return err
	}
	if err := o.AzureBlobStorage.validate(); err != nil {
		return err
	}
	return o.FileSystemStorage.validate()
}

// AmazonS3 defines the configuration for an Amazon S3-compatible object storage.
type AmazonS3 struct {
	Bucket      string     `json:"bucket"`
	Prefix      string     `json:"prefix,omitempty"`
	Region      string     `json:"region"`
	Credentials *SecretRef `json:"credentials,omitempty"` // If nil, use default credentials chain: environment variables,
	// shared credentials file, ECS or EC2 instance role.
	URL string `json:"url,omitempty"` // for test purposes

	_ struct{} `additionalProperties:"false"`
}

// GCPCloudStorage defines the configuration for a Google Cloud Storage bucket.
type GCPCloudStorage struct {
	Project     string     `json:"project"`
	Bucket      string     `json:"bucket"`
	Prefix      string     `json:"prefix,omitempty"`
	Credentials *SecretRef `json:"credentials,omitempty"` // If nil, use default credentials chain: environment variables,
	// file created by gcloud auth application-default login, GCE/GKE metadata server.

	_ struct{} `additionalProperties:"false"`
}

// AzureBlobStorage defines the configuration for an Azure Blob Storage container.
type AzureBlobStorage struct {
	AccountURL  string     `json:"account_url"`
	Container   string     `json:"container"`
	Prefix      string     `json:"prefix,omitempty"`
	Credentials *SecretRef `json:"credentials,omitempty"` // If nil, use default credentials chain: environment variables,
	// managed identity, Azure CLI login.

	_ struct{} `additionalProperties:"false"`
}

// FileSystemStorage writes the artifacts to a local directory.
type FileSystemStorage struct {
	Path string `json:"path"`

	_ struct{} `additionalProperties:"false"`
}

func (a *AmazonS3) Equal(other *AmazonS3) bool {
	return fastEqual(a, other, func(a, other *AmazonS3) bool {
		return a.Bucket == other.Bucket &&
			a.Prefix == other.Prefix &&
			a.Region == other.Region &&
			a.Credentials.Equal(other.Credentials) &&
			a.URL == other.URL
	})
}

func (a *AmazonS3) validate() error {
	if a == nil {
		return nil
	}

	if a.Bucket == "" {
		return errors.New("amazon s3 bucket is required")
	}

	if a.Region == "" {
		return errors.New("amazon s3 region is required")
	}

	return nil
}

func (g *GCPCloudStorage) Equal(other *GCPCloudStorage) bool {
	return fastEqual(g, other, func(g, other *GCPCloudStorage) bool {
		return g.Project == other.Project &&
			g.Bucket == other.Bucket &&
			g.Prefix == other.Prefix &&
			g.Credentials.Equal(other.Credentials)
	})
}

func (g *GCPCloudStorage) validate() error {
	if g == nil {
		return nil
	}

	if g.Project == "" {
		return errors.New("gcp cloud storage project is required")
	}

	if g.Bucket == "" {
		return errors.New("gcp cloud storage bucket is required")
	}

	return nil
}

func (a *AzureBlobStorage) Equal(other *AzureBlobStorage) bool {
	return fastEqual(a, other, func(a, other *AzureBlobStorage) bool {
		return a.AccountURL == other.AccountURL &&
			a.Container == other.Container &&
			a.Prefix == other.Prefix &&
			a.Credentials.Equal(other.Credentials)
	})
}

func (a *AzureBlobStorage) validate() error {
	if a == nil {
		return nil
	}

	if a.AccountURL == "" {
		return errors.New("azure blob storage account URL is required")
	}

	if a.Container == "" {
		return errors.New("azure blob storage container is required")
	}

	return nil
}

func (f *FileSystemStorage) Equal(other *FileSystemStorage) bool {
	return fastEqual(f, other, func(f, other *FileSystemStorage) bool {
		return f.Path == other.Path
	})
}

func (f *FileSystemStorage) validate() error {
	if f == nil {
		return nil
	}

	if f.Path == "" {
		return errors.New("filesystem storage path is required")
	}

	return nil
}

func setEqual[K comparable, V any](a, b []V, key func(V) K, eq func(a, b V) bool) bool {
	if len(a) == 1 && len(b) == 1 {
		return eq(a[0], b[0])
	}

	// NB: duplicates collapse, so []string{"a", "a"} is setEqual to []string{"a"}.
	m := make(map[K]V, len(a))
	for _, v := range a {
		m[key(v)] = v
	}

	n := make(map[K]V, len(b))
	for _, v := range b {
		n[key(v)] = v
	}

	return maps.EqualFunc(m, n, eq)
}

func stringPtrEqual(a, b *string) bool {
	return fastEqual(a, b, func(a, b *string) bool { return *a == *b })
}

func fastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}
