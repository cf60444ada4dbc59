package entity

import (
	"cmp"
	"iter"
	"maps"
	"slices"
)

// Type is the gateway type tag of an entity. The values match the type names
// used on the wire by the gateway management API.
type Type string

const (
	TypeFolder          Type = "FOLDER"
	TypeIDProvider      Type = "ID_PROVIDER_CONFIG"
	TypeListenPort      Type = "SSG_CONNECTOR"
	TypeClusterProperty Type = "CLUSTER_PROPERTY"
	TypeStoredPassword  Type = "SECURE_PASSWORD"
	TypeTrustedCert     Type = "TRUSTED_CERT"
	TypeJDBCConnection  Type = "JDBC_CONNECTION"
	TypePolicy          Type = "POLICY"
	TypeService         Type = "SERVICE"
	TypeEncass          Type = "ENCAPSULATED_ASSERTION"
	TypePrivateKey      Type = "SSG_KEY_ENTRY"
)

// UnsupportedOrder places passthrough entities of unregistered types after
// every registered kind.
const UnsupportedOrder = 1000

// Kind describes the capabilities of a registered entity type. Resolution and
// building dispatch on these flags instead of on the concrete type.
type Kind struct {
	Type        Type
	ResourceTag string // element name of the resource on the wire
	File        string // base name of the declarative file holding entities of this kind
	Order       int    // emission order, lower first

	PathKeyed       bool // key is the hierarchical path instead of the name
	Folderable      bool
	Annotable       bool // may carry a bundle annotation and root its own artifact
	HasDependencies bool // dependencies are walked transitively
	Environment     bool // infrastructure entity, owned by the environment
}

// Registry is the set of entity kinds known to the engine. Types missing from
// the registry are treated as unsupported and passed through opaquely.
type Registry struct {
	kinds map[Type]*Kind
}

func NewRegistry(kinds ...*Kind) *Registry {
	r := &Registry{kinds: make(map[Type]*Kind, len(kinds))}
	for _, k := range kinds {
		r.kinds[k.Type] = k
	}
	return r
}

// DefaultRegistry returns the registry of all entity kinds built by gwbundle.
// Order reflects the load order the gateway requires: folders, then
// infrastructure, then policies, services, encapsulated assertions and keys.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&Kind{Type: TypeFolder, ResourceTag: "l7:Folder", Order: 10, PathKeyed: true},
		&Kind{Type: TypeIDProvider, ResourceTag: "l7:IdentityProvider", File: "identity-providers", Order: 20, Environment: true},
		&Kind{Type: TypeListenPort, ResourceTag: "l7:ListenPort", File: "listen-ports", Order: 30, Environment: true},
		&Kind{Type: TypeClusterProperty, ResourceTag: "l7:ClusterProperty", File: "static-properties", Order: 40, Environment: true},
		&Kind{Type: TypeStoredPassword, ResourceTag: "l7:StoredPassword", File: "passwords", Order: 50, Environment: true},
		&Kind{Type: TypeTrustedCert, ResourceTag: "l7:TrustedCertificate", File: "trusted-certs", Order: 60, Environment: true},
		&Kind{Type: TypeJDBCConnection, ResourceTag: "l7:JDBCConnection", File: "jdbc-connections", Order: 70, Environment: true},
		&Kind{Type: TypePolicy, ResourceTag: "l7:Policy", File: "policies", Order: 80, PathKeyed: true, Folderable: true, Annotable: true, HasDependencies: true},
		&Kind{Type: TypeService, ResourceTag: "l7:Service", File: "services", Order: 90, PathKeyed: true, Folderable: true, Annotable: true, HasDependencies: true},
		&Kind{Type: TypeEncass, ResourceTag: "l7:EncapsulatedAssertion", File: "encass", Order: 100, Annotable: true, HasDependencies: true},
		&Kind{Type: TypePrivateKey, ResourceTag: "l7:PrivateKey", File: "private-keys", Order: 110, Environment: true},
	)
}

func (r *Registry) Lookup(t Type) (*Kind, bool) {
	k, ok := r.kinds[t]
	return k, ok
}

func (r *Registry) Registered(t Type) bool {
	_, ok := r.kinds[t]
	return ok
}

func (r *Registry) PathKeyed(t Type) bool {
	k, ok := r.kinds[t]
	return ok && k.PathKeyed
}

func (r *Registry) Environment(t Type) bool {
	k, ok := r.kinds[t]
	return ok && k.Environment
}

// Sorted iterates over the registered kinds in emission order. Ties are
// broken by type name so that the order is total.
func (r *Registry) Sorted() iter.Seq[*Kind] {
	kinds := slices.SortedFunc(maps.Values(r.kinds), func(a, b *Kind) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.Type, b.Type))
	})
	return slices.Values(kinds)
}
