package loader

import (
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/apim-gateway/gwbundle/internal/entity"
)

// IDGenerator assigns gateway identifiers to entities whose documents do not
// carry them. IDs are 32 hex digits, GUIDs are dashed UUID strings.
type IDGenerator interface {
	Generate(t entity.Type, key string) (id, guid string)
}

// NameBasedIDs derives identifiers from the project name and the entity
// identity, so rebuilding a project yields the same ids every time.
type NameBasedIDs struct {
	namespace uuid.UUID
}

func NewNameBasedIDs(project string) *NameBasedIDs {
	return &NameBasedIDs{namespace: uuid.NewSHA1(uuid.NameSpaceURL, []byte("gwbundle:"+project))}
}

func (g *NameBasedIDs) Generate(t entity.Type, key string) (string, string) {
	id := uuid.NewSHA1(g.namespace, []byte(string(t)+":"+key))
	guid := uuid.NewSHA1(id, []byte("guid"))
	return hex.EncodeToString(id[:]), guid.String()
}
