package assembler

import (
	"github.com/apim-gateway/gwbundle/internal/builder"
	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
)

const metadataVersion = "1.0"

// Metadata describes an artifact to the tools that deploy it.
type Metadata struct {
	MetaVersion        string           `json:"metaVersion" yaml:"metaVersion"`
	Name               string           `json:"name" yaml:"name"`
	GroupName          string           `json:"groupName,omitempty" yaml:"groupName,omitempty"`
	Version            string           `json:"version,omitempty" yaml:"version,omitempty"`
	Type               string           `json:"type" yaml:"type"`
	Description        string           `json:"description,omitempty" yaml:"description,omitempty"`
	Tags               []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
	Reusable           bool             `json:"reusable" yaml:"reusable"`
	Redeployable       bool             `json:"redeployable" yaml:"redeployable"`
	DefinedEntities    []MetadataEntity `json:"definedEntities" yaml:"definedEntities"`
	ReferencedEntities []MetadataEntity `json:"referencedEntities,omitempty" yaml:"referencedEntities,omitempty"`
}

type MetadataEntity struct {
	Type string `json:"type" yaml:"type"`
	Name string `json:"name" yaml:"name"`
	ID   string `json:"id" yaml:"id"`
	GUID string `json:"guid,omitempty" yaml:"guid,omitempty"`
}

// newMetadata describes the items of a scope. root is nil for the whole
// project. Items the bundle only references are listed separately from the
// ones it defines; folders are left out.
func newMetadata(name string, project ProjectInfo, t builder.BundleType, root *entity.Entity, scope *bundle.Bundle, items []*gateway.Item) *Metadata {
	md := &Metadata{
		MetaVersion:     metadataVersion,
		Name:            name,
		GroupName:       project.Group,
		Version:         project.Version,
		Type:            t.String(),
		DefinedEntities: []MetadataEntity{},
	}
	if root != nil {
		md.Description = root.Bundle.Description
		md.Tags = root.Bundle.Tags
		md.Reusable = root.Shared
		md.Redeployable = root.Redeployable
	}

	for _, it := range items {
		if it.Type == entity.TypeFolder {
			continue
		}
		me := MetadataEntity{Type: string(it.Type), Name: it.Name, ID: it.ID}
		if e, ok := scope.Get(it.Type, it.Key); ok {
			me.GUID = e.GUID
		}
		if it.Reference() {
			md.ReferencedEntities = append(md.ReferencedEntities, me)
		} else {
			md.DefinedEntities = append(md.DefinedEntities, me)
		}
	}
	return md
}
