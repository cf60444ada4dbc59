package entity

import (
	"fmt"
	"slices"

	"github.com/go-viper/mapstructure/v2"
)

// Typed views over Entity.Attributes for the kinds whose attributes the
// engine interprets. Attributes of the remaining kinds are emitted as is.

type ServiceAttributes struct {
	URL   string   `json:"url"`
	Verbs []string `json:"httpMethods"`
}

type EncassArgument struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	RequireExplicit bool   `json:"requireExplicit"`
}

type EncassResult struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type EncassAttributes struct {
	Policy    string           `json:"policy"`
	Arguments []EncassArgument `json:"arguments"`
	Results   []EncassResult   `json:"results"`
}

type PrivateKeyAttributes struct {
	Keystore  string `json:"keystore"`
	Algorithm string `json:"algorithm"`
	Password  string `json:"password"`
	KeyFile   string `json:"keyFile"` // entry in the private key file table, defaults to the alias
}

type ListenPortAttributes struct {
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Default  bool   `json:"default"`
}

// defaultListenPorts are created by every gateway installation.
var defaultListenPorts = []string{
	"Default HTTP (8080)",
	"Default HTTPS (8443)",
	"Default HTTPS (9443)",
	"Node HTTPS (2124)",
}

// IsDefaultListenPort reports whether e is a listen port managed by the host
// rather than by a bundle.
func IsDefaultListenPort(e *Entity) bool {
	if e.Type != TypeListenPort {
		return false
	}
	var attrs ListenPortAttributes
	if err := DecodeAttributes(e, &attrs); err == nil && attrs.Default {
		return true
	}
	return slices.Contains(defaultListenPorts, e.Name)
}

// DecodeAttributes decodes the attributes of e into out.
func DecodeAttributes(e *Entity, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(e.Attributes); err != nil {
		return fmt.Errorf("%s %q: attributes: %w", e.Type, e.Key(), err)
	}
	return nil
}
