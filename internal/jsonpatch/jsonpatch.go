package jsonpatch

import (
	"encoding/json"
	"fmt"

	jp "github.com/evanphx/json-patch/v5"
)

// PatchError reports a patch using an operation other than add, remove or replace.
type PatchError struct {
	msg string
}

func (p *PatchError) Error() string {
	return p.msg
}

type Patch = jp.Patch

var opts = jp.ApplyOptions{
	EnsurePathExistsOnAdd:    true, // will create paths
	AllowMissingPathOnRemove: true,
}

// Decode parses an RFC 6902 patch document and checks its operations.
func Decode(doc []byte) (Patch, error) {
	p, err := jp.DecodePatch(doc)
	if err != nil {
		return nil, err
	}
	if err := check(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Apply applies the patch to an entity document.
func Apply(p Patch, doc json.RawMessage) (json.RawMessage, error) {
	if err := check(p); err != nil {
		return nil, err
	}
	return p.ApplyWithOptions(doc, &opts)
}

func check(p Patch) error {
	for _, op := range p {
		switch op.Kind() {
		case "replace", "remove", "add": // OK
		default:
			return &PatchError{fmt.Sprintf("unsupported patch operation %q, must be one of \"replace\", \"add\", \"remove\"", op.Kind())}
		}
	}
	return nil
}
