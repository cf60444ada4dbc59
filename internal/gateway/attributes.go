package gateway

import (
	"fmt"
	"slices"
	"unicode"
	"unicode/utf8"

	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/entity"
)

// EncodeAttributes appends one element per attribute to parent, in key order.
// Attribute keys become l7 element names: "connectionUrl" is written as
// l7:ConnectionUrl. Nested maps become nested elements and lists repeat the
// element once per entry.
func EncodeAttributes(parent *etree.Element, attrs map[string]any) error {
	for _, key := range entity.SortedKeys(attrs) {
		if err := encodeAttribute(parent, key, attrs[key]); err != nil {
			return err
		}
	}
	return nil
}

func encodeAttribute(parent *etree.Element, key string, value any) error {
	tag := "l7:" + upperFirst(key)
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		return EncodeAttributes(parent.CreateElement(tag), v)
	case []any:
		for _, entry := range v {
			if err := encodeAttribute(parent, key, entry); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, entry := range v {
			parent.CreateElement(tag).SetText(entry)
		}
		return nil
	case string, bool, int, int32, int64, uint64, float64:
		parent.CreateElement(tag).SetText(fmt.Sprint(v))
		return nil
	default:
		return NewBuildError(ErrUnsupportedValue, "could not create attribute (%s) for value type: %T", key, value)
	}
}

// DecodeAttributes reverses EncodeAttributes for the children of el whose
// tags are not listed in skip. Scalar values are returned as strings.
func DecodeAttributes(el *etree.Element, skip ...string) map[string]any {
	attrs := map[string]any{}
	for _, c := range el.ChildElements() {
		if slices.Contains(skip, c.FullTag()) {
			continue
		}
		key := lowerFirst(c.Tag)
		var value any
		if len(c.ChildElements()) > 0 {
			value = DecodeAttributes(c)
		} else {
			value = c.Text()
		}
		switch existing := attrs[key].(type) {
		case nil:
			attrs[key] = value
		case []any:
			attrs[key] = append(existing, value)
		default:
			attrs[key] = []any{existing, value}
		}
	}
	return attrs
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[n:]
}
