package gateway

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/entity"
)

// EncodeProperties converts a typed property map into an l7:Properties
// element. Keys are emitted in sorted order.
func EncodeProperties(props map[string]any) (*etree.Element, error) {
	container := etree.NewElement(ElemProperties)
	for _, key := range entity.SortedKeys(props) {
		tag, text, err := encodeValue(key, props[key])
		if err != nil {
			return nil, err
		}
		property := container.CreateElement(ElemProperty)
		property.CreateAttr(AttrKey, key)
		property.CreateElement(tag).SetText(text)
	}
	return container, nil
}

func encodeValue(key string, value any) (string, string, error) {
	switch v := value.(type) {
	case string:
		return ElemStringValue, v, nil
	case int32:
		return ElemIntegerValue, strconv.FormatInt(int64(v), 10), nil
	case int64:
		return ElemLongValue, strconv.FormatInt(v, 10), nil
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return ElemIntegerValue, strconv.Itoa(v), nil
		}
		return ElemLongValue, strconv.Itoa(v), nil
	case bool:
		return ElemBooleanValue, strconv.FormatBool(v), nil
	default:
		return "", "", NewBuildError(ErrUnsupportedValue, "could not create property (%s) for value type: %T", key, value)
	}
}

// DecodeProperties converts an l7:Properties element back into a typed map.
// A nil element yields an empty map.
func DecodeProperties(container *etree.Element) (map[string]any, error) {
	props := map[string]any{}
	if container == nil {
		return props, nil
	}
	if container.FullTag() != ElemProperties {
		return nil, NewLoadError(nil, "expected %s element, found %s", ElemProperties, container.FullTag())
	}

	for _, property := range container.SelectElements(ElemProperty) {
		key := property.SelectAttrValue(AttrKey, "")
		children := property.ChildElements()
		if len(children) == 0 {
			return nil, NewLoadError(nil, "property %s does not have a value", key)
		}
		value, err := decodeValue(key, children[0])
		if err != nil {
			return nil, err
		}
		props[key] = value
	}
	return props, nil
}

func decodeValue(key string, el *etree.Element) (any, error) {
	text := strings.TrimSpace(el.Text())
	switch el.FullTag() {
	case ElemStringValue:
		return el.Text(), nil
	case ElemIntegerValue:
		v, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, NewLoadError(err, "property %s: invalid integer", key)
		}
		return int32(v), nil
	case ElemLongValue:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, NewLoadError(err, "property %s: invalid long", key)
		}
		return v, nil
	case ElemBooleanValue:
		return ParseBool(text), nil
	default:
		return nil, NewLoadError(nil, "property %s: unknown property type %s", key, el.FullTag())
	}
}

var trueValues = []string{"true", "yes", "on", "y", "t"}

// ParseBool is lenient: any of true, yes, on, y or t in any case is true,
// everything else is false.
func ParseBool(s string) bool {
	return slices.Contains(trueValues, strings.ToLower(strings.TrimSpace(s)))
}
