package protocol

import (
	"sort"
	"unicode/utf8"
)

// Message is the unit exchanged on the wire: a flat or nested map whose
// values are strings, numbers (always float64) or nested messages.
type Message map[string]any

// NewMessage builds a Message from loosely typed Go values.
// Integer and float32 values become float64, nested maps become Message.
func NewMessage(fields map[string]any) (Message, error) {
	return normalize(fields, 0)
}

// maximum nesting accepted from either side of the wire
const MaxNestingDepth = 16

func normalize(in map[string]any, depth int) (Message, error) {
	if depth > MaxNestingDepth {
		return nil, malformed("nesting deeper than %d", MaxNestingDepth)
	}
	out := make(Message, len(in))
	for k, v := range in {
		if !utf8.ValidString(k) {
			return nil, malformed("key %q is not valid utf-8", k)
		}
		nv, err := normalizeValue(v, depth)
		if err != nil {
			return nil, malformed("key %q: %v", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any, depth int) (any, error) {
	switch val := v.(type) {
	case string:
		// json would swap bad bytes for U+FFFD and cbor refuses them
		if !utf8.ValidString(val) {
			return nil, malformed("string is not valid utf-8")
		}
		return val, nil
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case Message:
		return normalize(val, depth+1)
	case map[string]any:
		return normalize(val, depth+1)
	case nil:
		return nil, malformed("null value")
	default:
		return nil, malformed("unsupported value type %T", v)
	}
}

// String returns the string stored under key.
func (m Message) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Number returns the number stored under key.
func (m Message) Number(key string) (float64, bool) {
	n, ok := m[key].(float64)
	return n, ok
}

// Nested returns the nested message stored under key.
func (m Message) Nested(key string) (Message, bool) {
	n, ok := m[key].(Message)
	return n, ok
}

func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Keys returns the keys in sorted order, mainly for logging.
func (m Message) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
