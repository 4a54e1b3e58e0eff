package protocol

import (
	"reflect"

	cbor "github.com/fxamacker/cbor/v2"
)

type cborMessageCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// newCBORCodec builds a canonical encoder and a strict decoder:
// duplicate keys, indefinite lengths and deep nesting are refused.
func newCBORCodec() Codec {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("protocol: cbor encoder options: " + err.Error())
	}
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: MaxNestingDepth + 2,
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: cbor decoder options: " + err.Error())
	}
	return cborMessageCodec{enc: em, dec: dm}
}

func (cborMessageCodec) Name() string { return FormatCBOR }

func (c cborMessageCodec) Marshal(m Message) ([]byte, error) {
	clean, err := normalize(m, 0)
	if err != nil {
		return nil, err
	}
	data, err := c.enc.Marshal(toPlain(clean))
	if err != nil {
		return nil, malformed("encode cbor: %v", err)
	}
	return data, nil
}

func (c cborMessageCodec) Unmarshal(data []byte) (Message, error) {
	var raw any
	if err := c.dec.Unmarshal(data, &raw); err != nil {
		return nil, malformed("decode cbor: %v", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, malformed("cbor root is %T, want map", raw)
	}
	return normalize(obj, 0)
}

// toPlain strips the Message type so the encoder sees ordinary maps.
func toPlain(m Message) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(Message); ok {
			out[k] = toPlain(nested)
			continue
		}
		out[k] = v
	}
	return out
}
