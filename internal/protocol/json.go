package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

type jsonMessageCodec struct{}

func (jsonMessageCodec) Name() string { return FormatJSON }

func (jsonMessageCodec) Marshal(m Message) ([]byte, error) {
	clean, err := normalize(m, 0)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return nil, malformed("encode json: %v", err)
	}
	return data, nil
}

func (jsonMessageCodec) Unmarshal(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, malformed("decode json: %v", err)
	}
	// exactly one value per frame
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed("trailing data after json object")
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, malformed("json root is %T, want object", raw)
	}
	// encoding/json keeps the last of repeated keys; the wire does not allow them
	if err := rejectDuplicateKeys(json.NewDecoder(bytes.NewReader(data)), 0); err != nil {
		return nil, err
	}
	return normalize(obj, 0)
}

// rejectDuplicateKeys walks the next value on dec and fails on the first
// object that repeats a key. The input is already known to be valid JSON.
func rejectDuplicateKeys(dec *json.Decoder, depth int) error {
	if depth > MaxNestingDepth+1 {
		return malformed("nesting deeper than %d", MaxNestingDepth)
	}
	tok, err := dec.Token()
	if err != nil {
		return malformed("decode json: %v", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch delim {
	case '{':
		seen := make(map[string]struct{})
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return malformed("decode json: %v", err)
			}
			key, _ := keyTok.(string)
			if _, dup := seen[key]; dup {
				return malformed("duplicate key %q", key)
			}
			seen[key] = struct{}{}
			if err := rejectDuplicateKeys(dec, depth+1); err != nil {
				return err
			}
		}
	case '[':
		for dec.More() {
			if err := rejectDuplicateKeys(dec, depth+1); err != nil {
				return err
			}
		}
	}
	// closing delimiter
	if _, err := dec.Token(); err != nil {
		return malformed("decode json: %v", err)
	}
	return nil
}
