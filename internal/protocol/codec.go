package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// Codec turns a Message into bytes and back. Implementations must reject
// anything outside the Message value grammar instead of guessing.
type Codec interface {
	Name() string
	Marshal(m Message) ([]byte, error)
	Unmarshal(data []byte) (Message, error)
}

const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

var (
	jsonCodec Codec = jsonMessageCodec{}
	cborCodec Codec = newCBORCodec()
)

// CodecByName returns the codec registered for a wire format name.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FormatJSON:
		return jsonCodec, nil
	case FormatCBOR:
		return cborCodec, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", name)
	}
}

// JSON returns the default codec.
func JSON() Codec { return jsonCodec }

// CBOR returns the compact binary codec.
func CBOR() Codec { return cborCodec }

// Encode serialises m with the default codec.
func Encode(m Message) ([]byte, error) {
	return jsonCodec.Marshal(m)
}

// Decode detects the format of data and parses it into a Message.
// A JSON object starts with '{'; a CBOR map has major type 5.
func Decode(data []byte) (Message, error) {
	c, err := Detect(data)
	if err != nil {
		return nil, err
	}
	return c.Unmarshal(data)
}

// Detect picks the codec able to read data without parsing it.
func Detect(data []byte) (Codec, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, malformed("empty payload")
	}
	switch b := trimmed[0]; {
	case b == '{':
		return jsonCodec, nil
	case b>>5 == 5 && len(trimmed) == len(data):
		return cborCodec, nil
	default:
		return nil, malformed("unrecognised leading byte 0x%02x", b)
	}
}
