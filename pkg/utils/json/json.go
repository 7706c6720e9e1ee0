// Package json wraps sonic behind the familiar encoding/json surface.
// Sonic keeps the std-compatible behavior (HTML escaping, compact
// output, sorted map keys) through ConfigStd and transparently falls
// back to a pure-Go implementation on unsupported architectures.
package json

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// Marshal encodes v into JSON bytes.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes JSON bytes into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// MarshalString encodes v into a JSON string.
func MarshalString(v any) (string, error) {
	return api.MarshalToString(v)
}

// UnmarshalString decodes a JSON string into v.
func UnmarshalString(data string, v any) error {
	return api.UnmarshalFromString(data, v)
}

// Encoder streams JSON values to a writer.
type Encoder interface {
	Encode(v any) error
}

// Decoder reads JSON values from a reader.
type Decoder interface {
	Decode(v any) error
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) Encoder {
	return api.NewEncoder(w)
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) Decoder {
	return api.NewDecoder(r)
}
