// Package jsoncodec is the single JSON entry point of romeways. Every package
// that marshals JSON goes through it so the sonic configuration stays uniform.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// api mirrors encoding/json semantics (HTML escaping, sorted map keys).
var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode writes v to w followed by a newline.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}
