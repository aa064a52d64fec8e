package mapping

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Encode serializes a mapping to YAML. With the slices held in canonical
// order (the compiler's responsibility) the output is byte-stable, and
// Decode(Encode(m)) round-trips exactly.
func Encode(m *Mapping) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode mapping: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode mapping: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a serialized mapping. Unknown fields are rejected so stale
// or hand-edited mapping files fail loudly.
func Decode(data []byte) (*Mapping, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Mapping
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	// A second document would silently be ignored otherwise.
	if err := dec.Decode(new(Mapping)); err == nil {
		return nil, fmt.Errorf("decode mapping: multiple documents are not allowed")
	}
	return &m, nil
}
