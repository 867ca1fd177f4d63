package cache

import (
	"encoding/json"
	"fmt"
)

// Serializer converts node values to and from bytes for the disk store.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// JSONSerializer stores values as JSON.
//
// Round-tripped values follow encoding/json semantics: numbers come back as
// float64 and maps as map[string]any. Hashing happens before serialization,
// so the representation never leaks into node identities.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache: encoding value: %w", err)
	}
	return data, nil
}

func (JSONSerializer) Unmarshal(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("cache: decoding value: %w", err)
	}
	return v, nil
}
