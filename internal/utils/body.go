package utils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/sjson"
)

// MarshalWithExtraBody encodes body as JSON and then applies the extra body
// fields on top of it. Keys are sjson paths, so "thinking.type" reaches into
// nested objects. A nil value deletes the path from the encoded body, which
// lets configuration drop a field the convention would otherwise send.
// Keys are applied in sorted order so the output is deterministic.
func MarshalWithExtraBody(body any, extra map[string]any) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling body: %w", err)
	}
	if len(extra) == 0 {
		return encoded, nil
	}

	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := extra[key]
		if value == nil {
			encoded, err = sjson.DeleteBytes(encoded, key)
		} else {
			encoded, err = sjson.SetBytes(encoded, key, value)
		}
		if err != nil {
			return nil, fmt.Errorf("error applying extra body field %q: %w", key, err)
		}
	}

	return encoded, nil
}
