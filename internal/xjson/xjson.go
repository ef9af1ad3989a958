package xjson

import (
	stdjson "encoding/json"

	gjson "github.com/goccy/go-json"
)

// Single import site for JSON so the codec can be swapped without touching
// callers. Every opaque blob the store persists (resolved inputs, step
// details, job data maps) rides through here.

func Marshal(v interface{}) ([]byte, error) {
	return gjson.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return gjson.Unmarshal(data, v)
}

// RawMessage stays compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage

// Clone returns an independent copy of an opaque blob, so a retry copy of
// a record cannot alias the original's backing array.
func Clone(raw RawMessage) RawMessage {
	if raw == nil {
		return nil
	}
	out := make(RawMessage, len(raw))
	copy(out, raw)
	return out
}
