package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/mlahtinen/weave/pkg/api"
)

// Common composite types that travel inside interface-typed state
// values. Workflow-specific structs must be registered by the caller.
func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register(time.Time{})
}

// DefaultMaxPayload is the encoded-size ceiling applied by durable
// stores unless overridden. Oversized step outputs fail the step; an
// output that cannot be persisted must never be treated as skippable on
// resume.
const DefaultMaxPayload = 8 << 20

// EncodeValue serializes arbitrary Go values using encoding/gob.
// Callers must gob.Register concrete types that travel inside
// interface-typed values. limit <= 0 disables the size check.
func EncodeValue(v any, limit int) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// Encode as interface{} so payloads decode back into interface{}.
	iv := v
	if err := enc.Encode(&iv); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	if limit > 0 && buf.Len() > limit {
		return nil, fmt.Errorf("%w: %d bytes > %d", api.ErrPayloadTooLarge, buf.Len(), limit)
	}
	return buf.Bytes(), nil
}

// DecodeValue deserializes a payload produced by EncodeValue.
func DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var iv any
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&iv); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return iv, nil
}

// EncodeOutputs serializes a step's output map.
func EncodeOutputs(outputs map[string]any, limit int) ([]byte, error) {
	if outputs == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(outputs); err != nil {
		return nil, fmt.Errorf("encode outputs: %w", err)
	}
	if limit > 0 && buf.Len() > limit {
		return nil, fmt.Errorf("%w: %d bytes > %d", api.ErrPayloadTooLarge, buf.Len(), limit)
	}
	return buf.Bytes(), nil
}

// DecodeOutputs deserializes a step's output map.
func DecodeOutputs(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var outputs map[string]any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	return outputs, nil
}

// EncodeState serializes a checkpoint's state snapshot.
func EncodeState(snap api.StateSnapshot, limit int) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	if limit > 0 && buf.Len() > limit {
		return nil, fmt.Errorf("%w: %d bytes > %d", api.ErrPayloadTooLarge, buf.Len(), limit)
	}
	return buf.Bytes(), nil
}

// DecodeState deserializes a checkpoint's state snapshot.
func DecodeState(data []byte) (api.StateSnapshot, error) {
	var snap api.StateSnapshot
	if len(data) == 0 {
		return snap, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode state: %w", err)
	}
	return snap, nil
}
