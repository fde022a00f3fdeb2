package cache

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns typed values into the opaque bytes stored in the cache.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// MsgpackCodec encodes values with MessagePack. It is the default codec:
// compact, schema-less, and round-trips structs via their msgpack or json
// field names.
type MsgpackCodec struct{}

// Marshal encodes v.
func (MsgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

// Unmarshal decodes data into v.
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// Name returns "msgpack".
func (MsgpackCodec) Name() string { return "msgpack" }

// JSONCodec encodes values as JSON, for entries other services read directly.
type JSONCodec struct{}

// Marshal encodes v.
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes data into v.
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns "json".
func (JSONCodec) Name() string { return "json" }
