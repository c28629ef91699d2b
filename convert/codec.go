package convert

import (
	"maps"
	"slices"

	jsoniter "github.com/json-iterator/go"
)

// Codec serializes structured payloads.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct {
	api jsoniter.API
}

func (c jsonCodec) Marshal(v any) ([]byte, error)      { return c.api.Marshal(v) }
func (c jsonCodec) Unmarshal(data []byte, v any) error { return c.api.Unmarshal(data, v) }

// JSON is the default codec, compatible with encoding/json tags.
var JSON Codec = jsonCodec{api: jsoniter.ConfigCompatibleWithStandardLibrary}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
