// Package convert maps broker wire messages to and from message.Message.
//
// Payload extraction is shared by every broker converter: raw bytes are
// returned verbatim, strings are decoded as UTF-8 and anything else goes
// through a pluggable Codec. Header mapping is broker specific and lives in
// the convert/<broker> packages.
package convert

import (
	"errors"
	"fmt"
	"mime"
	"reflect"
	"unicode/utf8"

	"ackflow/message"
)

// Inbound converts a received broker message into a Message.
type Inbound[W any] interface {
	ToMessage(wire W, target Target) (*message.Message, error)
}

// Outbound converts a Message into the broker's send type.
type Outbound[W any] interface {
	FromMessage(m *message.Message) (W, error)
}

type kind int

const (
	kindBytes kind = iota
	kindString
	kindStruct
)

// Target is the payload type a converter extracts.
type Target struct {
	kind kind
	typ  reflect.Type
}

var (
	Bytes  = Target{kind: kindBytes}
	String = Target{kind: kindString}
)

// StructOf targets a value of type T decoded by the converter's Codec.
func StructOf[T any]() Target {
	return Target{kind: kindStruct, typ: reflect.TypeFor[T]()}
}

func (t Target) String() string {
	switch t.kind {
	case kindBytes:
		return "bytes"
	case kindString:
		return "string"
	default:
		return t.typ.String()
	}
}

// ParseTarget maps the pipeline's payload setting to a Target.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "", "bytes":
		return Bytes, nil
	case "string":
		return String, nil
	default:
		return Target{}, fmt.Errorf("convert: unsupported payload type %q", s)
	}
}

var ErrInvalidUTF8 = errors.New("convert: payload is not valid utf-8")

// ConversionError reports a payload or header that could not be converted.
type ConversionError struct {
	Op  string
	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert: %s: %v", e.Op, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ExtractPayload decodes a wire body into the target type.
func ExtractPayload(body []byte, t Target, codec Codec) (any, error) {
	switch t.kind {
	case kindBytes:
		return body, nil
	case kindString:
		if !utf8.Valid(body) {
			return nil, &ConversionError{Op: "decode string payload", Err: ErrInvalidUTF8}
		}
		return string(body), nil
	default:
		if codec == nil {
			codec = JSON
		}
		v := reflect.New(t.typ)
		if err := codec.Unmarshal(body, v.Interface()); err != nil {
			return nil, &ConversionError{Op: "decode " + t.typ.String(), Err: err}
		}
		return v.Elem().Interface(), nil
	}
}

// PayloadBytes encodes a payload for the wire.
func PayloadBytes(payload any, codec Codec) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		if codec == nil {
			codec = JSON
		}
		b, err := codec.Marshal(p)
		if err != nil {
			return nil, &ConversionError{Op: fmt.Sprintf("encode %T", p), Err: err}
		}
		return b, nil
	}
}

// ParseContentType validates a content type. ok is false when raw cannot
// be parsed; callers drop the header and keep converting.
func ParseContentType(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if _, _, err := mime.ParseMediaType(raw); err != nil {
		return "", false
	}
	return raw, true
}

// MergeProperties copies vendor properties into b as free-form headers.
// Reserved framework names are never overwritten.
func MergeProperties(b *message.Builder, props map[string]any) {
	for _, k := range sortedKeys(props) {
		if message.IsReserved(k) {
			continue
		}
		b.Header(k, props[k])
	}
}

// CustomHeaders returns the message headers that are not reserved,
// in insertion order. Values are passed through unchanged.
func CustomHeaders(m *message.Message) ([]string, map[string]any) {
	h := m.Headers()
	keys := make([]string, 0, h.Len())
	out := make(map[string]any, h.Len())
	h.Each(func(k string, v any) {
		if message.IsReserved(k) {
			return
		}
		keys = append(keys, k)
		out[k] = v
	})
	return keys, out
}
