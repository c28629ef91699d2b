// Package message is the broker-neutral message handed to application
// handlers and accepted by send operations.
package message

import (
	"slices"

	"github.com/google/uuid"
)

// Reserved header names. Converters never let broker properties
// overwrite these.
const (
	HeaderID            = "id"
	HeaderContentType   = "contentType"
	HeaderReplyTo       = "replyTo"
	HeaderCheckpointer  = "checkpointer"
	HeaderPartitionID   = "partitionId"
	HeaderPartitionKey  = "partitionKey"
	HeaderSessionID     = "sessionId"
	HeaderPosition      = "position"
	HeaderDestination   = "destination"
	HeaderConsumerGroup = "consumerGroup"
	HeaderTimestamp     = "timestamp"
	HeaderDeliveryCount = "deliveryCount"
	// HeaderLockToken carries the broker lock of a leased message.
	HeaderLockToken = "lockToken"
)

var reserved = map[string]struct{}{
	HeaderID:            {},
	HeaderContentType:   {},
	HeaderReplyTo:       {},
	HeaderCheckpointer:  {},
	HeaderPartitionID:   {},
	HeaderPartitionKey:  {},
	HeaderSessionID:     {},
	HeaderPosition:      {},
	HeaderDestination:   {},
	HeaderConsumerGroup: {},
	HeaderTimestamp:     {},
	HeaderDeliveryCount: {},
	HeaderLockToken:     {},
}

// IsReserved reports whether name is a framework header.
func IsReserved(name string) bool {
	_, ok := reserved[name]
	return ok
}

// Message is immutable once built.
type Message struct {
	payload any
	headers Headers
}

func (m *Message) Payload() any { return m.payload }

// Headers returns the message headers. The returned value shares no
// state with the message.
func (m *Message) Headers() Headers { return m.headers.clone() }

func (m *Message) Header(name string) (any, bool) { return m.headers.Get(name) }

func (m *Message) ID() string          { return m.headers.String(HeaderID) }
func (m *Message) ContentType() string { return m.headers.String(HeaderContentType) }
func (m *Message) ReplyTo() string     { return m.headers.String(HeaderReplyTo) }

// With returns a copy of m with the header set.
func (m *Message) With(name string, value any) *Message {
	return FromMessage(m).Header(name, value).Build()
}

// Headers is an insertion-ordered header map.
type Headers struct {
	keys   []string
	values map[string]any
}

func (h Headers) Len() int { return len(h.keys) }

func (h Headers) Get(name string) (any, bool) {
	v, ok := h.values[name]
	return v, ok
}

// String returns the header as a string, or "" when absent or not a string.
func (h Headers) String(name string) string {
	s, _ := h.values[name].(string)
	return s
}

// Keys returns header names in insertion order.
func (h Headers) Keys() []string { return slices.Clone(h.keys) }

// Each calls fn for every header in insertion order.
func (h Headers) Each(fn func(name string, value any)) {
	for _, k := range h.keys {
		fn(k, h.values[k])
	}
}

func (h *Headers) set(name string, value any) {
	if h.values == nil {
		h.values = make(map[string]any)
	}
	if _, ok := h.values[name]; !ok {
		h.keys = append(h.keys, name)
	}
	h.values[name] = value
}

func (h *Headers) del(name string) {
	if _, ok := h.values[name]; !ok {
		return
	}
	delete(h.values, name)
	h.keys = slices.DeleteFunc(h.keys, func(k string) bool { return k == name })
}

func (h Headers) clone() Headers {
	out := Headers{keys: slices.Clone(h.keys), values: make(map[string]any, len(h.values))}
	for k, v := range h.values {
		out.values[k] = v
	}
	return out
}

// Builder assembles a Message.
type Builder struct {
	payload any
	headers Headers
}

func NewBuilder(payload any) *Builder {
	return &Builder{payload: payload}
}

// FromMessage starts a builder holding a copy of m's payload and headers.
func FromMessage(m *Message) *Builder {
	return &Builder{payload: m.payload, headers: m.headers.clone()}
}

// Header sets name to value. A nil value removes the header.
func (b *Builder) Header(name string, value any) *Builder {
	if value == nil {
		b.headers.del(name)
		return b
	}
	b.headers.set(name, value)
	return b
}

// HeaderIfAbsent sets name only if it is not present yet.
func (b *Builder) HeaderIfAbsent(name string, value any) *Builder {
	if _, ok := b.headers.Get(name); ok || value == nil {
		return b
	}
	b.headers.set(name, value)
	return b
}

func (b *Builder) ID(id string) *Builder {
	if id == "" {
		return b
	}
	return b.Header(HeaderID, id)
}

func (b *Builder) ContentType(ct string) *Builder {
	if ct == "" {
		return b
	}
	return b.Header(HeaderContentType, ct)
}

func (b *Builder) ReplyTo(to string) *Builder {
	if to == "" {
		return b
	}
	return b.Header(HeaderReplyTo, to)
}

// Build returns the message. A message without an id gets a random UUID.
func (b *Builder) Build() *Message {
	h := b.headers.clone()
	if h.String(HeaderID) == "" {
		h.set(HeaderID, uuid.NewString())
	}
	return &Message{payload: b.payload, headers: h}
}
