// Package memory converts in-process broker events.
package memory

import (
	"maps"

	"ackflow/convert"
	"ackflow/internal/memory"
	"ackflow/message"
)

type Converter struct {
	Codec convert.Codec
}

func (c Converter) ToMessage(e memory.Event, t convert.Target) (*message.Message, error) {
	payload, err := convert.ExtractPayload(e.Body, t, c.Codec)
	if err != nil {
		return nil, err
	}
	b := message.NewBuilder(payload).ID(e.ID).ReplyTo(e.ReplyTo)
	if ct, ok := convert.ParseContentType(e.ContentType); ok {
		b.ContentType(ct)
	}
	if e.PartitionKey != "" {
		b.Header(message.HeaderPartitionKey, e.PartitionKey)
	}
	convert.MergeProperties(b, e.Properties)
	return b.Build(), nil
}

func (c Converter) FromMessage(m *message.Message) (memory.Event, error) {
	body, err := convert.PayloadBytes(m.Payload(), c.Codec)
	if err != nil {
		return memory.Event{}, err
	}
	_, props := convert.CustomHeaders(m)
	h := m.Headers()
	return memory.Event{
		ID:           m.ID(),
		ContentType:  m.ContentType(),
		ReplyTo:      m.ReplyTo(),
		PartitionKey: h.String(message.HeaderPartitionKey),
		Properties:   maps.Clone(props),
		Body:         body,
	}, nil
}
