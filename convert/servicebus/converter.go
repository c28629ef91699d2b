// Package servicebus converts Service Bus messages. Message ids that parse
// as UUIDs are normalized to their canonical form; any other id is kept
// verbatim.
package servicebus

import (
	"fmt"
	"time"

	"ackflow/convert"
	"ackflow/message"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
)

const (
	HeaderCorrelationID = "correlationId"
	HeaderSubject       = "subject"
)

// NormalizeID returns the canonical UUID form of id, or id unchanged when
// it is not a UUID.
func NormalizeID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

type Converter struct {
	Codec convert.Codec
}

func (c Converter) ToMessage(m *azservicebus.ReceivedMessage, t convert.Target) (*message.Message, error) {
	payload, err := convert.ExtractPayload(m.Body, t, c.Codec)
	if err != nil {
		return nil, err
	}
	b := message.NewBuilder(payload).ID(NormalizeID(m.MessageID))
	if m.ContentType != nil {
		if ct, ok := convert.ParseContentType(*m.ContentType); ok {
			b.ContentType(ct)
		}
	}
	if m.ReplyTo != nil {
		b.ReplyTo(*m.ReplyTo)
	}
	if m.PartitionKey != nil {
		b.Header(message.HeaderPartitionKey, *m.PartitionKey)
	}
	if m.SessionID != nil {
		b.Header(message.HeaderSessionID, *m.SessionID)
	}
	if m.EnqueuedTime != nil {
		b.Header(message.HeaderTimestamp, *m.EnqueuedTime)
	}
	b.Header(message.HeaderDeliveryCount, m.DeliveryCount)
	if m.CorrelationID != nil {
		b.Header(HeaderCorrelationID, *m.CorrelationID)
	}
	if m.Subject != nil {
		b.Header(HeaderSubject, *m.Subject)
	}
	convert.MergeProperties(b, m.ApplicationProperties)
	return b.Build(), nil
}

func (c Converter) FromMessage(m *message.Message) (*azservicebus.Message, error) {
	body, err := convert.PayloadBytes(m.Payload(), c.Codec)
	if err != nil {
		return nil, err
	}
	out := &azservicebus.Message{Body: body, MessageID: to.Ptr(NormalizeID(m.ID()))}
	h := m.Headers()
	optional := func(s string) *string {
		if s == "" {
			return nil
		}
		return to.Ptr(s)
	}
	out.ContentType = optional(m.ContentType())
	out.ReplyTo = optional(m.ReplyTo())
	out.PartitionKey = optional(h.String(message.HeaderPartitionKey))
	out.SessionID = optional(h.String(message.HeaderSessionID))

	keys, vals := convert.CustomHeaders(m)
	for _, k := range keys {
		switch k {
		case HeaderCorrelationID:
			out.CorrelationID = optional(fmt.Sprint(vals[k]))
		case HeaderSubject:
			out.Subject = optional(fmt.Sprint(vals[k]))
		default:
			if out.ApplicationProperties == nil {
				out.ApplicationProperties = make(map[string]any, len(keys))
			}
			out.ApplicationProperties[k] = amqpValue(vals[k])
		}
	}
	return out, nil
}

// amqpValue passes AMQP primitive types through and formats anything
// else as a string.
func amqpValue(v any) any {
	switch v.(type) {
	case string, bool, []byte, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	default:
		return fmt.Sprint(v)
	}
}
