// Package rabbitmq converts AMQP 0-9-1 deliveries and publishings.
package rabbitmq

import (
	"fmt"
	"time"

	"ackflow/convert"
	"ackflow/message"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	HeaderCorrelationID = "correlationId"
	HeaderRoutingKey    = "routingKey"
	HeaderRedelivered   = "redelivered"
)

type Converter struct {
	Codec convert.Codec
}

func (c Converter) ToMessage(d amqp.Delivery, t convert.Target) (*message.Message, error) {
	payload, err := convert.ExtractPayload(d.Body, t, c.Codec)
	if err != nil {
		return nil, err
	}
	b := message.NewBuilder(payload).ID(d.MessageId).ReplyTo(d.ReplyTo)
	if ct, ok := convert.ParseContentType(d.ContentType); ok {
		b.ContentType(ct)
	}
	if !d.Timestamp.IsZero() {
		b.Header(message.HeaderTimestamp, d.Timestamp)
	}
	if key, ok := d.Headers[message.HeaderPartitionKey].(string); ok {
		b.Header(message.HeaderPartitionKey, key)
	}
	if d.CorrelationId != "" {
		b.Header(HeaderCorrelationID, d.CorrelationId)
	}
	if d.RoutingKey != "" {
		b.Header(HeaderRoutingKey, d.RoutingKey)
	}
	b.Header(HeaderRedelivered, d.Redelivered)
	convert.MergeProperties(b, d.Headers)
	return b.Build(), nil
}

func (c Converter) FromMessage(m *message.Message) (amqp.Publishing, error) {
	body, err := convert.PayloadBytes(m.Payload(), c.Codec)
	if err != nil {
		return amqp.Publishing{}, err
	}
	p := amqp.Publishing{
		Body:         body,
		MessageId:    m.ID(),
		ContentType:  m.ContentType(),
		ReplyTo:      m.ReplyTo(),
		DeliveryMode: amqp.Persistent,
	}
	h := m.Headers()
	if ts, ok := h.Get(message.HeaderTimestamp); ok {
		if ts, ok := ts.(time.Time); ok {
			p.Timestamp = ts
		}
	}

	table := amqp.Table{}
	if key := h.String(message.HeaderPartitionKey); key != "" {
		table[message.HeaderPartitionKey] = key
	}
	keys, vals := convert.CustomHeaders(m)
	for _, k := range keys {
		switch k {
		case HeaderCorrelationID:
			p.CorrelationId = fmt.Sprint(vals[k])
		case HeaderRoutingKey, HeaderRedelivered:
		default:
			table[k] = tableValue(vals[k])
		}
	}
	if len(table) > 0 {
		p.Headers = table
	}
	return p, nil
}

// tableValue keeps the field types an AMQP table accepts.
func tableValue(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case nil, string, []byte, bool, time.Time,
		int8, int16, int32, int64, uint8, float32, float64,
		amqp.Decimal, amqp.Table:
		return v
	default:
		return fmt.Sprint(v)
	}
}
