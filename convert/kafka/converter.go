// Package kafka converts sarama records. Kafka has no message id or
// content type of its own; both travel as record headers.
package kafka

import (
	"fmt"
	"time"

	"ackflow/convert"
	"ackflow/message"

	"github.com/IBM/sarama"
)

type Converter struct {
	Codec convert.Codec
}

func (c Converter) ToMessage(r *sarama.ConsumerMessage, t convert.Target) (*message.Message, error) {
	payload, err := convert.ExtractPayload(r.Value, t, c.Codec)
	if err != nil {
		return nil, err
	}
	b := message.NewBuilder(payload)
	props := make(map[string]any, len(r.Headers))
	for _, h := range r.Headers {
		if h == nil {
			continue
		}
		k, v := string(h.Key), string(h.Value)
		switch k {
		case message.HeaderID:
			b.ID(v)
		case message.HeaderContentType:
			if ct, ok := convert.ParseContentType(v); ok {
				b.ContentType(ct)
			}
		case message.HeaderReplyTo:
			b.ReplyTo(v)
		default:
			props[k] = v
		}
	}
	if len(r.Key) > 0 {
		b.Header(message.HeaderPartitionKey, string(r.Key))
	}
	if !r.Timestamp.IsZero() {
		b.Header(message.HeaderTimestamp, r.Timestamp)
	}
	convert.MergeProperties(b, props)
	return b.Build(), nil
}

func (c Converter) FromMessage(m *message.Message) (*sarama.ProducerMessage, error) {
	body, err := convert.PayloadBytes(m.Payload(), c.Codec)
	if err != nil {
		return nil, err
	}
	pm := &sarama.ProducerMessage{Value: sarama.ByteEncoder(body)}

	h := m.Headers()
	if key := h.String(message.HeaderPartitionKey); key != "" {
		pm.Key = sarama.StringEncoder(key)
	}
	if ts, ok := h.Get(message.HeaderTimestamp); ok {
		if t, ok := ts.(time.Time); ok {
			pm.Timestamp = t
		}
	}
	add := func(k, v string) {
		if v != "" {
			pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
		}
	}
	add(message.HeaderID, m.ID())
	add(message.HeaderContentType, m.ContentType())
	add(message.HeaderReplyTo, m.ReplyTo())

	keys, vals := convert.CustomHeaders(m)
	for _, k := range keys {
		switch v := vals[k].(type) {
		case []byte:
			pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: v})
		case string:
			add(k, v)
		default:
			add(k, fmt.Sprint(v))
		}
	}
	return pm, nil
}
