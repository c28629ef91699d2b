// Package storagequeue converts Azure Storage queue messages. Queue
// messages are text only, so the message travels as the base64 of an
// envelope holding the headers and the raw body. Text that is not an
// envelope is taken as the body verbatim.
package storagequeue

import (
	"encoding/base64"
	"fmt"
	"time"

	"ackflow/convert"
	"ackflow/message"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

type Converter struct {
	Codec convert.Codec
}

// Decode splits queue text into headers and body.
func Decode(text string) (map[string]string, []byte) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, []byte(text)
	}
	hs, body, err := decodeEnvelope(raw)
	if err != nil {
		return nil, []byte(text)
	}
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[h.key] = h.value
	}
	return out, body
}

func (c Converter) ToMessage(m *azqueue.DequeuedMessage, t convert.Target) (*message.Message, error) {
	var text string
	if m.MessageText != nil {
		text = *m.MessageText
	}
	headers, body := Decode(text)
	payload, err := convert.ExtractPayload(body, t, c.Codec)
	if err != nil {
		return nil, err
	}

	b := message.NewBuilder(payload)
	if id := headers[message.HeaderID]; id != "" {
		b.ID(id)
	} else if m.MessageID != nil {
		b.ID(*m.MessageID)
	}
	if ct, ok := convert.ParseContentType(headers[message.HeaderContentType]); ok {
		b.ContentType(ct)
	}
	b.ReplyTo(headers[message.HeaderReplyTo])
	if m.DequeueCount != nil {
		b.Header(message.HeaderDeliveryCount, *m.DequeueCount)
	}
	if m.InsertionTime != nil {
		b.Header(message.HeaderTimestamp, *m.InsertionTime)
	}
	props := make(map[string]any, len(headers))
	for k, v := range headers {
		props[k] = v
	}
	convert.MergeProperties(b, props)
	return b.Build(), nil
}

// FromMessage returns the queue text. Header values other than strings
// are formatted; timestamps use RFC 3339.
func (c Converter) FromMessage(m *message.Message) (string, error) {
	body, err := convert.PayloadBytes(m.Payload(), c.Codec)
	if err != nil {
		return "", err
	}
	hs := []header{{message.HeaderID, m.ID()}}
	if ct := m.ContentType(); ct != "" {
		hs = append(hs, header{message.HeaderContentType, ct})
	}
	if r := m.ReplyTo(); r != "" {
		hs = append(hs, header{message.HeaderReplyTo, r})
	}
	keys, vals := convert.CustomHeaders(m)
	for _, k := range keys {
		hs = append(hs, header{k, format(vals[k])})
	}
	return base64.StdEncoding.EncodeToString(encodeEnvelope(hs, body)), nil
}

func format(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
