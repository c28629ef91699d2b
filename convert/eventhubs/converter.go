// Package eventhubs converts Event Hubs events. Event Hubs has a native
// message id and content type; reply-to travels as an application
// property.
package eventhubs

import (
	"ackflow/convert"
	"ackflow/message"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
)

const HeaderCorrelationID = "correlationId"

type Converter struct {
	Codec convert.Codec
}

func (c Converter) ToMessage(e *azeventhubs.ReceivedEventData, t convert.Target) (*message.Message, error) {
	payload, err := convert.ExtractPayload(e.Body, t, c.Codec)
	if err != nil {
		return nil, err
	}
	b := message.NewBuilder(payload)
	if e.MessageID != nil {
		b.ID(*e.MessageID)
	}
	if e.ContentType != nil {
		if ct, ok := convert.ParseContentType(*e.ContentType); ok {
			b.ContentType(ct)
		}
	}
	if r, ok := e.Properties[message.HeaderReplyTo].(string); ok {
		b.ReplyTo(r)
	}
	if e.PartitionKey != nil {
		b.Header(message.HeaderPartitionKey, *e.PartitionKey)
	}
	if e.EnqueuedTime != nil {
		b.Header(message.HeaderTimestamp, *e.EnqueuedTime)
	}
	if e.CorrelationID != nil {
		b.Header(HeaderCorrelationID, e.CorrelationID)
	}
	convert.MergeProperties(b, e.Properties)
	return b.Build(), nil
}

func (c Converter) FromMessage(m *message.Message) (*azeventhubs.EventData, error) {
	body, err := convert.PayloadBytes(m.Payload(), c.Codec)
	if err != nil {
		return nil, err
	}
	ed := &azeventhubs.EventData{Body: body, MessageID: to.Ptr(m.ID())}
	if ct := m.ContentType(); ct != "" {
		ed.ContentType = to.Ptr(ct)
	}

	keys, vals := convert.CustomHeaders(m)
	props := make(map[string]any, len(keys)+1)
	for _, k := range keys {
		if k == HeaderCorrelationID {
			ed.CorrelationID = vals[k]
			continue
		}
		props[k] = vals[k]
	}
	if r := m.ReplyTo(); r != "" {
		props[message.HeaderReplyTo] = r
	}
	if len(props) > 0 {
		ed.Properties = props
	}
	return ed, nil
}
