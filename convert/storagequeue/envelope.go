package storagequeue

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope layout:
//
//	1: repeated header { 1: key, 2: value }
//	2: body
const (
	fieldHeader protowire.Number = 1
	fieldBody   protowire.Number = 2
	fieldKey    protowire.Number = 1
	fieldValue  protowire.Number = 2
)

type header struct {
	key, value string
}

var errEnvelope = errors.New("malformed envelope")

func encodeEnvelope(headers []header, body []byte) []byte {
	var b []byte
	for _, h := range headers {
		var e []byte
		e = protowire.AppendTag(e, fieldKey, protowire.BytesType)
		e = protowire.AppendString(e, h.key)
		e = protowire.AppendTag(e, fieldValue, protowire.BytesType)
		e = protowire.AppendString(e, h.value)
		b = protowire.AppendTag(b, fieldHeader, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func decodeEnvelope(b []byte) (headers []header, body []byte, err error) {
	sawBody := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldHeader && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, nil, protowire.ParseError(n)
			}
			h, err := decodeHeader(v)
			if err != nil {
				return nil, nil, err
			}
			headers = append(headers, h)
			b = b[n:]
		case num == fieldBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, nil, protowire.ParseError(n)
			}
			body, sawBody = v, true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if !sawBody {
		return nil, nil, errEnvelope
	}
	return headers, body, nil
}

func decodeHeader(b []byte) (header, error) {
	var h header
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 || typ != protowire.BytesType {
			return h, errEnvelope
		}
		b = b[n:]
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return h, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldKey:
			h.key = v
		case fieldValue:
			h.value = v
		}
	}
	if h.key == "" {
		return h, errEnvelope
	}
	return h, nil
}
