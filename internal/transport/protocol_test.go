package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watsonu/WebChat-Furia/internal/chat"
)

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	req := require.New(t)

	_, err := decodeEnvelope([]byte("not json"))
	req.Error(err)

	_, err = decodeEnvelope([]byte(`{"data":{}}`))
	req.Error(err, "type is required")

	ev, err := decodeEnvelope([]byte(`{"type":"loadHistory","ack":7}`))
	req.NoError(err)
	req.Equal(eventLoadHistory, ev.Type)
	req.NotNil(ev.Ack)
	req.EqualValues(7, *ev.Ack)
}

func TestEncodeMessageEventShape(t *testing.T) {
	req := require.New(t)

	msg := chat.Message{
		ID:        "abc-123",
		Author:    "Ana",
		Body:      "gl furia",
		CreatedAt: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	frame, err := encodeMessageEvent(msg)
	req.NoError(err)

	var ev envelope
	req.NoError(json.Unmarshal(frame, &ev))
	req.Equal(eventMessage, ev.Type)
	req.Nil(ev.Ack)

	var got chat.Message
	req.NoError(json.Unmarshal(ev.Data, &got))
	req.Equal(msg, got)
}

func TestEncodeHistoryEventEchoesAck(t *testing.T) {
	req := require.New(t)

	ack := int64(42)
	withAck, err := encodeHistoryEvent(&ack, []chat.Message{})
	req.NoError(err)

	withoutAck, err := encodeHistoryEvent(nil, []chat.Message{})
	req.NoError(err)

	var evAck, evPlain envelope
	req.NoError(json.Unmarshal(withAck, &evAck))
	req.NoError(json.Unmarshal(withoutAck, &evPlain))

	req.Equal(eventHistoryLoaded, evAck.Type)
	req.NotNil(evAck.Ack)
	req.EqualValues(42, *evAck.Ack)
	req.Nil(evPlain.Ack)

	// Both delivery modes carry the identical payload.
	req.JSONEq(string(evAck.Data), string(evPlain.Data))
}

func TestEncodeErrorEventShape(t *testing.T) {
	req := require.New(t)

	var ev envelope
	req.NoError(json.Unmarshal(encodeErrorEvent("invalid author: required"), &ev))
	req.Equal(eventError, ev.Type)

	var p errorPayload
	req.NoError(json.Unmarshal(ev.Data, &p))
	req.Equal("invalid author: required", p.Reason)
}
