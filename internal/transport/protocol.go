package transport

import (
	"encoding/json"
	"fmt"

	"github.com/watsonu/WebChat-Furia/internal/chat"
)

// Event types exchanged with clients. Every frame is a JSON envelope with a
// type, an optional ack correlation id, and a type-specific data payload.
const (
	eventMessage       = "message"
	eventLoadHistory   = "loadHistory"
	eventError         = "error"
	eventHistoryLoaded = "historyLoaded"
)

type envelope struct {
	Type string          `json:"type"`
	Ack  *int64          `json:"ack,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type messagePayload struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

type errorPayload struct {
	Reason string `json:"reason"`
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var ev envelope
	if err := json.Unmarshal(raw, &ev); err != nil {
		return envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	if ev.Type == "" {
		return envelope{}, fmt.Errorf("frame missing type")
	}
	return ev, nil
}

func decodeMessagePayload(raw json.RawMessage) (messagePayload, error) {
	var p messagePayload
	if len(raw) == 0 {
		return p, fmt.Errorf("message frame missing data")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("malformed message data: %w", err)
	}
	return p, nil
}

// encodeMessageEvent builds the broadcast frame for an accepted message.
func encodeMessageEvent(msg chat.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: eventMessage, Data: data})
}

// encodeErrorEvent builds a sender-only error frame. The reason is the whole
// payload; failed messages carry no other detail to the client.
func encodeErrorEvent(reason string) []byte {
	data, _ := json.Marshal(errorPayload{Reason: reason})
	frame, _ := json.Marshal(envelope{Type: eventError, Data: data})
	return frame
}

// encodeHistoryEvent builds the history replay frame. When the request
// carried an ack the reply echoes it, modelling a callback-style handback;
// without one the frame is a plain pushed event. The payload is identical
// either way.
func encodeHistoryEvent(ack *int64, messages []chat.Message) ([]byte, error) {
	data, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: eventHistoryLoaded, Ack: ack, Data: data})
}
