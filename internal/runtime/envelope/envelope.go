// Package envelope implements the wire format romeways uses to carry a payload
// together with the number of times it has been resent.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsoncodec "github.com/drblury/romeways/internal/runtime/jsoncodec"
)

const (
	payloadField     = "payload"
	resendTimesField = "rw_resend_times"
)

// Message is a decoded queue message as seen by callbacks.
type Message struct {
	Payload     string
	ResendCount int
}

// wireMessage fixes the field order of the encoded form.
type wireMessage struct {
	Payload     string `json:"payload"`
	ResendTimes int    `json:"rw_resend_times"`
}

// Decode parses raw connector bytes. Input that is not a well-formed envelope
// is accepted as a bare payload with a resend count of zero, so producers that
// know nothing about romeways can still feed a queue.
func Decode(raw []byte) Message {
	if msg, ok := decodeEnvelope(raw); ok {
		return msg
	}
	return Message{Payload: string(raw)}
}

func decodeEnvelope(raw []byte) (Message, bool) {
	var fields map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Message{}, false
	}

	rawPayload, ok := fields[payloadField]
	if !ok {
		return Message{}, false
	}
	rawCount, ok := fields[resendTimesField]
	if !ok || isNull(rawCount) {
		return Message{}, false
	}

	var count int
	if err := jsoncodec.Unmarshal(rawCount, &count); err != nil || count < 0 {
		return Message{}, false
	}

	payload, ok := payloadText(rawPayload)
	if !ok {
		return Message{}, false
	}
	return Message{Payload: payload, ResendCount: count}, true
}

// payloadText stores string payloads verbatim and any other JSON value as its
// compact text form.
func payloadText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := jsoncodec.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", false
	}
	return buf.String(), true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Encode serialises m as {"payload":...,"rw_resend_times":...}.
func Encode(m Message) ([]byte, error) {
	if m.ResendCount < 0 {
		return nil, fmt.Errorf("envelope: negative resend count %d", m.ResendCount)
	}
	return jsoncodec.Marshal(wireMessage{Payload: m.Payload, ResendTimes: m.ResendCount})
}

// Resent returns a copy of m with the resend count incremented by one.
func (m Message) Resent() Message {
	m.ResendCount++
	return m
}

func (m Message) String() string {
	return fmt.Sprintf("Message(payload=%q, resend_count=%d)", m.Payload, m.ResendCount)
}
