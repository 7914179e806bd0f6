// Package frame defines the unit of data broadcast to clients.
package frame

import (
	"encoding/json"
	"fmt"
)

// Topic names a frame kind and is the key clients filter on.
type Topic string

const (
	// TopicMotion carries tracked bodies and their joints.
	TopicMotion Topic = "motion"
	// TopicBodyIndex carries the raw body index pixel buffer.
	TopicBodyIndex Topic = "bodyIndex"
	// TopicSystem carries host statistics of the streaming machine.
	TopicSystem Topic = "system"
)

// Topics lists every topic the server knows how to produce.
var Topics = []Topic{TopicMotion, TopicBodyIndex, TopicSystem}

// Frame is one already-serialized outbound message and the topic it belongs to.
// Payload must not be modified once the frame has been published.
type Frame struct {
	Topic   Topic
	Payload []byte
}

// Envelope is the wire shape of every outbound message.
type Envelope struct {
	Type    Topic           `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Encode marshals content and wraps it in an envelope for topic.
func Encode(topic Topic, content any) (Frame, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s content: %w", topic, err)
	}
	return EncodeRaw(topic, raw)
}

// EncodeRaw wraps pre-serialized JSON content in an envelope for topic.
func EncodeRaw(topic Topic, content json.RawMessage) (Frame, error) {
	if topic == "" {
		return Frame{}, fmt.Errorf("encode: empty topic")
	}
	b, err := json.Marshal(Envelope{Type: topic, Content: content})
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s envelope: %w", topic, err)
	}
	return Frame{Topic: topic, Payload: b}, nil
}

// Decode parses an envelope received from the server.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
