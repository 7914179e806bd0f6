package frame

import (
	"encoding/json"
	"testing"
)

func TestEncodeEnvelope(t *testing.T) {
	f, err := Encode(TopicMotion, map[string]any{"bodies": []int{1, 2}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if f.Topic != TopicMotion {
		t.Fatalf("topic = %q", f.Topic)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(f.Payload, &got); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if string(got["type"]) != `"motion"` {
		t.Fatalf("type = %s", got["type"])
	}
	if string(got["content"]) != `{"bodies":[1,2]}` {
		t.Fatalf("content = %s", got["content"])
	}

	env, err := Decode(f.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != TopicMotion {
		t.Fatalf("decoded type = %q", env.Type)
	}
}

func TestEncodeRejectsEmptyTopic(t *testing.T) {
	if _, err := EncodeRaw("", json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected error for empty topic")
	}
}

func TestEncodeUnsupportedContent(t *testing.T) {
	if _, err := Encode(TopicSystem, make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
}
