package subscription

import (
	"errors"
	"testing"

	"github.com/gaspardpetit/motionstream/internal/frame"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		msg   string
		wants map[frame.Topic]bool
	}{
		{"absent topics", `{}`, map[frame.Topic]bool{frame.TopicMotion: true, frame.TopicBodyIndex: true}},
		{"null topics", `{"topics":null}`, map[frame.Topic]bool{frame.TopicMotion: true, frame.TopicBodyIndex: true}},
		{"empty list", `{"topics":[]}`, map[frame.Topic]bool{frame.TopicMotion: false, frame.TopicBodyIndex: false}},
		{"single", `{"topics":["motion"]}`, map[frame.Topic]bool{frame.TopicMotion: true, frame.TopicBodyIndex: false}},
		{"wildcard", `{"topics":["motion","*"]}`, map[frame.Topic]bool{frame.TopicSystem: true, frame.TopicBodyIndex: true}},
		{"unknown fields ignored", `{"topics":["bodyIndex"],"fps":30}`, map[frame.Topic]bool{frame.TopicBodyIndex: true, frame.TopicMotion: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Decode([]byte(tt.msg))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			for topic, want := range tt.wants {
				if got := s.Wants(topic); got != want {
					t.Fatalf("Wants(%s) = %v; want %v", topic, got, want)
				}
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	for _, msg := range []string{`not json`, `["motion"]`, `{"topics":"motion"}`} {
		if _, err := Decode([]byte(msg)); err == nil {
			t.Fatalf("expected error for %s", msg)
		}
	}
}

func TestNilSelectorWantsEverything(t *testing.T) {
	var s *Selector
	if !s.Wants(frame.TopicMotion) {
		t.Fatalf("nil selector must want every topic")
	}
	if s.String() != Wildcard {
		t.Fatalf("String() = %q", s.String())
	}
}

func TestMarshalJSON(t *testing.T) {
	b, err := Only(frame.TopicMotion, frame.TopicBodyIndex).MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"topics":["bodyIndex","motion"]}` {
		t.Fatalf("got %s", b)
	}
	b, _ = All().MarshalJSON()
	if string(b) != `{"topics":["*"]}` {
		t.Fatalf("got %s", b)
	}
}
