// Package subscription decodes the topic selection a client sends over its
// connection and answers whether a topic is wanted.
package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/gaspardpetit/motionstream/internal/frame"
)

// Wildcard selects every topic when present in the topic list.
const Wildcard = "*"

// ErrEmpty is returned when a control message carries no bytes.
var ErrEmpty = errors.New("subscription: empty message")

// Request is the inbound control message.
//
// A missing or null topics field selects every topic; an empty list selects
// none.
type Request struct {
	Topics []string `json:"topics"`
}

// Selector is an immutable set of wanted topics.
type Selector struct {
	all    bool
	topics map[frame.Topic]struct{}
}

// All returns a selector that wants every topic.
func All() *Selector { return &Selector{all: true} }

// Only returns a selector for exactly the given topics.
func Only(topics ...frame.Topic) *Selector {
	s := &Selector{topics: make(map[frame.Topic]struct{}, len(topics))}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	return s
}

// Decode parses a control message into a Selector.
func Decode(b []byte) (*Selector, error) {
	if len(b) == 0 {
		return nil, ErrEmpty
	}
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("subscription: %w", err)
	}
	return FromRequest(req), nil
}

// FromRequest builds a Selector from an already decoded request.
func FromRequest(req Request) *Selector {
	if req.Topics == nil {
		return All()
	}
	s := &Selector{topics: make(map[frame.Topic]struct{}, len(req.Topics))}
	for _, t := range req.Topics {
		if t == Wildcard {
			return All()
		}
		s.topics[frame.Topic(t)] = struct{}{}
	}
	return s
}

// Wants reports whether frames of topic should be delivered.
func (s *Selector) Wants(topic frame.Topic) bool {
	if s == nil || s.all {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// Topics returns the selected topics sorted, or nil when every topic is wanted.
func (s *Selector) Topics() []string {
	if s == nil || s.all {
		return nil
	}
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// String renders the selector for logs.
func (s *Selector) String() string {
	if s == nil || s.all {
		return Wildcard
	}
	return fmt.Sprint(s.Topics())
}

// MarshalJSON encodes the selector in request form.
func (s *Selector) MarshalJSON() ([]byte, error) {
	if s == nil || s.all {
		return json.Marshal(Request{Topics: []string{Wildcard}})
	}
	return json.Marshal(Request{Topics: s.Topics()})
}
