package hub

import (
	"github.com/gaspardpetit/motionstream/internal/frame"
	"github.com/gaspardpetit/motionstream/internal/subscription"
)

// ClientState is the per-connection preference decoded from the client's
// control messages. A nil ClientState wants every topic.
type ClientState interface {
	Wants(topic frame.Topic) bool
}

// StateDecoder turns one inbound control message into a replacement state.
type StateDecoder func(msg []byte) (ClientState, error)

// DecodeSubscription is the default StateDecoder. It reads a topic selector.
func DecodeSubscription(msg []byte) (ClientState, error) {
	s, err := subscription.Decode(msg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func wants(s ClientState, topic frame.Topic) bool {
	return s == nil || s.Wants(topic)
}
