package signaling

import "context"

// Transport is the pub/sub relay as seen by one client. Delivery is
// at-least-once and ordered per sender only; Publish is best effort.
type Transport interface {
	// Connect blocks until the relay accepts the subscription or ctx ends.
	Connect(ctx context.Context, peerID string) error
	Publish(ctx context.Context, m *Message) error
	// Subscribe registers h for every inbound message.
	Subscribe(h Handler)
	// OnConnected registers fn to run after every successful (re)connect.
	OnConnected(fn func())
	Close() error
}
