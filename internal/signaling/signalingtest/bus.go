// Package signalingtest provides an in-memory relay for exercising the room
// protocol without sockets.
package signalingtest

import (
	"context"
	"sync"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/BioHazard786/slotmesh/internal/signaling"
)

// Bus broadcasts every published message to every connected endpoint,
// sender included, in publish order. Messages go through a codec so tests
// see exactly what a socket would carry.
type Bus struct {
	codec signaling.Codec

	mu        sync.Mutex
	endpoints []*Endpoint
	log       []*signaling.Message
	// Duplicate delivers every message twice.
	duplicate bool
	// drop reports whether a message should be lost.
	drop func(*signaling.Message) bool
}

func NewBus() *Bus {
	return &Bus{codec: signaling.JSONCodec{}}
}

// SetDuplicate turns at-least-once duplication on or off.
func (b *Bus) SetDuplicate(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.duplicate = on
}

// SetDrop installs a loss filter; nil delivers everything.
func (b *Bus) SetDrop(fn func(*signaling.Message) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop = fn
}

// Endpoint returns a new unconnected transport on the bus.
func (b *Bus) Endpoint() *Endpoint {
	e := &Endpoint{bus: b, inbox: make(chan []byte, 1024), done: make(chan struct{})}
	go e.deliver()
	return e
}

// Published returns every message published so far.
func (b *Bus) Published() []*signaling.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*signaling.Message(nil), b.log...)
}

// Count returns how many published messages satisfy match.
func (b *Bus) Count(match func(*signaling.Message) bool) int {
	n := 0
	for _, m := range b.Published() {
		if match(m) {
			n++
		}
	}
	return n
}

func (b *Bus) publish(m *signaling.Message) error {
	frame, err := b.codec.Encode(m)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, m)
	if b.drop != nil && b.drop(m) {
		return nil
	}
	copies := 1
	if b.duplicate {
		copies = 2
	}
	for _, e := range b.endpoints {
		for i := 0; i < copies; i++ {
			e.inbox <- frame
		}
	}
	return nil
}

func (b *Bus) attach(e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints = append(b.endpoints, e)
}

func (b *Bus) detach(e *Endpoint) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, other := range b.endpoints {
		if other == e {
			b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
			return true
		}
	}
	return false
}

// Endpoint is one subscriber of a Bus. It implements signaling.Transport.
type Endpoint struct {
	bus   *Bus
	inbox chan []byte
	done  chan struct{}

	mu        sync.Mutex
	peerID    string
	connected bool
	closed    bool
	handlers  []signaling.Handler
	onConnect []func()
}

var _ signaling.Transport = (*Endpoint)(nil)

func (e *Endpoint) Connect(ctx context.Context, peerID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errs.New("connect", errs.ErrClosed)
	}
	e.peerID = peerID
	already := e.connected
	e.connected = true
	hooks := append([]func(){}, e.onConnect...)
	e.mu.Unlock()

	if already {
		return nil
	}
	e.bus.attach(e)
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (e *Endpoint) Publish(ctx context.Context, m *signaling.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	connected := e.connected
	e.mu.Unlock()
	if !connected {
		return errs.Wrap("publish "+string(m.Type), errs.ErrTransport, "not connected")
	}
	return e.bus.publish(m)
}

func (e *Endpoint) Subscribe(h signaling.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

func (e *Endpoint) OnConnected(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConnect = append(e.onConnect, fn)
}

// Drop disconnects the endpoint the way a dead socket would: the bus
// announces presence-leave to everyone else.
func (e *Endpoint) Drop() {
	e.mu.Lock()
	peer := e.peerID
	e.connected = false
	e.mu.Unlock()

	if e.bus.detach(e) && peer != "" {
		_ = e.bus.publish(&signaling.Message{
			Type: signaling.TypePresenceLeave,
			Data: signaling.PresenceLeave{PeerID: peer},
		})
	}
}

// Reconnect re-attaches a dropped endpoint and fires the connect hooks.
func (e *Endpoint) Reconnect() error {
	e.mu.Lock()
	peer := e.peerID
	e.mu.Unlock()
	return e.Connect(context.Background(), peer)
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.connected = false
	e.mu.Unlock()

	e.bus.detach(e)
	close(e.done)
	return nil
}

func (e *Endpoint) deliver() {
	for {
		select {
		case frame := <-e.inbox:
			m, err := e.bus.codec.Decode(frame)
			if err != nil {
				continue
			}
			e.mu.Lock()
			handlers := e.handlers
			e.mu.Unlock()
			for _, h := range handlers {
				h(m)
			}
		case <-e.done:
			return
		}
	}
}
