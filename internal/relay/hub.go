package relay

import (
	"context"
	"time"

	"github.com/BioHazard786/slotmesh/internal/config"
	"github.com/BioHazard786/slotmesh/internal/logging"
	"github.com/BioHazard786/slotmesh/internal/signaling"
	"github.com/rs/zerolog"
)

// Options tunes the websocket side of the relay.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

func DefaultOptions() Options {
	return Options{ReadLimit: defaultReadLimit, PingPeriod: (pongWait * 9) / 10}
}

func OptionsFrom(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.ReadLimit > 0 {
		opts.ReadLimit = cfg.ReadLimit
	}
	if cfg.PingPeriod > 0 {
		opts.PingPeriod = cfg.PingPeriod
	}
	return opts
}

// pongWait must exceed the ping period so a healthy peer is never timed out.
func (o Options) pongWait() time.Duration {
	return (o.PingPeriod * 10) / 9
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Rooms   int `json:"rooms"`
	Clients int `json:"clients"`
}

// Hub is the central brain of the relay.
// It owns every room and client; only the Run goroutine touches them.
type Hub struct {
	opts Options
	log  zerolog.Logger

	rooms   map[string]*Room
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan inbound
	stats      chan chan Stats

	done chan struct{}
}

func NewHub(opts Options) *Hub {
	return &Hub{
		opts:       opts,
		log:        logging.For("relay"),
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan inbound),
		stats:      make(chan chan Stats),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main processing loop. It returns when ctx is done,
// after closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			room, ok := h.rooms[c.RoomID]
			if !ok {
				room = newRoom(c.RoomID)
				h.rooms[c.RoomID] = room
				h.log.Info().Str("room", room.ID).Msg("room created")
			}
			room.members[c] = struct{}{}
			h.clients[c] = struct{}{}
			c.log.Info().Int("members", room.Len()).Msg("client joined room")

		case c := <-h.unregister:
			h.remove(c)

		case in := <-h.broadcast:
			h.forward(in)

		case reply := <-h.stats:
			reply <- Stats{Rooms: len(h.rooms), Clients: len(h.clients)}

		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			h.clients = map[*Client]struct{}{}
			h.rooms = map[string]*Room{}
			h.log.Info().Msg("hub stopped")
			return
		}
	}
}

// forward hands a frame to every other member of the sender's room. A
// member whose queue is full is dropped rather than stalling the room.
func (h *Hub) forward(in inbound) {
	if _, ok := h.clients[in.from]; !ok {
		return
	}
	room := h.rooms[in.from.RoomID]
	if room == nil {
		return
	}
	var slow []*Client
	for c := range room.members {
		if c == in.from {
			continue
		}
		select {
		case c.send <- in.frame:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		c.log.Warn().Msg("send queue full, dropping client")
		h.remove(c)
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)

	room := h.rooms[c.RoomID]
	if room == nil {
		return
	}
	delete(room.members, c)
	c.log.Info().Int("members", room.Len()).Msg("client left room")

	if room.Len() == 0 {
		delete(h.rooms, room.ID)
		h.log.Info().Str("room", room.ID).Msg("room deleted")
		return
	}
	if c.PeerID != "" {
		h.announceLeave(room, c.PeerID)
	}
}

// announceLeave tells the rest of the room that peerID is gone, encoded
// in whichever codec each member speaks.
func (h *Hub) announceLeave(room *Room, peerID string) {
	msg := signaling.New("", signaling.PresenceLeave{PeerID: peerID})
	encoded := make(map[string]frame, 2)

	for c := range room.members {
		f, ok := encoded[c.codec.Name()]
		if !ok {
			data, err := c.codec.Encode(msg)
			if err != nil {
				h.log.Error().Err(err).Str("codec", c.codec.Name()).Msg("encode presence-leave")
				continue
			}
			f = frame{kind: c.codec.FrameType(), data: data}
			encoded[c.codec.Name()] = f
		}
		select {
		case c.send <- f:
		default:
		}
	}
}

// Stats asks the hub loop for its current counts.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, context.Canceled
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(in inbound) bool {
	select {
	case h.broadcast <- in:
		return true
	case <-h.done:
		return false
	}
}
