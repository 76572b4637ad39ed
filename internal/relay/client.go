package relay

import (
	"time"

	"github.com/BioHazard786/slotmesh/internal/signaling"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Default maximum message size allowed from peer; SDP fits easily.
	defaultReadLimit = 64 * 1024

	sendBuffer = 256
)

// frame is one websocket message as received, forwarded untouched.
type frame struct {
	kind int
	data []byte
}

type inbound struct {
	from  *Client
	frame frame
}

// Client is a wrapper for a single websocket connection (a peer)
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// ID identifies the socket in logs.
	ID string
	// RoomID is the broadcast scope from the "room" query parameter.
	RoomID string
	// PeerID is the peer id the socket declared, "" if none. It is
	// announced in presence-leave when the socket goes away.
	PeerID string
	codec  signaling.Codec

	// send is a buffered channel for all outbound frames.
	send chan frame
	log  zerolog.Logger
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.pongWait()))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("read failed")
			}
			return
		}
		if !c.hub.submit(inbound{from: c, frame: frame{kind: kind, data: data}}) {
			return
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
