package signaling

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/BioHazard786/slotmesh/internal/logging"
	"github.com/BioHazard786/slotmesh/internal/netutil"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outgoingQueue  = 64

	defaultRetryMin = 250 * time.Millisecond
	defaultRetryMax = 5 * time.Second
)

// Client is the websocket Transport. It keeps one socket to the relay,
// redialing in the background when it drops.
type Client struct {
	serverURL string
	room      string
	codec     Codec
	dialer    *websocket.Dialer
	log       zerolog.Logger

	RetryMin time.Duration
	RetryMax time.Duration

	life   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	peerID    string
	conn      *websocket.Conn
	handlers  []Handler
	onConnect []func()
	closed    bool

	outgoing chan []byte
}

// NewClient creates a client for the relay at serverURL scoped to room.
func NewClient(serverURL, room string, codec Codec) *Client {
	if codec == nil {
		codec = JSONCodec{}
	}
	life, cancel := context.WithCancel(context.Background())
	return &Client{
		serverURL: serverURL,
		room:      room,
		codec:     codec,
		dialer: &websocket.Dialer{
			HandshakeTimeout: writeWait,
			NetDialContext:   netutil.DialContext,
		},
		log:      logging.For("signaling"),
		RetryMin: defaultRetryMin,
		RetryMax: defaultRetryMax,
		life:     life,
		cancel:   cancel,
		outgoing: make(chan []byte, outgoingQueue),
	}
}

func (c *Client) Subscribe(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Client) OnConnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Connect dials the relay, retrying with backoff until it succeeds, ctx is
// done or the client is closed.
func (c *Client) Connect(ctx context.Context, peerID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.New("connect", errs.ErrClosed)
	}
	c.peerID = peerID
	c.mu.Unlock()

	target, err := c.endpoint(peerID)
	if err != nil {
		return errs.New("connect", errs.Join(errs.ErrTransport, err))
	}
	return c.dialLoop(ctx, target)
}

func (c *Client) endpoint(peerID string) (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("room", c.room)
	q.Set("peer", peerID)
	q.Set("codec", c.codec.Name())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dialLoop(ctx context.Context, target string) error {
	delay := c.RetryMin
	for attempt := 1; ; attempt++ {
		conn, _, err := c.dialer.DialContext(ctx, target, nil)
		if err == nil {
			c.attach(conn)
			return nil
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("relay dial failed")

		select {
		case <-ctx.Done():
			return errs.New("connect", errs.Join(errs.ErrTransport, ctx.Err()))
		case <-c.life.Done():
			return errs.New("connect", errs.ErrClosed)
		case <-time.After(delay):
		}
		delay = min(delay*2, c.RetryMax)
	}
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	hooks := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	go c.readPump(conn, stop)
	go c.writePump(conn, stop)

	c.log.Info().Str("room", c.room).Str("codec", c.codec.Name()).Msg("relay connected")
	for _, fn := range hooks {
		fn()
	}
}

// readPump decodes frames from conn and hands them to subscribers. When the
// socket fails it triggers a redial unless the client is closing.
func (c *Client) readPump(conn *websocket.Conn, stop chan struct{}) {
	defer func() {
		close(stop)
		conn.Close()
		c.detach(conn)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("relay read failed")
			}
			return
		}

		msg, err := c.codec.Decode(frame)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}

		c.mu.Lock()
		handlers := c.handlers
		c.mu.Unlock()
		for _, h := range handlers {
			h(msg)
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(c.codec.FrameType(), frame); err != nil {
				c.log.Warn().Err(err).Msg("relay write failed, message lost")
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-stop:
			return

		case <-c.life.Done():
			c.flush(conn)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued so a final leave-slot is not lost
// on shutdown.
func (c *Client) flush(conn *websocket.Conn) {
	for {
		select {
		case frame := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(c.codec.FrameType(), frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed, peerID := c.closed, c.peerID
	c.mu.Unlock()

	if closed {
		return
	}
	c.log.Warn().Msg("relay connection lost, redialing")
	go func() {
		target, err := c.endpoint(peerID)
		if err != nil {
			return
		}
		if err := c.dialLoop(c.life, target); err != nil {
			c.log.Debug().Err(err).Msg("redial abandoned")
		}
	}()
}

// Connected reports whether a socket is currently attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Publish queues m for the relay. It never blocks: when the socket is down
// or the queue is full the message is lost and an ErrTransport is returned.
func (c *Client) Publish(ctx context.Context, m *Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	closed, connected := c.closed, c.conn != nil
	c.mu.Unlock()
	if closed {
		return errs.New("publish "+string(m.Type), errs.Join(errs.ErrTransport, errs.ErrClosed))
	}
	if !connected {
		return errs.Wrap("publish "+string(m.Type), errs.ErrTransport, "not connected")
	}

	frame, err := c.codec.Encode(m)
	if err != nil {
		return errs.New("publish "+string(m.Type), errs.Join(errs.ErrTransport, err))
	}

	select {
	case c.outgoing <- frame:
		return nil
	case <-ctx.Done():
		return errs.New("publish "+string(m.Type), errs.Join(errs.ErrTransport, ctx.Err()))
	default:
		return errs.Wrap("publish "+string(m.Type), errs.ErrTransport, "outgoing queue full")
	}
}

// Close shuts the socket down and stops redialing.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		// Give the write pump a moment to send the close frame.
		time.AfterFunc(writeWait, func() { conn.Close() })
	}
	return nil
}
