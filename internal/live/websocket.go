package live

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultSendBuffer   = 64
	maxClientMessage    = 4096
)

// ConnConfig tunes websocket subscribers.
type ConnConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	return c
}

// Conn is a Subscriber backed by a websocket connection. Events are queued in
// a bounded buffer and written by a single writer goroutine.
type Conn struct {
	ws     *websocket.Conn
	cfg    ConnConfig
	out    chan crawler.Event
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewConn wraps an upgraded websocket connection.
func NewConn(ws *websocket.Conn, cfg ConnConfig, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Conn{
		ws:     ws,
		cfg:    cfg,
		out:    make(chan crawler.Event, cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues evt for writing. It returns false when the connection is closed
// or its buffer is full.
func (c *Conn) Send(evt crawler.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- evt:
		return true
	default:
		return false
	}
}

// Close sends a close frame and tears down the connection. Safe to call more
// than once and from any goroutine.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
	})
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Serve registers c for taskID and blocks until the peer disconnects or c is
// evicted, then removes the registration.
func (r *Registry) Serve(taskID string, c *Conn) {
	r.Register(taskID, c)
	defer r.Unregister(taskID, c)
	defer c.Close()

	go c.writeLoop()
	c.readLoop()
}

// readLoop discards client frames; any read error ends the subscription.
func (c *Conn) readLoop() {
	c.ws.SetReadLimit(maxClientMessage)
	wait := 2 * c.cfg.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(wait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("live connection read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(wait))
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case evt := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(evt); err != nil {
				c.logger.Debug("live write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.Close()
				return
			}
		}
	}
}
