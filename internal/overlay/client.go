package overlay

import (
	"context"
	"encoding/json"
	"errors"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"alfred/internal/router"
)

var ErrNotConnected = errors.New("not connected")

// View is a snapshot as a display decodes it.
type View struct {
	Mode       string       `json:"mode"`
	Transcript string       `json:"transcript"`
	Response   string       `json:"response"`
	Action     string       `json:"action"`
	Payload    any          `json:"payload"`
	Visual     *router.Card `json:"visual"`
	MicArmed   bool         `json:"mic_armed"`
	Audio      *AudioView   `json:"audio"`
	Changed    time.Time    `json:"changed"`
}

type AudioView struct {
	Source   string  `json:"source"`
	Label    string  `json:"label"`
	Duration float64 `json:"duration"`
}

// Client follows a hub, redialling after every lost connection.
type Client struct {
	url   string
	retry time.Duration

	mu   sync.Mutex
	conn *ws.Conn
}

func NewClient(url string, retry time.Duration) *Client {
	return &Client{url: url, retry: retry}
}

// Run delivers every snapshot to onView until ctx is done.
func (c *Client) Run(ctx context.Context, onView func(View)) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.setConn(conn)

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		err = c.read(conn, onView)
		stop()
		c.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Lost hub connection", "url", c.url, "err", err)
	}
}

// Send issues a display command on the current connection.
func (c *Client) Send(kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(Command{Kind: kind})
}

func (c *Client) dial(ctx context.Context) (*ws.Conn, error) {
	for {
		conn, _, err := ws.DefaultDialer.DialContext(ctx, c.url, nil)
		if err == nil {
			log.Info("Connected to hub", "url", c.url)
			return conn, nil
		}
		log.Debug("Dial failed", "url", c.url, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retry):
		}
	}
}

func (c *Client) read(conn *ws.Conn, onView func(View)) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var v View
		if err := json.Unmarshal(msg, &v); err != nil {
			log.Warn("Failed to parse snapshot", "err", err)
			continue
		}
		onView(v)
	}
}

func (c *Client) setConn(conn *ws.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}
