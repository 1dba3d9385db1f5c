package www

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/mhaase/strompreis-go/fanout"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	clientQueueSize = 64
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client bridges one websocket connection to the fan-out hub. Every
// client owns its own bounded subscription, so a stalled connection
// only loses its own events.
type Client struct {
	logger *slog.Logger
	hub    *fanout.Hub
	sub    *fanout.Subscriber
	conn   *ws.Conn
}

func NewClient(logger *slog.Logger, hub *fanout.Hub, w http.ResponseWriter, r *http.Request, name string) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		logger: logger.With(slog.String("client", name)),
		hub:    hub,
		sub:    hub.Subscribe(name, clientQueueSize),
		conn:   conn,
	}, nil
}

// WritePump forwards fan-out events to the connection until it breaks.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.hub.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("web socket set write deadline failed", slog.Any("error", err))
				return
			}

			if !ok {
				if err := c.conn.WriteMessage(ws.CloseMessage, []byte{}); err != nil {
					c.logger.Warn("web socket close message failed", slog.Any("error", err))
				}
				return
			}

			payload, err := json.Marshal(ev)
			if err != nil {
				c.logger.Error("event marshalling failed", slog.Any("error", err))
				continue
			}

			if err := c.conn.WriteMessage(ws.TextMessage, payload); err != nil {
				c.logger.Warn("web socket write failed", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("web socket set write deadline failed", slog.Any("error", err))
				return
			}
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				c.logger.Warn("web socket ping message failed", slog.Any("error", err))
				return
			}
		}
	}
}

// ReadPump drains and discards client frames so pongs are processed and
// a closed peer is noticed.
func (c *Client) ReadPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(512)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
