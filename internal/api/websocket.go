package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/paper-theater/kamishibai/internal/events"
	"github.com/paper-theater/kamishibai/internal/metrics"
)

const (
	// replayDepth is how many buffered events a fresh client gets on connect.
	replayDepth = 50

	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait bounds the gap between pongs before the read side gives up.
	pongWait = 60 * time.Second

	// pingPeriod must stay under pongWait.
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Stage panels and the operator console are not same-origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feedClient is one /ws/events connection: a feed tap plus the socket it
// drains into.
type feedClient struct {
	conn *websocket.Conn
	sub  *events.Subscription
}

// wsEventsHandler streams the event feed to a WebSocket client. The last
// replayDepth events are replayed on connect so late joiners see context.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &feedClient{conn: conn, sub: events.Subscribe()}
	metrics.WSClients.Inc()
	defer func() {
		metrics.WSClients.Dec()
		c.sub.Close()
		c.conn.Close()
	}()

	if err := c.replay(); err != nil {
		logger.Warn("ws replay failed", zap.Error(err))
		return
	}

	c.run()
}

// replay writes the recent event window to the client.
func (c *feedClient) replay() error {
	for _, e := range events.RecentEvents(replayDepth) {
		if err := c.writeEvent(e); err != nil {
			return err
		}
	}
	return nil
}

// run pumps live events and pings until the peer goes away.
func (c *feedClient) run() {
	closed := c.watchPeer()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case e, ok := <-c.sub.C:
			if !ok {
				// Feed shut down under us.
				return
			}
			if err := c.writeEvent(e); err != nil {
				logger.Warn("ws write event failed", zap.Error(err))
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

// watchPeer reads from the socket for pongs and close frames. The returned
// channel closes when the peer does.
func (c *feedClient) watchPeer() <-chan struct{} {
	closed := make(chan struct{})
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}

// writeEvent sends one event frame. An event that will not marshal is
// dropped rather than killing the stream.
func (c *feedClient) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
