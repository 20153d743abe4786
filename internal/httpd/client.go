package httpd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/coedit/internal/editor"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// maxMessageSize bounds inbound frames. Edits carry whole documents,
	// so this is generous rather than tight.
	maxMessageSize = 1 << 20
)

// Client message types.
const (
	msgEdit   = "edit"
	msgCursor = "cursor"
	msgPing   = "ping"
	msgSave   = "save"
	msgClose  = "close"
)

// clientMessage is one inbound JSON frame.
type clientMessage struct {
	Type    string         `json:"type"`
	Content string         `json:"content,omitempty"`
	Cursor  *editor.Cursor `json:"cursor,omitempty"`
}

// wsClient owns one WebSocket connection: a read pump dispatching client
// messages into the engine, and a write pump draining the subscription.
// Teardown detaches the participant exactly once no matter which pump
// dies first.
type wsClient struct {
	conn     *websocket.Conn
	eng      *editor.Engine
	sub      *editor.Subscription
	path     string
	clientID string
	stale    time.Duration
	log      *slog.Logger

	once sync.Once
}

func newWSClient(s *Server, conn *websocket.Conn, sub *editor.Subscription, path, clientID string) *wsClient {
	return &wsClient{
		conn:     conn,
		eng:      s.eng,
		sub:      sub,
		path:     path,
		clientID: clientID,
		stale:    s.stale,
		log:      s.log,
	}
}

// writePump drains the subscription onto the wire. Keepalive events
// become ping control frames; everything else goes out as JSON. Exits
// when the channel closes (detach, eviction, engine shutdown) or a write
// fails, and drops the connection so the read pump unblocks too.
func (c *wsClient) writePump() {
	defer c.teardown()

	for ev := range c.sub.Events() {
		deadline := time.Now().Add(writeWait)
		if ev.Kind == editor.EventKeepalive {
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug("ping write failed", "client", c.clientID, "error", err)
				return
			}
			continue
		}

		_ = c.conn.SetWriteDeadline(deadline)
		if err := c.conn.WriteJSON(ev); err != nil {
			c.log.Debug("event write failed", "client", c.clientID, "kind", ev.Kind, "error", err)
			return
		}
	}
}

// readPump dispatches inbound frames until the connection dies or the
// client says close. The read deadline doubles as the transport-level
// staleness cut; pongs to our keepalive pings refresh it and count as
// heartbeats.
func (c *wsClient) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.stale))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.stale))
		_ = c.eng.Heartbeat(c.clientID)
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", "client", c.clientID, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.stale))

		if msg.Type == msgClose {
			return
		}
		if err := c.dispatch(msg); err != nil {
			if editor.IsClientNotFound(err) || editor.IsSessionNotFound(err) {
				// Evicted or closed under us; the channel close is on
				// its way.
				return
			}
			c.log.Warn("client message failed",
				"client", c.clientID,
				"type", msg.Type,
				"error", err,
			)
		}
	}
}

func (c *wsClient) dispatch(msg clientMessage) error {
	ctx := context.Background()
	switch msg.Type {
	case msgEdit:
		return c.eng.Edit(ctx, c.path, c.clientID, msg.Content)
	case msgCursor:
		if msg.Cursor == nil {
			return nil
		}
		return c.eng.MoveCursor(c.clientID, *msg.Cursor)
	case msgPing:
		return c.eng.Heartbeat(c.clientID)
	case msgSave:
		// A failed save already reached every subscriber as an event.
		_, err := c.eng.Save(ctx, c.path)
		return err
	default:
		c.log.Debug("unknown message type", "client", c.clientID, "type", msg.Type)
		return nil
	}
}

// teardown detaches from the engine and closes the socket. Safe to call
// from both pumps.
func (c *wsClient) teardown() {
	c.once.Do(func() {
		if err := c.eng.Close(context.Background(), c.path, c.clientID); err != nil {
			c.log.Warn("detach failed", "client", c.clientID, "path", c.path, "error", err)
		}
		c.sub.Close()
		_ = c.conn.Close()
		c.log.Info("client disconnected", "client", c.clientID, "path", c.path)
	})
}
