package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lemme-x/LiveStream/internal/platform/metrics"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// sendQueueSize bounds the per-connection outbound queue. A consumer
	// that falls this far behind is disconnected rather than skipped, so a
	// connection never observes reordered or gapped counts.
	sendQueueSize = 32

	writeTimeout = 10 * time.Second
)

// Client->server message tags.
const (
	msgJoinAsStreamer = "joinAsStreamer"
	msgJoinAsViewer   = "joinAsViewer"
)

type clientMessage struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId"`
}

type viewerCountMessage struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type streamerConnectedMessage struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId"`
}

// Hub accepts presence WebSocket connections and dispatches their join
// messages into the Registry. A transport-level disconnect is the implicit
// leave: the read loop's deferred cleanup runs exactly once per connection,
// and the registry's idempotent removal absorbs any redundant signal.
type Hub struct {
	registry *Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewHub returns a Hub backed by reg. Metrics may be nil.
func NewHub(reg *Registry, log *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{registry: reg, log: log, metrics: m}
}

// ServeWS handles GET /ws. Messages are JSON text frames; malformed or
// unknown messages are logged and ignored, never fatal to the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.log.Debug("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if h.metrics != nil {
		h.metrics.IncPresenceConnections()
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		log:  h.log,
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writePump(ctx)

	defer h.registry.Leave(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Debug("ignoring malformed presence message",
				slog.String("conn_id", c.id),
				slog.String("error", err.Error()))
			continue
		}
		if msg.StreamID == "" {
			h.log.Debug("ignoring presence message without stream id",
				slog.String("conn_id", c.id),
				slog.String("type", msg.Type))
			continue
		}

		switch msg.Type {
		case msgJoinAsStreamer:
			h.registry.Join(msg.StreamID, c, RoleStreamer)
			ack, _ := json.Marshal(streamerConnectedMessage{Type: "streamerConnected", StreamID: msg.StreamID})
			c.enqueue(ack)
			h.log.Info("streamer connected",
				slog.String("stream_id", msg.StreamID),
				slog.String("conn_id", c.id))
		case msgJoinAsViewer:
			h.registry.Join(msg.StreamID, c, RoleViewer)
		default:
			h.log.Debug("ignoring unknown presence message",
				slog.String("conn_id", c.id),
				slog.String("type", msg.Type))
		}
	}
}

// client is one live presence connection. All outbound frames go through the
// send queue and a single writer goroutine, so frames reach the wire in
// enqueue order.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger
}

func (c *client) ID() string {
	return c.id
}

// Notify implements Subscriber. Called under the room lock; must not block.
func (c *client) Notify(streamID string, count int) {
	msg, err := json.Marshal(viewerCountMessage{Type: "viewerCount", Count: count})
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (c *client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		// Queue full: the consumer stopped draining. Dropping frames would
		// gap the count sequence, so drop the connection instead. CloseNow
		// unblocks the read loop, whose deferred leave does the bookkeeping.
		c.log.Warn("disconnecting slow presence consumer", slog.String("conn_id", c.id))
		c.conn.CloseNow()
	}
}

func (c *client) writePump(ctx context.Context) {
	for {
		select {
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
