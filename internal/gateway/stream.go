package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 8 << 20
	sendBuffer = 256
)

// session is one websocket peer. Evaluations requested on a session run one
// at a time and stream their frames in bar order.
type session struct {
	srv  *Server
	conn *websocket.Conn
	send chan []byte
	reqs chan StreamRequest
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	sess := &session{
		srv:  s,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		reqs: make(chan StreamRequest, 8),
	}
	s.clients.Add(1)
	if s.prom != nil {
		s.prom.WSClients.Inc()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sess.writePump(ctx)
	go sess.evalLoop(ctx)
	sess.readPump(cancel)
}

func (c *session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			if c.srv.prom != nil {
				c.srv.prom.WSFramesSent.Inc()
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *session) readPump(cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.conn.Close()
		c.srv.clients.Add(-1)
		if c.srv.prom != nil {
			c.srv.prom.WSClients.Dec()
		}
		slog.Debug("ws client disconnected")
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req StreamRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			c.trySend(StreamMessage{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}
		switch req.Type {
		case "ping":
			c.trySend(StreamMessage{Type: "pong", ReqID: req.ReqID, Ping: req.Ping, Server: time.Now().UnixMilli()})
		case "evaluate":
			select {
			case c.reqs <- req:
			default:
				c.trySend(StreamMessage{Type: "error", ReqID: req.ReqID, Error: "too many pending evaluations"})
			}
		default:
			c.trySend(StreamMessage{Type: "error", ReqID: req.ReqID, Error: "unknown message type " + req.Type})
		}
	}
}

func (c *session) evalLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.reqs:
			c.stream(ctx, req)
		}
	}
}

// stream evaluates req and sends start, one frame per bar, then done.
func (c *session) stream(ctx context.Context, req StreamRequest) {
	ev, err := c.srv.evaluate(ctx, req.EvaluateRequest)
	if err != nil {
		c.sendCtx(ctx, StreamMessage{Type: "error", ReqID: req.ReqID, Error: err.Error()})
		return
	}
	if !c.sendCtx(ctx, StreamMessage{Type: "start", ReqID: req.ReqID, RunID: ev.RunID, Order: ev.Order, Bars: ev.Bars}) {
		return
	}
	for i := 0; i < ev.Bars; i++ {
		msg := StreamMessage{Type: "frame", ReqID: req.ReqID, RunID: ev.RunID, Index: i, Nodes: ev.Frame(i)}
		if ev.Times != nil {
			ts := ev.Times[i]
			msg.Time = &ts
		}
		if !c.sendCtx(ctx, msg) {
			return
		}
	}
	c.sendCtx(ctx, StreamMessage{Type: "done", ReqID: req.ReqID, RunID: ev.RunID, Bars: ev.Bars})
}

// sendCtx blocks until msg is queued or the session ends.
func (c *session) sendCtx(ctx context.Context, msg StreamMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws marshal failed", slog.String("error", err.Error()))
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// trySend drops msg when the send buffer is full.
func (c *session) trySend(msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
