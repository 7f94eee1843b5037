package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/worker"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 64,
	WriteBufferSize: 1024 * 64,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev; restrict in production
	},
}

const wsWriteTimeout = 10 * time.Second

// WebSocket message types from client.
const (
	wsMsgAnalyze = "analyze"
	wsMsgCancel  = "cancel"
	wsMsgSave    = "save"
)

// WebSocket message types to client.
const (
	wsMsgAccepted  = "accepted"
	wsMsgBusy      = "busy"
	wsMsgResult    = "result"
	wsMsgError     = "error"
	wsMsgCancelled = "cancelled"
	wsMsgSaved     = "saved"
)

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsAnalyze is the payload for "analyze" messages.
type wsAnalyze struct {
	Source   string         `json:"source"`
	Language model.Language `json:"language"`
}

type wsAccepted struct {
	Language model.Language `json:"language"`
}

type wsResult struct {
	Result model.ReviewResult `json:"result"`
}

type wsError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

type wsSaved struct {
	ID string `json:"id"`
}

// wsClient is one connection and the worker session it owns. Only the write
// loop touches the connection's writer.
type wsClient struct {
	srv    *Server
	conn   *websocket.Conn
	sess   *worker.Session
	logger *slog.Logger

	remote string
	send   chan wsMessage
	done   chan struct{}

	mu   sync.Mutex
	last *model.CodeReview
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}
	conn.SetReadLimit(bodyLimit(s.cfg.Analysis.MaxSourceBytes))

	logger := s.logger.With("client", uuid.NewString(), "remote", r.RemoteAddr)
	c := &wsClient{
		srv:    s,
		conn:   conn,
		sess:   s.newSession(logger),
		logger: logger,
		remote: r.RemoteAddr,
		send:   make(chan wsMessage, 16),
		done:   make(chan struct{}),
	}
	s.metrics.ClientConnected()
	logger.Info("websocket client connected")

	ctx, cancel := context.WithCancel(r.Context())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	c.readLoop(ctx)

	cancel()
	c.sess.Close()
	close(c.done)
	wg.Wait()
	conn.Close()
	s.metrics.ClientDisconnected()
	logger.Info("websocket client disconnected")
}

func (c *wsClient) readLoop(ctx context.Context) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(kindBadRequest, "invalid message format")
			continue
		}

		switch msg.Type {
		case wsMsgAnalyze:
			c.handleAnalyze(ctx, msg.Data)
		case wsMsgCancel:
			// cancelled is queued here so it precedes anything a later
			// analyze on this connection produces.
			if c.sess.Cancel() {
				c.deliver(wsMsgCancelled, nil)
			} else {
				c.sendError(kindBadRequest, "no analysis is running")
			}
		case wsMsgSave:
			c.handleSave(ctx)
		default:
			c.sendError(kindBadRequest, "unknown message type: "+msg.Type)
		}
	}
}

func (c *wsClient) handleAnalyze(ctx context.Context, data json.RawMessage) {
	var req wsAnalyze
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(kindBadRequest, "invalid analyze data")
		return
	}
	if req.Language == "" {
		c.sendError(kindBadRequest, "language is required")
		return
	}
	if limit := c.srv.cfg.Analysis.MaxSourceBytes; len(req.Source) > limit {
		c.sendError(kindTooLarge, fmt.Sprintf("source is %d bytes, the limit is %d", len(req.Source), limit))
		return
	}
	if l := c.srv.limiter; l != nil && !l.allow(c.remote) {
		c.sendError(kindRateLimited, "rate limit exceeded")
		return
	}

	ch, err := c.sess.Submit(ctx, worker.Request{Source: req.Source, Language: req.Language})
	switch {
	case errors.Is(err, worker.ErrBusy):
		c.deliver(wsMsgBusy, nil)
		return
	case err != nil:
		c.sendError(string(worker.KindInternalFault), err.Error())
		return
	}

	// accepted is queued before the outcome can be.
	c.deliver(wsMsgAccepted, wsAccepted{Language: req.Language})
	go c.await(ch, req)
}

// await forwards the single outcome of one accepted request. A closed
// channel means the read loop cancelled it and already said so.
func (c *wsClient) await(ch <-chan worker.Outcome, req wsAnalyze) {
	o, ok := <-ch
	if !ok {
		return
	}
	if o.Err != nil {
		kind, _, _ := statusOf(o.Err)
		c.sendError(kind, o.Err.Error())
		return
	}

	c.mu.Lock()
	c.last = &model.CodeReview{Code: req.Source, Language: req.Language, Result: o.Result}
	c.mu.Unlock()
	c.deliver(wsMsgResult, wsResult{Result: o.Result})
}

func (c *wsClient) handleSave(ctx context.Context) {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()

	if last == nil {
		c.sendError(kindBadRequest, "no completed analysis to save")
		return
	}
	if c.srv.store == nil {
		c.sendError(kindStore, "no review store configured")
		return
	}
	id, err := c.srv.save(ctx, *last)
	if err != nil {
		c.sendError(kindStore, err.Error())
		return
	}
	c.deliver(wsMsgSaved, wsSaved{ID: id})
}

func (c *wsClient) sendError(kind, detail string) {
	c.deliver(wsMsgError, wsError{Kind: kind, Detail: detail})
}

// deliver queues a message for the write loop. It drops the message once the
// connection is gone.
func (c *wsClient) deliver(msgType string, data any) {
	msg := wsMessage{Type: msgType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			c.logger.Error("ws marshal", "type", msgType, "error", err)
			return
		}
		msg.Data = raw
	}
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *wsClient) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("ws write", "error", err)
				// Unblocks the read loop so the client is torn down.
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
