package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/services"
	"github.com/yoockh/yoodocs/internal/workers"
)

type WSHandler struct {
	chat     services.ChatService
	docs     services.DocumentService
	redis    *redis.Client
	log      *logrus.Logger
	upgrader websocket.Upgrader
	poll     time.Duration
}

// NewWSHandler accepts a nil redis client; document events then fall back
// to polling the document status.
func NewWSHandler(chat services.ChatService, docs services.DocumentService, rdb *redis.Client, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		chat:  chat,
		docs:  docs,
		redis: rdb,
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin once CORS_ORIGINS is configurable
		},
		poll: time.Second,
	}
}

type wsClientMsg struct {
	Type string `json:"type"` // "chat" (default) or "stop"
	services.ChatRequest
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (w *wsConn) writeError(err error) error {
	var ae APIError
	ae.Code, ae.Message = errorBody(err)
	return w.writeJSON(struct {
		Type string `json:"type"`
		APIError
	}{"error", ae})
}

// ChatWS carries the same answer events as the SSE endpoint. Each client
// message starts one answer; a "stop" message cancels the current one.
func (h *WSHandler) ChatWS(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var (
		mu      sync.Mutex
		current *services.ChatStream
	)
	stopCurrent := func() {
		mu.Lock()
		s := current
		mu.Unlock()
		if s != nil {
			s.Close()
		}
	}

	reqs := make(chan services.ChatRequest, 1)
	go func() {
		defer close(reqs)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				cancel()
				stopCurrent()
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"invalid json"}`))
				continue
			}

			switch msg.Type {
			case "stop":
				stopCurrent()
			case "", "chat":
				select {
				case reqs <- msg.ChatRequest:
				default:
					_ = wc.writeText([]byte(`{"type":"error","code":"CONFLICT","message":"a question is already queued"}`))
				}
			default:
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"unknown message type"}`))
			}
		}
	}()

	for req := range reqs {
		s, err := h.chat.Stream(ctx, userID, req)
		if err != nil {
			if werr := wc.writeError(err); werr != nil {
				return
			}
			continue
		}
		mu.Lock()
		current = s
		mu.Unlock()

		_ = wc.writeJSON(gin.H{"type": "conversation", "conversation_id": s.ConversationID})
		for ev := range s.Events() {
			if werr := wc.writeJSON(ev); werr != nil {
				break
			}
		}
		s.Close()

		mu.Lock()
		current = nil
		mu.Unlock()
	}
}

// DocumentEvents pushes indexing status changes for one document until it
// reaches a terminal state or the client leaves.
func (h *WSHandler) DocumentEvents(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	docID := c.Param("id")

	st, err := h.docs.Status(c.Request.Context(), userID, docID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if werr := wc.writeJSON(statusMsg(st)); werr != nil || terminal(st.Status) {
		return
	}

	if h.redis != nil {
		pubsub := h.redis.Subscribe(ctx, workers.StatusChannel(docID))
		defer pubsub.Close()
		if _, err := pubsub.Receive(ctx); err != nil {
			return
		}

		// the job may have finished before the subscription was live
		if again, err := h.docs.Status(ctx, userID, docID); err == nil && again.Status != st.Status {
			if werr := wc.writeJSON(statusMsg(again)); werr != nil || terminal(again.Status) {
				return
			}
		}

		for {
			m, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			if werr := wc.writeText([]byte(m.Payload)); werr != nil {
				return
			}
			var payload struct {
				Status models.DocumentStatus `json:"status"`
			}
			if json.Unmarshal([]byte(m.Payload), &payload) == nil && terminal(payload.Status) {
				return
			}
		}
	}

	tick := time.NewTicker(h.poll)
	defer tick.Stop()
	last := st.Status
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			st, err := h.docs.Status(ctx, userID, docID)
			if err != nil {
				h.log.WithError(err).WithField("document_id", docID).Warn("status poll failed")
				_ = wc.writeError(err)
				return
			}
			if st.Status == last {
				continue
			}
			last = st.Status
			if werr := wc.writeJSON(statusMsg(st)); werr != nil || terminal(st.Status) {
				return
			}
		}
	}
}

func statusMsg(st *services.DocumentStatusView) gin.H {
	return gin.H{"type": "status", "status": st.Status, "message": st.LastError}
}

func terminal(s models.DocumentStatus) bool {
	return s == models.DocumentCompleted || s == models.DocumentFailed
}
