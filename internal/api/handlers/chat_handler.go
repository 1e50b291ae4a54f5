package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoodocs/internal/api/middleware"
	"github.com/yoockh/yoodocs/internal/rag"
	"github.com/yoockh/yoodocs/internal/services"
)

type ChatHandler struct {
	svc services.ChatService
}

func NewChatHandler(svc services.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

func (h *ChatHandler) Chat(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req services.ChatRequest
	if !bindJSON(c, "ChatHandler.Chat", &req) {
		return
	}
	res, err := h.svc.Query(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.TokensKey, services.EstimateTokens(req.Query)+services.EstimateTokens(res.Answer.Answer))
	c.JSON(http.StatusOK, res)
}

// Stream answers as server-sent events. Errors before the first event are
// plain JSON responses; later failures arrive as an error event.
func (h *ChatHandler) Stream(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req services.ChatRequest
	if !bindJSON(c, "ChatHandler.Stream", &req) {
		return
	}
	s, err := h.svc.Stream(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	defer s.Close()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Conversation-Id", s.ConversationID)
	w.WriteHeader(http.StatusOK)
	w.Flush()

	tokens := services.EstimateTokens(req.Query)
	for ev := range s.Events() {
		if ev.Type == rag.EventToken {
			tokens += services.EstimateTokens(ev.Content)
		}
		if err := rag.WriteSSE(w, ev); err != nil {
			break
		}
	}
	c.Set(middleware.TokensKey, tokens)
}

func (h *ChatHandler) Regenerate(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req services.RegenerateRequest
	if !bindJSON(c, "ChatHandler.Regenerate", &req) {
		return
	}
	res, err := h.svc.Regenerate(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.TokensKey, services.EstimateTokens(req.Query)+services.EstimateTokens(res.Answer.Answer))
	c.JSON(http.StatusOK, res)
}

func (h *ChatHandler) Inspect(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req services.InspectRequest
	if !bindJSON(c, "ChatHandler.Inspect", &req) {
		return
	}
	passages, err := h.svc.Inspect(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": req.Query, "passages": passages, "count": len(passages)})
}

func (h *ChatHandler) Critique(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req services.CritiqueRequest
	if !bindJSON(c, "ChatHandler.Critique", &req) {
		return
	}
	cr, err := h.svc.Critique(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cr)
}
