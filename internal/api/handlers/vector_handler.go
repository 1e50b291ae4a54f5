package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoodocs/internal/rag"
	"github.com/yoockh/yoodocs/internal/services"
)

type VectorHandler struct {
	svc services.VectorService
}

func NewVectorHandler(svc services.VectorService) *VectorHandler {
	return &VectorHandler{svc: svc}
}

func (h *VectorHandler) DocumentChunks(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	out, err := h.svc.GetChunks(c.Request.Context(), actor(c, userID), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *VectorHandler) Stats(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	out, err := h.svc.Stats(c.Request.Context(), actor(c, userID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type syncRequest struct {
	Metadata []rag.Entry `json:"metadata"`
}

// Sync replaces the relational mirror with the posted index metadata.
func (h *VectorHandler) Sync(c *gin.Context) {
	var req syncRequest
	if !bindJSON(c, "VectorHandler.Sync", &req) {
		return
	}
	res, err := h.svc.Sync(c.Request.Context(), req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *VectorHandler) DeleteDocument(c *gin.Context) {
	n, err := h.svc.DeleteChunks(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": c.Param("id"), "deleted_chunks": n})
}

func (h *VectorHandler) Resync(c *gin.Context) {
	res, err := h.svc.Resync(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *VectorHandler) Rebuild(c *gin.Context) {
	n, err := h.svc.Rebuild(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"indexed_vectors": n})
}
