package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoodocs/internal/extract"
	"github.com/yoockh/yoodocs/internal/services"
	"github.com/yoockh/yoodocs/internal/utils"
)

type DocumentHandler struct {
	svc      services.DocumentService
	maxBytes int64
}

func NewDocumentHandler(svc services.DocumentService, maxUploadMB int) *DocumentHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &DocumentHandler{svc: svc, maxBytes: int64(maxUploadMB) << 20}
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	const op = "DocumentHandler.Upload"
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing multipart field 'file'", err))
		return
	}
	if !extract.Supported(fh.Filename) {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "only .pdf, .txt and .md files are allowed", nil))
		return
	}
	if fh.Size <= 0 || fh.Size > h.maxBytes {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "file is empty or too large", nil))
		return
	}

	file, err := fh.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to open upload", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to read upload", err))
		return
	}

	doc, err := h.svc.Upload(c.Request.Context(), services.UploadInput{
		OwnerID:  userID,
		Title:    strings.TrimSpace(c.PostForm("title")),
		FileName: fh.Filename,
		Data:     data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	docs, err := h.svc.List(c.Request.Context(), userID, queryInt(c, "limit", 50, 200), queryInt(c, "offset", 0, 0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	doc, err := h.svc.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandler) Update(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var in services.DocumentUpdate
	if !bindJSON(c, "DocumentHandler.Update", &in) {
		return
	}
	doc, err := h.svc.Update(c.Request.Context(), userID, c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document deleted", "id": c.Param("id")})
}

type searchRequest struct {
	Query string `json:"query"`
}

func (h *DocumentHandler) Search(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req searchRequest
	if !bindJSON(c, "DocumentHandler.Search", &req) {
		return
	}
	docs, err := h.svc.Search(c.Request.Context(), userID, req.Query)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h *DocumentHandler) Status(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	st, err := h.svc.Status(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *DocumentHandler) Reindex(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	doc, err := h.svc.Reindex(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}
