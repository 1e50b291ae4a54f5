package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoodocs/internal/services"
)

type AdminHandler struct {
	admin services.AdminService
	usage services.UsageService
}

func NewAdminHandler(admin services.AdminService, usage services.UsageService) *AdminHandler {
	return &AdminHandler{admin: admin, usage: usage}
}

func (h *AdminHandler) Usage(c *gin.Context) {
	days := queryInt(c, "days", 7, 90)
	rows, err := h.usage.Summary(c.Request.Context(), days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "endpoints": rows})
}

func (h *AdminHandler) Stats(c *gin.Context) {
	st, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *AdminHandler) UserUsage(c *gin.Context) {
	u, err := h.usage.ForUser(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 100, 500))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *AdminHandler) Documents(c *gin.Context) {
	page, err := h.admin.Documents(c.Request.Context(), queryInt(c, "limit", 100, 500), queryInt(c, "offset", 0, 0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *AdminHandler) Chats(c *gin.Context) {
	rows, err := h.admin.Chats(c.Request.Context(), queryInt(c, "limit", 100, 500))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(rows), "recent_chats": rows})
}
