package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/services"
)

type UserHandler struct {
	svc services.UserService
}

func NewUserHandler(svc services.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

func (h *UserHandler) Me(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	u, err := h.svc.Me(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// Get serves GET /users/:id for the user themselves or an admin.
func (h *UserHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	u, err := h.svc.Get(c.Request.Context(), actor(c, userID), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) Create(c *gin.Context) {
	var in services.CreateUserInput
	if !bindJSON(c, "UserHandler.Create", &in) {
		return
	}
	u, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *UserHandler) Update(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var in services.UserUpdate
	if !bindJSON(c, "UserHandler.Update", &in) {
		return
	}
	u, err := h.svc.Update(c.Request.Context(), actor(c, userID), c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) Delete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), actor(c, userID), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) List(c *gin.Context) {
	page, err := h.svc.List(c.Request.Context(), queryInt(c, "limit", 50, 200), queryInt(c, "offset", 0, 0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type roleRequest struct {
	Role models.UserRole `json:"role"`
}

func (h *UserHandler) SetRole(c *gin.Context) {
	var req roleRequest
	if !bindJSON(c, "UserHandler.SetRole", &req) {
		return
	}
	u, err := h.svc.SetRole(c.Request.Context(), c.Param("id"), req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
