package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoodocs/internal/services"
	"github.com/yoockh/yoodocs/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func errorBody(err error) (utils.Code, string) {
	var ae *utils.AppError
	if errors.As(err, &ae) {
		return ae.Code, ae.Message
	}
	return utils.CodeInternal, http.StatusText(utils.HTTPStatus(err))
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	code, msg := errorBody(err)
	c.JSON(utils.HTTPStatus(err), APIError{
		Code:    code,
		Message: msg,
	})
}

func requireUserID(c *gin.Context) (string, bool) {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}

	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}

func actor(c *gin.Context, userID string) services.Actor {
	return services.Actor{UserID: userID, Admin: c.GetString("role") == "admin"}
}

// bindJSON writes the error response itself and reports whether to continue.
func bindJSON(c *gin.Context, op string, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid json body", err))
		return false
	}
	return true
}

func queryInt(c *gin.Context, name string, def, max int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
