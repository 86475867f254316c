package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
	"github.com/ageniuscoder/mmchat/messaging/internal/observability"
)

func OK(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

// StatusOf maps an error kind to the HTTP status the gateway answers with.
func StatusOf(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindPartial:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// ErrFrom writes err with the status of its kind. Validation messages are
// shown as is; store failures are logged and answered generically.
func ErrFrom(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	body := gin.H{"error": domain.Reason(err), "kind": kind}

	switch kind {
	case domain.KindTransient:
		observability.LoggerFromContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "err", err)
		body["error"] = "temporarily unavailable, try again"
	case domain.KindPartial:
		observability.LoggerFromContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "err", err)
		body["error"] = "conversation saved but the message was not, try again"
	}
	c.JSON(StatusOf(kind), body)
}
