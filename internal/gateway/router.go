// Package gateway exposes the messaging services over HTTP and websockets.
package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ageniuscoder/mmchat/messaging/internal/auth"
	"github.com/ageniuscoder/mmchat/messaging/internal/conversations"
	"github.com/ageniuscoder/mmchat/messaging/internal/messages"
	"github.com/ageniuscoder/mmchat/messaging/internal/observability"
	"github.com/ageniuscoder/mmchat/messaging/internal/profile"
	"github.com/ageniuscoder/mmchat/messaging/internal/session"
)

const requestIDHeader = "X-Request-ID"

type Options struct {
	JWTSecret string
	// BlobDir, when set, is served under /blobs for the local blob backend.
	BlobDir  string
	Hub      *Hub
	Session  session.Deps
	Profiles *profile.Cache
}

func NewRouter(o Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), accessLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "tabs": o.Hub.Online()})
	})
	if o.BlobDir != "" {
		r.Static("/blobs", o.BlobDir)
	}

	api := r.Group("/api")
	api.Use(auth.JWTMiddleware(o.JWTSecret))

	profile.Register(api, o.Profiles)
	conversations.Register(api, o.Session.Directory)
	messages.Register(api, o.Session.Messages, o.Session.Sender)
	RegisterWS(api, o.Hub, o.Session)
	return r
}

// RequestID tags each request with an id, reusing the caller's when sent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		observability.LoggerFromContext(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
