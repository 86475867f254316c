package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ageniuscoder/mmchat/messaging/internal/auth"
	"github.com/ageniuscoder/mmchat/messaging/internal/httpx"
	"github.com/ageniuscoder/mmchat/messaging/internal/observability"
	"github.com/ageniuscoder/mmchat/messaging/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow CORS for demo; tighten in prod.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterWS mounts GET /ws. The group must run auth.JWTMiddleware, which
// also accepts ?token= since browsers cannot set headers on upgrades.
//
// Query: route (current client route), width, height (viewport), tz (IANA
// zone for date groups).
func RegisterWS(rg *gin.RouterGroup, hub *Hub, deps session.Deps) {
	rg.GET("/ws", func(c *gin.Context) {
		uid := auth.MustUserID(c)
		loc := time.UTC
		if tz := c.Query("tz"); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				httpx.Err(c, http.StatusBadRequest, "unknown time zone")
				return
			}
			loc = l
		}
		vp := session.Viewport{
			Route:  c.DefaultQuery("route", "/"),
			Width:  queryInt(c, "width"),
			Height: queryInt(c, "height"),
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		log := observability.LoggerFromContext(c.Request.Context()).With("user_id", uid)
		client := newClient(hub, conn, uid, loc, log)
		d := deps
		d.Log = log
		client.session = session.Start(context.Background(), d, uid, vp, client)

		if !hub.add(client) {
			client.shutdown()
			conn.Close()
			return
		}
		go client.writePump()
		go client.readPump()
	})
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
