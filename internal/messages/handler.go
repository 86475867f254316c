package messages

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ageniuscoder/mmchat/messaging/internal/auth"
	"github.com/ageniuscoder/mmchat/messaging/internal/httpx"
	"github.com/ageniuscoder/mmchat/messaging/internal/utils"
)

// MaxAttachmentBytes bounds uploads accepted by POST /messages.
const MaxAttachmentBytes = 10 << 20

type Handler struct {
	Thread *Service
	Sender *Sender
}

type sendReq struct {
	RecipientID    string `json:"recipient_id" form:"recipient_id" binding:"required_without=ConversationID"`
	ConversationID string `json:"conversation_id" form:"conversation_id"`
	Text           string `json:"text" form:"text" binding:"max=4000"`
}

func Register(rg *gin.RouterGroup, thread *Service, sender *Sender) {
	h := Handler{Thread: thread, Sender: sender}
	rg.POST("/messages", h.send)
	rg.GET("/conversations/:id/messages", h.list)
	rg.POST("/conversations/:id/read", h.markRead)
}

func (h Handler) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req sendReq
	if err := c.ShouldBind(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, utils.BindError(err))
		return
	}

	var att *Attachment
	if fh, err := c.FormFile("file"); err == nil {
		if fh.Size > MaxAttachmentBytes {
			httpx.Err(c, http.StatusRequestEntityTooLarge, "attachment too large")
			return
		}
		f, err := fh.Open()
		if err != nil {
			httpx.Err(c, http.StatusBadRequest, "unreadable attachment")
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, MaxAttachmentBytes+1))
		f.Close()
		if err != nil {
			httpx.Err(c, http.StatusBadRequest, "unreadable attachment")
			return
		}
		att = &Attachment{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}
	}

	res, err := h.Sender.Send(c.Request.Context(), SendRequest{
		SenderID:       uid,
		RecipientID:    req.RecipientID,
		ConversationID: req.ConversationID,
		Text:           req.Text,
		Attachment:     att,
	})
	if err != nil && res.Message.ID == "" {
		httpx.ErrFrom(c, err)
		return
	}
	body := gin.H{
		"conversation_id": res.ConversationID,
		"message_id":      res.Message.ID,
		"created":         res.Created,
	}
	if err != nil {
		body["warning"] = "message sent, conversation preview not updated"
	}
	httpx.OK(c, body)
}

func (h Handler) list(c *gin.Context) {
	uid := auth.MustUserID(c)
	msgs, err := h.Thread.Load(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		httpx.ErrFrom(c, err)
		return
	}
	loc := time.UTC
	if tz := c.Query("tz"); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	httpx.OK(c, gin.H{"groups": GroupsResp(GroupByDate(msgs, loc), uid)})
}

func (h Handler) markRead(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid := c.Param("id")
	msgs, err := h.Thread.Load(c.Request.Context(), cid, uid)
	if err != nil {
		httpx.ErrFrom(c, err)
		return
	}
	n, err := NewReadMarker(h.Thread.Store, h.Thread.Log).MarkRead(c.Request.Context(), cid, msgs, uid)
	if err != nil {
		httpx.ErrFrom(c, err)
		return
	}
	httpx.OK(c, gin.H{"marked": n})
}
