package conversations

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ageniuscoder/mmchat/messaging/internal/auth"
	"github.com/ageniuscoder/mmchat/messaging/internal/httpx"
	"github.com/ageniuscoder/mmchat/messaging/internal/profile"
)

type Service struct {
	Dir *Directory
}

type EntryResp struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Participants []string       `json:"participants"`
	Others       []profile.Resp `json:"others"`
	LastMessage  string         `json:"last_message"`
	LastSenderID string         `json:"last_sender_id,omitempty"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
	Unread       int            `json:"unread"`
}

func Register(rg *gin.RouterGroup, dir *Directory) {
	s := Service{Dir: dir}
	rg.GET("/conversations", s.listMine)
}

func (s Service) listMine(c *gin.Context) {
	uid := auth.MustUserID(c)
	snap, err := s.Dir.Load(c.Request.Context(), uid)
	if err != nil {
		httpx.ErrFrom(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversations": SnapshotResp(snap)})
}

// SnapshotResp renders a directory snapshot for the wire.
func SnapshotResp(snap Snapshot) []EntryResp {
	out := make([]EntryResp, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		r := EntryResp{
			ID:           e.Conversation.ID,
			Title:        e.Title,
			Participants: e.Conversation.Participants,
			LastMessage:  e.Conversation.LastMessage,
			LastSenderID: e.Conversation.LastSenderID,
			Unread:       e.Unread,
			Others:       make([]profile.Resp, 0, len(e.Others)),
		}
		if t, ok := e.Conversation.UpdatedAt.Time(); ok {
			r.UpdatedAt = &t
		}
		for _, p := range e.Others {
			r.Others = append(r.Others, profile.ToResp(p))
		}
		out = append(out, r)
	}
	return out
}
