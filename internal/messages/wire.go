package messages

import (
	"time"

	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

type MediaResp struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type MessageResp struct {
	ID           string     `json:"id"`
	SenderID     string     `json:"sender_id"`
	Text         string     `json:"text,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	Pending      bool       `json:"pending,omitempty"`
	Mine         bool       `json:"mine"`
	SeenByOthers bool       `json:"seen_by_others"`
	Media        *MediaResp `json:"media,omitempty"`
	FirstInRun   bool       `json:"first_in_run,omitempty"`
	LastInRun    bool       `json:"last_in_run,omitempty"`
}

type GroupResp struct {
	Date     string        `json:"date"`
	Messages []MessageResp `json:"messages"`
}

// ToResp renders m for viewer. Text is omitted when empty so a media-only
// message has no text node.
func ToResp(m domain.Message, viewer string) MessageResp {
	r := MessageResp{
		ID:           m.ID,
		SenderID:     m.SenderID,
		Pending:      m.SentAt.IsPending(),
		Mine:         m.SenderID == viewer,
		SeenByOthers: m.SeenByOthers(viewer),
	}
	if m.HasText() {
		r.Text = m.Text
	}
	if t, ok := m.SentAt.Time(); ok {
		r.SentAt = &t
	}
	if m.HasMedia() {
		r.Media = &MediaResp{URL: m.Media.URL, Type: string(m.Media.Type)}
	}
	return r
}

func GroupsResp(groups []DateGroup, viewer string) []GroupResp {
	out := make([]GroupResp, 0, len(groups))
	for _, g := range groups {
		gr := GroupResp{Date: g.Label, Messages: make([]MessageResp, 0, len(g.Items))}
		for _, it := range g.Items {
			r := ToResp(it.Message, viewer)
			r.FirstInRun, r.LastInRun = it.FirstInRun, it.LastInRun
			gr.Messages = append(gr.Messages, r)
		}
		out = append(out, gr)
	}
	return out
}

// ListResp renders an ordered list including pending messages.
func ListResp(msgs []domain.Message, viewer string) []MessageResp {
	out := make([]MessageResp, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToResp(m, viewer))
	}
	return out
}
