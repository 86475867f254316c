package gateway

import (
	"time"

	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
	"github.com/ageniuscoder/mmchat/messaging/internal/messages"
	"github.com/ageniuscoder/mmchat/messaging/internal/presentation"
)

// Command is what a tab sends over the socket. Fields not used by a command
// type are ignored.
type Command struct {
	Type           string `json:"type"`
	Ref            string `json:"ref,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
	Text           string `json:"text,omitempty"`
	Path           string `json:"path,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	ScrollY        int    `json:"scroll_y,omitempty"`
	X              int    `json:"x,omitempty"`
	Y              int    `json:"y,omitempty"`
}

// Event is what the gateway pushes to a tab. Ref echoes the command that
// caused it, when there is one.
type Event struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
	Data any    `json:"data,omitempty"`
}

type ThreadEvent struct {
	ConversationID string                 `json:"conversation_id"`
	Messages       []messages.MessageResp `json:"messages"`
	Groups         []messages.GroupResp   `json:"groups"`
}

type TypingEvent struct {
	ConversationID string   `json:"conversation_id"`
	Users          []string `json:"users"`
}

type EffectResp struct {
	Kind           string `json:"kind"`
	Path           string `json:"path,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ScrollY        int    `json:"scroll_y,omitempty"`
}

type PresentationEvent struct {
	Cause          string       `json:"cause"`
	State          string       `json:"state"`
	ConversationID string       `json:"conversation_id,omitempty"`
	ListOpen       bool         `json:"list_open"`
	Route          string       `json:"route"`
	X              int          `json:"x"`
	Y              int          `json:"y"`
	Effects        []EffectResp `json:"effects,omitempty"`
}

type DraftEvent struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type SentEvent struct {
	ConversationID string               `json:"conversation_id"`
	Created        bool                 `json:"created"`
	Message        messages.MessageResp `json:"message"`
}

type ErrorEvent struct {
	Op      string      `json:"op"`
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
}

func threadEvent(convID string, msgs []domain.Message, viewer string, loc *time.Location) ThreadEvent {
	return ThreadEvent{
		ConversationID: convID,
		Messages:       messages.ListResp(msgs, viewer),
		Groups:         messages.GroupsResp(messages.GroupByDate(msgs, loc), viewer),
	}
}

func presentationEvent(t presentation.Transition) PresentationEvent {
	v := t.To
	ev := PresentationEvent{
		Cause:          t.Cause,
		State:          v.State.String(),
		ConversationID: v.ConversationID,
		ListOpen:       v.ListOpen,
		Route:          v.Route,
		X:              v.Position.X,
		Y:              v.Position.Y,
	}
	for _, e := range t.Effects {
		ev.Effects = append(ev.Effects, EffectResp{
			Kind:           string(e.Kind),
			Path:           e.Path,
			ConversationID: e.ConversationID,
			ScrollY:        e.ScrollY,
		})
	}
	return ev
}

func errorEvent(op string, err error) ErrorEvent {
	return ErrorEvent{Op: op, Kind: domain.KindOf(err), Message: domain.Reason(err)}
}
