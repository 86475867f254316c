package conversations

import (
	"strconv"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

// Decode reads a stored conversation. lastMessage is accepted either as a
// string or as a map holding "text".
func Decode(d *docstore.Document, localOrder uint64) domain.Conversation {
	c := domain.Conversation{
		ID:           d.ID,
		Participants: d.Strings("participants"),
		LastSenderID: d.String("lastSenderId"),
		UpdatedAt:    domain.Pending(localOrder),
	}
	switch v := d.Lookup("lastMessage").(type) {
	case string:
		c.LastMessage = v
	case map[string]any:
		c.LastMessage, _ = v["text"].(string)
		if c.LastSenderID == "" {
			c.LastSenderID, _ = v["senderId"].(string)
		}
	}
	if t, ok := d.Time("updatedAt"); ok {
		c.UpdatedAt = domain.Confirmed(t).WithLocalOrder(localOrder)
	}
	if t, ok := d.Time("createdAt"); ok {
		c.CreatedAt = t
	}
	return c
}

// Title is the display name of c for viewer: the other participant's name,
// or "<name> and N others" for larger groups.
func Title(c domain.Conversation, viewer string, profiles map[string]domain.Profile) string {
	others := c.Others(viewer)
	name := func(id string) string {
		if p, ok := profiles[id]; ok && p.Username != "" {
			return p.Username
		}
		return domain.FallbackProfile(id).Username
	}
	switch len(others) {
	case 0:
		return name(viewer)
	case 1:
		return name(others[0])
	case 2:
		return name(others[0]) + " and 1 other"
	default:
		return name(others[0]) + " and " + strconv.Itoa(len(others)-1) + " others"
	}
}
