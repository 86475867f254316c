package messages

import (
	"time"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

// Field names of a stored message.
const (
	fieldSender    = "senderId"
	fieldText      = "text"
	fieldTimestamp = "timestamp"
	fieldReadBy    = "readBy"
	fieldMediaURL  = "mediaUrl"
	fieldMediaType = "mediaType"
)

// Decode turns a stored message into a domain.Message. Missing or malformed
// values decode to their empty variants; a timestamp that is not a time is
// Pending with localOrder.
func Decode(conversationID string, d *docstore.Document, localOrder uint64) domain.Message {
	m := domain.Message{
		ID:             d.ID,
		ConversationID: conversationID,
		SenderID:       d.String(fieldSender),
		Text:           d.String(fieldText),
		SentAt:         domain.Pending(localOrder),
	}
	if t, ok := d.Time(fieldTimestamp); ok {
		m.SentAt = domain.Confirmed(t).WithLocalOrder(localOrder)
	}

	if rb := d.Map(fieldReadBy); len(rb) > 0 {
		m.ReadBy = make(map[string]domain.ReadState, len(rb))
		for uid, v := range rb {
			if st, ok := readState(v); ok {
				m.ReadBy[uid] = st
			}
		}
	}

	if url := d.String(fieldMediaURL); url != "" {
		m.Media = &domain.Media{URL: url, Type: domain.MediaType(d.String(fieldMediaType))}
		if m.Media.Type != domain.MediaImage {
			m.Media.Type = domain.MediaFile
		}
	}
	return m
}

// readState converts a stored read-by value. Timestamps and true are reads;
// nil is a read whose server timestamp has not resolved yet.
func readState(v any) (domain.ReadState, bool) {
	switch t := v.(type) {
	case time.Time:
		return domain.ReadAt(t), true
	case bool:
		if t {
			return domain.ReadAt(time.Time{}), true
		}
		return domain.Unread(), false
	case nil:
		return domain.ReadAt(time.Time{}), true
	default:
		return domain.Unread(), false
	}
}
