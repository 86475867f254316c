package domain

import (
	"sort"
	"strings"
	"time"
)

// Collection and document path layout shared by every store backend.
const (
	ConversationsCollection = "conversations"
	UsersCollection         = "users"
)

func ConversationPath(conversationID string) string {
	return ConversationsCollection + "/" + conversationID
}

func MessagesCollection(conversationID string) string {
	return ConversationPath(conversationID) + "/messages"
}

func MessagePath(conversationID, messageID string) string {
	return MessagesCollection(conversationID) + "/" + messageID
}

func TypingCollection(conversationID string) string {
	return ConversationPath(conversationID) + "/typing"
}

func TypingPath(conversationID, userID string) string {
	return TypingCollection(conversationID) + "/" + userID
}

func UserPath(userID string) string {
	return UsersCollection + "/" + userID
}

// DirectConversationID returns the deterministic id of the one-to-one
// conversation between a and b. Argument order does not matter.
func DirectConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// Conversation is a durable group of participants. Participants never change
// after creation.
type Conversation struct {
	ID           string
	Participants []string
	LastMessage  string
	LastSenderID string
	UpdatedAt    Timestamp
	CreatedAt    time.Time
}

func (c Conversation) Has(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Others returns the participants except userID, in stored order.
func (c Conversation) Others(userID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaFile  MediaType = "file"
)

// MediaTypeFor classifies a MIME content type.
func MediaTypeFor(contentType string) MediaType {
	if strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return MediaImage
	}
	return MediaFile
}

type Media struct {
	URL  string
	Type MediaType
}

// Message belongs to exactly one conversation. Only ReadBy changes after
// creation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	SentAt         Timestamp
	ReadBy         map[string]ReadState
	Media          *Media
}

func (m Message) HasText() bool {
	return strings.TrimSpace(m.Text) != ""
}

func (m Message) HasMedia() bool {
	return m.Media != nil && m.Media.URL != ""
}

func (m Message) ReadStateOf(userID string) ReadState {
	if m.ReadBy == nil {
		return Unread()
	}
	return m.ReadBy[userID]
}

func (m Message) IsReadBy(userID string) bool {
	return m.ReadStateOf(userID).IsRead()
}

// SeenByOthers reports whether anyone besides viewer has read the message.
func (m Message) SeenByOthers(viewer string) bool {
	for uid, st := range m.ReadBy {
		if uid != viewer && st.IsRead() {
			return true
		}
	}
	return false
}

// Profile is the read-only slice of a user record the messaging views need.
type Profile struct {
	ID            string
	Username      string
	ProfilePicURL string
	// Missing marks a synthesized profile for a user record that does not exist.
	Missing bool
}

// FallbackProfile builds the display label used when a user record cannot be
// resolved.
func FallbackProfile(userID string) Profile {
	short := userID
	if len(short) > 4 {
		short = short[:4]
	}
	return Profile{ID: userID, Username: "User " + short, Missing: true}
}

type TypingSignal struct {
	UserID string
	Typing bool
	At     Timestamp
}
