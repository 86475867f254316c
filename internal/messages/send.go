package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ageniuscoder/mmchat/messaging/internal/blobstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type SendRequest struct {
	SenderID string
	// RecipientID starts or continues the direct conversation with that user.
	RecipientID string
	// ConversationID sends into an existing conversation. Ignored when
	// RecipientID is set.
	ConversationID string
	Text           string
	Attachment     *Attachment
	// OnPending, when set, sees the message right before it is written.
	OnPending func(domain.Message)
}

type SendResult struct {
	ConversationID string
	Message        domain.Message
	// Created is true when this send created the conversation.
	Created bool
}

// Names resolves a sender's display name for media previews.
type Names interface {
	Get(ctx context.Context, userID string) (domain.Profile, error)
}

type Sender struct {
	store docstore.Store
	blobs blobstore.Store
	names Names
	clock clockwork.Clock
	log   *slog.Logger
	locks *keyedMutex
	newID func() string
}

func NewSender(store docstore.Store, blobs blobstore.Store, names Names, clock clockwork.Clock, log *slog.Logger) *Sender {
	return &Sender{
		store: store,
		blobs: blobs,
		names: names,
		clock: clock,
		log:   log,
		locks: newKeyedMutex(),
		newID: uuid.NewString,
	}
}

func validate(req SendRequest) error {
	switch {
	case strings.TrimSpace(req.SenderID) == "":
		return domain.Validation("messages.Send", "sender is required")
	case strings.TrimSpace(req.Text) == "" && (req.Attachment == nil || len(req.Attachment.Data) == 0):
		return domain.Validation("messages.Send", "message is empty")
	case req.RecipientID == "" && req.ConversationID == "":
		return domain.Validation("messages.Send", "pick a recipient or a conversation")
	case req.RecipientID != "" && req.RecipientID == req.SenderID:
		return domain.Validation("messages.Send", "cannot message yourself")
	}
	return nil
}

// Send writes a message. The steps run in a fixed order: conversation
// upsert, attachment upload, message append, conversation refresh. A failure
// stops the sequence; nothing is retried. Sends into one conversation are
// serialized within this process so the conversation's last message matches
// the last message appended.
func (s *Sender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if err := validate(req); err != nil {
		return SendResult{}, err
	}

	convID := req.ConversationID
	if req.RecipientID != "" {
		convID = domain.DirectConversationID(req.SenderID, req.RecipientID)
	}
	log := s.log.With("conversation_id", convID, "user_id", req.SenderID)

	unlock := s.locks.Lock(convID)
	defer unlock()

	res := SendResult{ConversationID: convID}
	text := strings.TrimSpace(req.Text)

	upserted := false
	if req.RecipientID != "" {
		created, err := s.upsert(ctx, convID, req.SenderID, req.RecipientID)
		if err != nil {
			log.Error("conversation upsert failed", "op", "send", "err", err)
			return res, err
		}
		res.Created, upserted = created, true
	} else if err := requireMember(ctx, s.store, "messages.Send", convID, req.SenderID); err != nil {
		return res, err
	}

	var media *domain.Media
	if req.Attachment != nil && len(req.Attachment.Data) > 0 {
		m, err := s.upload(ctx, convID, req.Attachment)
		if err != nil {
			log.Error("attachment upload failed", "op", "send", "err", err)
			if res.Created {
				// the new conversation stays behind without a message
				return res, domain.NewError(domain.KindPartial, "messages.Send", err)
			}
			return res, err
		}
		media = m
	}

	msg := domain.Message{
		ID:             s.newID(),
		ConversationID: convID,
		SenderID:       req.SenderID,
		Text:           text,
		SentAt:         domain.Pending(0),
		ReadBy:         map[string]domain.ReadState{req.SenderID: domain.ReadAt(s.clock.Now())},
		Media:          media,
	}
	if req.OnPending != nil {
		req.OnPending(msg)
	}

	body := docstore.Fields{
		fieldSender:    msg.SenderID,
		fieldText:      msg.Text,
		fieldTimestamp: docstore.ServerTimestamp,
		fieldReadBy:    map[string]any{msg.SenderID: docstore.ServerTimestamp},
	}
	if media != nil {
		body[fieldMediaURL] = media.URL
		body[fieldMediaType] = string(media.Type)
	}
	if err := s.store.Set(ctx, domain.MessagePath(convID, msg.ID), body, docstore.Overwrite); err != nil {
		log.Error("message append failed", "op", "send", "message_id", msg.ID, "err", err)
		kind := domain.KindTransient
		if upserted {
			kind = domain.KindPartial
		}
		return res, domain.NewError(kind, "messages.Send", err)
	}
	res.Message = msg

	preview := text
	if media != nil {
		preview = s.mediaPreview(ctx, req.SenderID, media.Type)
	}
	err := s.store.Update(ctx, domain.ConversationPath(convID), docstore.Fields{
		"lastMessage":  preview,
		"lastSenderId": req.SenderID,
		"updatedAt":    docstore.ServerTimestamp,
	})
	if err != nil {
		// the message is durable; only the directory preview is stale
		log.Error("conversation refresh failed", "op", "send", "message_id", msg.ID, "err", err)
		return res, domain.NewError(domain.KindTransient, "messages.Send", fmt.Errorf("refresh conversation: %w", err))
	}

	log.Debug("message sent", "message_id", msg.ID, "media", media != nil)
	return res, nil
}

// upsert creates the direct conversation between sender and recipient or
// touches the existing one. It reports whether it created the record.
func (s *Sender) upsert(ctx context.Context, convID, senderID, recipientID string) (bool, error) {
	path := domain.ConversationPath(convID)
	d, err := s.store.Get(ctx, path)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		ids := []string{senderID, recipientID}
		slices.Sort(ids)
		err = s.store.Set(ctx, path, docstore.Fields{
			"participants": []any{ids[0], ids[1]},
			"lastMessage":  "",
			"lastSenderId": "",
			"createdAt":    docstore.ServerTimestamp,
			"updatedAt":    docstore.ServerTimestamp,
		}, docstore.Overwrite)
		if err != nil {
			return false, domain.NewError(domain.KindTransient, "messages.Send", fmt.Errorf("create conversation: %w", err))
		}
		return true, nil
	case err != nil:
		return false, domain.NewError(domain.KindTransient, "messages.Send", fmt.Errorf("load conversation: %w", err))
	}

	if !slices.Contains(d.Strings("participants"), senderID) {
		return false, domain.NewError(domain.KindForbidden, "messages.Send", errors.New("not a participant"))
	}
	if err := s.store.Update(ctx, path, docstore.Fields{"updatedAt": docstore.ServerTimestamp}); err != nil {
		return false, domain.NewError(domain.KindTransient, "messages.Send", fmt.Errorf("touch conversation: %w", err))
	}
	return false, nil
}

func (s *Sender) upload(ctx context.Context, convID string, a *Attachment) (*domain.Media, error) {
	if s.blobs == nil {
		return nil, domain.Validation("messages.Send", "attachments are not enabled")
	}
	contentType := a.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(a.Data).String()
	}
	p := BlobPath(convID, s.clock.Now().UnixMilli(), a.Name)
	if err := s.blobs.PutBytes(ctx, p, a.Data, contentType); err != nil {
		return nil, domain.NewError(domain.KindTransient, "messages.Send", fmt.Errorf("upload: %w", err))
	}
	url, err := s.blobs.DownloadURL(ctx, p)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "messages.Send", fmt.Errorf("download url: %w", err))
	}
	return &domain.Media{URL: url, Type: domain.MediaTypeFor(contentType)}, nil
}

// BlobPath is where an attachment sent at unixMillis is stored.
func BlobPath(convID string, unixMillis int64, name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		name = "attachment"
	}
	return fmt.Sprintf("messages/%s/%d_%s", convID, unixMillis, name)
}

func (s *Sender) mediaPreview(ctx context.Context, senderID string, t domain.MediaType) string {
	name := "User"
	if s.names != nil {
		if p, err := s.names.Get(ctx, senderID); err == nil && !p.Missing && p.Username != "" {
			name = p.Username
		}
	}
	if t == domain.MediaImage {
		return name + " sent an image"
	}
	return name + " sent a file"
}
