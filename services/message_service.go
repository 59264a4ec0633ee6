package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"nextcompete-api/config"
	"nextcompete-api/models"
	"nextcompete-api/utils"
)

// MaxMessageLength is the longest message body accepted, in characters.
const MaxMessageLength = 5000

// ConversationView is a conversation from one participant's side.
type ConversationView struct {
	models.Conversation
	OtherUserID uint            `json:"otherUserId"`
	LastMessage *models.Message `json:"lastMessage,omitempty"`
	UnreadCount int64           `json:"unreadCount"`
}

type MessageService struct {
	db       *gorm.DB
	notifier Notifier
	clock    Clock
}

func NewMessageService(db *gorm.DB, notifier Notifier) *MessageService {
	if db == nil {
		db = config.DB
	}
	return &MessageService{db: db, notifier: notifier}
}

func (s *MessageService) WithClock(c Clock) *MessageService {
	s.clock = c
	return s
}

func orderedPair(a, b uint) (uint, uint) {
	if a < b {
		return a, b
	}
	return b, a
}

// FindOrCreate returns the conversation between the caller and otherUserID, creating it on
// first use. Calling it again with either participant returns the same conversation.
func (s *MessageService) FindOrCreate(ctx context.Context, p Principal, otherUserID uint, competitionID *uint) (*models.Conversation, error) {
	if otherUserID == 0 {
		return nil, invalid("userId", "userId is required")
	}
	if otherUserID == p.UserID {
		return nil, ErrSelfConversation
	}
	var other models.User
	err := s.db.WithContext(ctx).First(&other, otherUserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load user")
	}

	low, high := orderedPair(p.UserID, otherUserID)
	conv := models.Conversation{UserLowID: low, UserHighID: high, CompetitionID: competitionID}
	err = s.db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		FirstOrCreate(&conv).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost a race with the other participant
		err = s.db.WithContext(ctx).
			Where("user_low_id = ? AND user_high_id = ?", low, high).
			First(&conv).Error
	}
	if err != nil {
		return nil, errors.Wrap(err, "find or create conversation")
	}
	return &conv, nil
}

func (s *MessageService) conversation(ctx context.Context, p Principal, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).First(&conv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load conversation")
	}
	if !conv.HasParticipant(p.UserID) {
		return nil, ErrNotParticipant
	}
	return &conv, nil
}

// ListConversations returns the caller's conversations, most recently active first.
func (s *MessageService) ListConversations(ctx context.Context, p Principal) ([]ConversationView, error) {
	var convs []models.Conversation
	if err := s.db.WithContext(ctx).
		Where("user_low_id = ? OR user_high_id = ?", p.UserID, p.UserID).
		Order("last_message_at IS NULL, last_message_at DESC").
		Order("conversation_id DESC").
		Find(&convs).Error; err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}

	out := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		view := ConversationView{Conversation: c, OtherUserID: c.Other(p.UserID)}
		var last models.Message
		err := s.db.WithContext(ctx).Where("conversation_id = ?", c.ConversationID).
			Order("message_id DESC").First(&last).Error
		if err == nil {
			view.LastMessage = &last
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(err, "load last message")
		}
		if err := s.db.WithContext(ctx).Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", c.ConversationID, p.UserID).
			Count(&view.UnreadCount).Error; err != nil {
			return nil, errors.Wrap(err, "count unread messages")
		}
		out = append(out, view)
	}
	return out, nil
}

// ListMessages returns messages after afterID in send order. It has no side effects, so
// clients can poll it.
func (s *MessageService) ListMessages(ctx context.Context, p Principal, conversationID, afterID uint, limit int) ([]models.Message, error) {
	if _, err := s.conversation(ctx, p, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs := make([]models.Message, 0)
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND message_id > ?", conversationID, afterID).
		Order("message_id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, errors.Wrap(err, "list messages")
}

// Send appends a message and notifies the other participant.
func (s *MessageService) Send(ctx context.Context, p Principal, conversationID uint, body string) (*models.Message, error) {
	conv, err := s.conversation(ctx, p, conversationID)
	if err != nil {
		return nil, err
	}
	body = utils.SanitizeInput(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	now := s.clock.now()
	msg := models.Message{ConversationID: conv.ConversationID, SenderID: p.UserID, Body: body, CreateAt: now}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("conversation_id = ?", conv.ConversationID).
			Update("last_message_at", now).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "send message")
	}

	sender := p.Name
	if sender == "" {
		sender = p.Email
	}
	s.notifier.Notify(ctx, NotificationEvent{
		UserID: conv.Other(p.UserID),
		Event:  EventMessageReceived,
		Data:   map[string]string{"sender": sender, "preview": preview(body, 120)},
	})
	return &msg, nil
}

func preview(body string, n int) string {
	if utf8.RuneCountInString(body) <= n {
		return body
	}
	runes := []rune(body)
	return strings.TrimSpace(string(runes[:n])) + "..."
}

// MarkRead marks every message the caller received in the conversation as read and returns
// how many changed. Repeating it is harmless.
func (s *MessageService) MarkRead(ctx context.Context, p Principal, conversationID uint) (int64, error) {
	if _, err := s.conversation(ctx, p, conversationID); err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, p.UserID).
		Update("read_at", s.clock.now())
	return res.RowsAffected, errors.Wrap(res.Error, "mark messages read")
}
