package models

import "time"

// Conversation is a direct thread between two users. UserLowID < UserHighID.
type Conversation struct {
	ConversationID uint       `gorm:"primaryKey;column:conversation_id" json:"id"`
	UserLowID      uint       `gorm:"column:user_low_id;uniqueIndex:idx_conversations_pair;not null" json:"userLowId"`
	UserHighID     uint       `gorm:"column:user_high_id;uniqueIndex:idx_conversations_pair;not null" json:"userHighId"`
	CompetitionID  *uint      `gorm:"column:competition_id" json:"competitionId,omitempty"`
	LastMessageAt  *time.Time `gorm:"column:last_message_at" json:"lastMessageAt"`
	CreateAt       time.Time  `gorm:"column:create_at;autoCreateTime" json:"createdAt"`
}

func (Conversation) TableName() string { return "conversations" }

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID uint) bool {
	return c.UserLowID == userID || c.UserHighID == userID
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID uint) uint {
	if c.UserLowID == userID {
		return c.UserHighID
	}
	return c.UserLowID
}

type Message struct {
	MessageID      uint       `gorm:"primaryKey;column:message_id" json:"id"`
	ConversationID uint       `gorm:"column:conversation_id;index;not null" json:"conversationId"`
	SenderID       uint       `gorm:"column:sender_id;not null" json:"senderId"`
	Body           string     `gorm:"column:body;type:text" json:"body"`
	CreateAt       time.Time  `gorm:"column:create_at" json:"createdAt"`
	ReadAt         *time.Time `gorm:"column:read_at" json:"readAt"`
}

func (Message) TableName() string { return "messages" }
