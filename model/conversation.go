package model

import (
	"time"

	uuid "github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	DefaultConversationName = "New Chat"
	NameMinLen              = 3
	NameMaxLen              = 100
)

// Conversation is a named, owned, ordered log of messages. Messages
// are rows keyed by conversation id, so an append is an insert and
// concurrent turns never overwrite each other.
type Conversation struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:idx_conversations_owner_updated" json:"-"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Messages  []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `gorm:"index:idx_conversations_owner_updated" json:"updatedAt"`
}

// BeforeCreate assigns the identifier.
func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// Message is one turn of a conversation. Rows are never edited or
// removed individually; ordering is the autoincrement id.
type Message struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string    `gorm:"type:varchar(36);not null;index" json:"-"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"timestamp"`
}

// ValidRole reports whether role is one of the enumerated set.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
