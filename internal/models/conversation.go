package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type Conversation struct {
	ID      string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OwnerID string `gorm:"column:owner_id;type:uuid;index" json:"owner_id"`
	Title   string `gorm:"column:title;type:text" json:"title"`

	// optional scope; empty means every completed document of the owner
	DocumentIDs pq.StringArray `gorm:"column:document_ids;type:text[]" json:"document_ids"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

const (
	TurnUser      = "user"
	TurnAssistant = "assistant"
)

type ChatTurn struct {
	ID             string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ConversationID string         `gorm:"column:conversation_id;type:uuid;index:idx_turn_conversation_created" json:"conversation_id"`
	OwnerID        string         `gorm:"column:owner_id;type:uuid;index" json:"owner_id"`
	Role           string         `gorm:"column:role;type:text" json:"role"` // "user" | "assistant"
	Content        string         `gorm:"column:content;type:text" json:"content"`
	Metadata       datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;type:timestamptz;index:idx_turn_conversation_created" json:"created_at"`
}

func (ChatTurn) TableName() string { return "chat_turns" }

type ConversationWithTurns struct {
	Conversation
	Turns []ChatTurn `json:"turns"`
}
