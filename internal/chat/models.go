package chat

import "time"

// Role values for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Chat struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title           string    `gorm:"type:text;not null" json:"title"`
	Model           string    `gorm:"type:varchar(64);not null" json:"model"`
	SendFullHistory bool      `gorm:"not null;default:true" json:"send_full_history"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	// ULID primary key: lexicographic order matches insertion order, which
	// is the tie-break for messages sharing a timestamp.
	ID        string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	ChatID    string    `gorm:"type:varchar(36);not null;index:idx_messages_chat_timestamp,priority:1" json:"chat_id"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Timestamp time.Time `gorm:"not null;index:idx_messages_chat_timestamp,priority:2" json:"timestamp"`
}

func (Message) TableName() string { return "messages" }
