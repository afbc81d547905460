package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Message is a chat message. It is immutable after creation except for the seen marker.
type Message struct {
	// ID is a ULID, so ids sort by creation time.
	ID     string `gorm:"primaryKey;type:varchar(26)" json:"id"`
	ChatID string `gorm:"type:varchar(36);not null;index:idx_chat_created" json:"chat_id"`
	// SenderID is the real author.
	SenderID string `gorm:"type:varchar(36);not null" json:"sender_id"`
	// ApparentSenderID is the identity shown to readers while the author is swapped.
	ApparentSenderID *string   `gorm:"type:varchar(36)" json:"apparent_sender_id,omitempty"`
	Content          string    `gorm:"type:text;not null" json:"content"`
	CreatedAt        time.Time `gorm:"index:idx_chat_created" json:"created_at"`
	DuringSwap       bool      `gorm:"not null;default:false" json:"during_swap"`
	Seen             bool      `gorm:"not null;default:false" json:"seen"`
}

// BeforeCreate assigns a ULID if the message has no id yet.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	return
}
