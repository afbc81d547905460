package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatRoom is a conversation between two or more participants.
// It owns at most one pending swap request and at most one swap window;
// the two are never live at the same time.
type ChatRoom struct {
	// ID is the unique identifier for the chat (UUID).
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// SwapRequestedBy is the user who opened the pending swap request, if any.
	SwapRequestedBy *string `gorm:"type:varchar(36);index" json:"swap_requested_by,omitempty"`
	// SwapRequestedAt is when the pending request was created.
	SwapRequestedAt *time.Time `json:"swap_requested_at,omitempty"`
	// SwapDuration is the requested window length in minutes.
	SwapDuration int `json:"swap_duration,omitempty"`
	// SwapConfirmedUsers holds the ids that accepted the pending request (requester included).
	SwapConfirmedUsers []string `gorm:"type:text;serializer:json" json:"swap_confirmed_users,omitempty"`

	// SwapActive marks a running swap window.
	SwapActive    bool       `gorm:"index" json:"swap_active"`
	SwapStartedAt *time.Time `json:"swap_started_at,omitempty"`
	SwapEndsAt    *time.Time `gorm:"index" json:"swap_ends_at,omitempty"`

	Participants []ChatParticipant `gorm:"foreignKey:ChatID" json:"participants,omitempty"`
}

// ChatParticipant links a user to a chat.
type ChatParticipant struct {
	ChatID   string    `gorm:"primaryKey;type:varchar(36)" json:"chat_id"`
	UserID   string    `gorm:"primaryKey;type:varchar(36);index" json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// SwapColumns lists the chat columns written by the swap engine.
var SwapColumns = []string{
	"swap_requested_by",
	"swap_requested_at",
	"swap_duration",
	"swap_confirmed_users",
	"swap_active",
	"swap_started_at",
	"swap_ends_at",
}

// BeforeCreate generates a UUID for the chat if none is set.
func (c *ChatRoom) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// HasPendingRequest reports whether a swap request is waiting for confirmations.
func (c *ChatRoom) HasPendingRequest() bool {
	return c.SwapRequestedBy != nil && *c.SwapRequestedBy != ""
}

// RequestAge returns how long the pending request has existed.
// A request without a timestamp is treated as infinitely old.
func (c *ChatRoom) RequestAge(now time.Time) time.Duration {
	if c.SwapRequestedAt == nil {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(*c.SwapRequestedAt)
}

// RequestedBy returns the requester id or "".
func (c *ChatRoom) RequestedBy() string {
	if c.SwapRequestedBy == nil {
		return ""
	}
	return *c.SwapRequestedBy
}

// WindowLive reports whether the swap window is active and has not elapsed.
func (c *ChatRoom) WindowLive(now time.Time) bool {
	return c.SwapActive && c.SwapEndsAt != nil && c.SwapEndsAt.After(now)
}

// WindowElapsed reports whether the window is still flagged active but past its end.
func (c *ChatRoom) WindowElapsed(now time.Time) bool {
	return c.SwapActive && (c.SwapEndsAt == nil || !c.SwapEndsAt.After(now))
}

// IsConfirmed reports whether userID already accepted the pending request.
func (c *ChatRoom) IsConfirmed(userID string) bool {
	return slices.Contains(c.SwapConfirmedUsers, userID)
}

// AllConfirmed reports whether every participant is in the confirmed set.
func (c *ChatRoom) AllConfirmed(participantIDs []string) bool {
	if len(participantIDs) == 0 {
		return false
	}
	for _, id := range participantIDs {
		if !c.IsConfirmed(id) {
			return false
		}
	}
	return true
}

// OpenRequest records a fresh request with the requester auto-confirmed.
func (c *ChatRoom) OpenRequest(requesterID string, minutes int, now time.Time) {
	c.SwapRequestedBy = &requesterID
	c.SwapRequestedAt = &now
	c.SwapDuration = minutes
	c.SwapConfirmedUsers = []string{requesterID}
}

// ClearRequest drops the pending request fields.
func (c *ChatRoom) ClearRequest() {
	c.SwapRequestedBy = nil
	c.SwapRequestedAt = nil
	c.SwapDuration = 0
	c.SwapConfirmedUsers = nil
}

// StartWindow marks the swap window active between start and end.
func (c *ChatRoom) StartWindow(start, end time.Time) {
	c.SwapActive = true
	c.SwapStartedAt = &start
	c.SwapEndsAt = &end
}

// ClearWindow deactivates the swap window.
func (c *ChatRoom) ClearWindow() {
	c.SwapActive = false
	c.SwapStartedAt = nil
	c.SwapEndsAt = nil
}
