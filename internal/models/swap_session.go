package models

import "time"

// SwapSession is one directed pair of an activated swap: while it is live,
// Owner's outgoing messages are presented as coming from Partner.
// Rows are deactivated on expiry or teardown and kept as history.
type SwapSession struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	OwnerID      string    `gorm:"type:varchar(36);not null;index:idx_swap_owner_active" json:"owner_id"`
	PartnerID    string    `gorm:"type:varchar(36);not null" json:"partner_id"`
	ChatID       string    `gorm:"type:varchar(36);not null;index" json:"chat_id"`
	StartedAt    time.Time `gorm:"not null" json:"started_at"`
	EndsAt       time.Time `gorm:"not null;index" json:"ends_at"`
	Active       bool      `gorm:"not null;index:idx_swap_owner_active" json:"active"`
	MessageCount int       `gorm:"not null;default:0" json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Live reports whether the session is active and its window has not elapsed.
func (s *SwapSession) Live(now time.Time) bool {
	return s.Active && s.EndsAt.After(now)
}

// SwapClaim reserves a user for exactly one swap window system-wide.
// A claim whose EndsAt has passed can be taken over by another chat.
type SwapClaim struct {
	UserID string    `gorm:"primaryKey;type:varchar(36)"`
	ChatID string    `gorm:"type:varchar(36);not null;index"`
	EndsAt time.Time `gorm:"not null;index"`
}

// SwapMessageCount is the per-chat message counter of a user within one swap window.
type SwapMessageCount struct {
	ChatID      string    `gorm:"primaryKey;type:varchar(36)"`
	UserID      string    `gorm:"primaryKey;type:varchar(36)"`
	WindowStart time.Time `gorm:"primaryKey"`
	Sent        int       `gorm:"not null;default:0"`
}
