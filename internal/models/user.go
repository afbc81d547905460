package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the read model of a profile owned by the account service.
type User struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	// ProfileImageURL is empty when the user never uploaded an image.
	ProfileImageURL *string   `json:"profile_image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// BeforeCreate це хук GORM, який викликається перед створенням запису.
// Він генерує новий UUID для користувача, якщо ID ще не встановлено.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
