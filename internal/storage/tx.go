package storage

import (
	"swapgogo/backend/internal/models"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const claimSQL = `
	INSERT INTO swap_claims (user_id, chat_id, ends_at) VALUES (?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE
		SET chat_id = excluded.chat_id, ends_at = excluded.ends_at
		WHERE swap_claims.ends_at <= ? OR swap_claims.chat_id = excluded.chat_id`

// txStore is the gorm-backed Tx. Every query must go through db; with SQLite
// there is a single connection and using anything else would deadlock.
type txStore struct {
	db *gorm.DB
}

func (t *txStore) LockChat(chatID string) (*models.ChatRoom, error) {
	q := t.db.Where("id = ?", chatID)
	// SQLite serializes writers on its own and has no FOR UPDATE.
	if t.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var chat models.ChatRoom
	if err := q.First(&chat).Error; err != nil {
		return nil, notFound(err)
	}
	return &chat, nil
}

func (t *txStore) GetChat(chatID string) (*models.ChatRoom, error) {
	var chat models.ChatRoom
	if err := t.db.Where("id = ?", chatID).First(&chat).Error; err != nil {
		return nil, notFound(err)
	}
	return &chat, nil
}

func (t *txStore) SaveChatSwap(chat *models.ChatRoom) error {
	return t.db.Model(chat).
		Select(models.SwapColumns).
		Updates(chat).Error
}

// ParticipantIDs returns the member ids of chatID in ascending order.
func (t *txStore) ParticipantIDs(chatID string) ([]string, error) {
	var ids []string
	err := t.db.Model(&models.ChatParticipant{}).
		Where("chat_id = ?", chatID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (t *txStore) IsParticipant(chatID, userID string) (bool, error) {
	var n int64
	err := t.db.Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&n).Error
	return n > 0, err
}

func (t *txStore) GetUsers(userIDs []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var users []models.User
	if err := t.db.Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// LiveSessionsFor returns active, unelapsed sessions owned by any of userIDs.
func (t *txStore) LiveSessionsFor(userIDs []string, now time.Time) ([]models.SwapSession, error) {
	var sessions []models.SwapSession
	if len(userIDs) == 0 {
		return sessions, nil
	}
	err := t.db.Where("owner_id IN ? AND active = ? AND ends_at > ?", userIDs, true, now.UTC()).
		Order("owner_id, partner_id").
		Find(&sessions).Error
	return sessions, err
}

func (t *txStore) DeactivateSessionsFor(userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	res := t.db.Model(&models.SwapSession{}).
		Where("owner_id IN ? AND active = ?", userIDs, true).
		Update("active", false)
	return res.RowsAffected, res.Error
}

func (t *txStore) DeactivateChatSessions(chatID string) (int64, error) {
	res := t.db.Model(&models.SwapSession{}).
		Where("chat_id = ? AND active = ?", chatID, true).
		Update("active", false)
	return res.RowsAffected, res.Error
}

func (t *txStore) CreateSessions(sessions []models.SwapSession) error {
	if len(sessions) == 0 {
		return nil
	}
	return t.db.Create(&sessions).Error
}

// IncrementSessionCount bumps the history counter of ownerID's live sessions.
func (t *txStore) IncrementSessionCount(ownerID string, now time.Time) error {
	return t.db.Model(&models.SwapSession{}).
		Where("owner_id = ? AND active = ? AND ends_at > ?", ownerID, true, now.UTC()).
		UpdateColumn("message_count", gorm.Expr("message_count + 1")).Error
}

// ClaimParticipant reserves userID for chatID until endsAt. It fails (false)
// when the user still holds an unelapsed claim from another chat.
func (t *txStore) ClaimParticipant(userID, chatID string, endsAt, now time.Time) (bool, error) {
	res := t.db.Exec(claimSQL, userID, chatID, endsAt.UTC(), now.UTC())
	return res.RowsAffected > 0, res.Error
}

func (t *txStore) ReleaseClaims(chatID string) error {
	return t.db.Where("chat_id = ?", chatID).Delete(&models.SwapClaim{}).Error
}

func (t *txStore) MessageCount(chatID, userID string, windowStart time.Time) (int, error) {
	var row models.SwapMessageCount
	err := t.db.Where("chat_id = ? AND user_id = ? AND window_start = ?", chatID, userID, windowStart.UTC()).
		Limit(1).
		Find(&row).Error
	return row.Sent, err
}

// ConsumeMessageQuota atomically takes one message from the allowance of
// userID in chatID for the window starting at windowStart. It reports false
// once limit messages were already consumed.
func (t *txStore) ConsumeMessageQuota(chatID, userID string, windowStart time.Time, limit int) (bool, error) {
	row := models.SwapMessageCount{ChatID: chatID, UserID: userID, WindowStart: windowStart.UTC()}
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return false, err
	}

	res := t.db.Model(&models.SwapMessageCount{}).
		Where("chat_id = ? AND user_id = ? AND window_start = ? AND sent < ?", chatID, userID, windowStart.UTC(), limit).
		UpdateColumn("sent", gorm.Expr("sent + 1"))
	return res.RowsAffected == 1, res.Error
}

func (t *txStore) PurgeMessageCounts(chatID string) error {
	return t.db.Where("chat_id = ?", chatID).Delete(&models.SwapMessageCount{}).Error
}

func (t *txStore) CreateMessage(msg *models.Message) error {
	return t.db.Create(msg).Error
}
