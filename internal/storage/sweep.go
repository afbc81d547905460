package storage

import (
	"context"
	"swapgogo/backend/internal/models"
	"time"
)

// FindExpiredSessions returns sessions still flagged active whose window has ended.
func (s *Service) FindExpiredSessions(ctx context.Context, now time.Time) ([]models.SwapSession, error) {
	var sessions []models.SwapSession
	err := s.DB.WithContext(ctx).
		Where("active = ? AND ends_at <= ?", true, now.UTC()).
		Order("id").
		Find(&sessions).Error
	return sessions, err
}

// DeactivateSession flips one expired session off. It reports false when the
// row was already inactive or was extended since it was read.
func (s *Service) DeactivateSession(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.SwapSession{}).
		Where("id = ? AND active = ? AND ends_at <= ?", id, true, now.UTC()).
		Update("active", false)
	return res.RowsAffected > 0, classify(res.Error)
}

// FindExpiredChatIDs returns chats whose swap window is still flagged active past its end.
func (s *Service) FindExpiredChatIDs(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("swap_active = ? AND (swap_ends_at IS NULL OR swap_ends_at <= ?)", true, now.UTC()).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// FindRequestChatIDs returns chats holding a request created at or before requestedBefore.
func (s *Service) FindRequestChatIDs(ctx context.Context, requestedBefore time.Time) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("swap_requested_by IS NOT NULL AND swap_requested_by <> ''").
		Where("swap_requested_at IS NULL OR swap_requested_at <= ?", requestedBefore.UTC()).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// PurgeExpiredClaims deletes claims whose window has ended.
func (s *Service) PurgeExpiredClaims(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("ends_at <= ?", now.UTC()).Delete(&models.SwapClaim{})
	return res.RowsAffected, res.Error
}
