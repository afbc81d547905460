package swap

import (
	"context"
	"swapgogo/backend/internal/config"
	"swapgogo/backend/internal/metrics"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"time"
)

// SweepReport counts what one sweep run changed.
type SweepReport struct {
	SessionsExpired int   `json:"sessions_expired"`
	ChatsExpired    int   `json:"chats_expired"`
	RequestsPurged  int   `json:"requests_purged"`
	ClaimsPurged    int64 `json:"claims_purged"`
	UsersLoggedOut  int   `json:"users_logged_out"`
	Errors          int   `json:"errors"`
}

// Sweep expires elapsed sessions and windows, purges stale requests and
// notifies every affected chat and user once. A second run with no time
// elapsed changes nothing and sends nothing.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	return e.sweep(ctx, false)
}

// Cleanup is Sweep plus the removal of every pending request regardless of age.
func (e *Engine) Cleanup(ctx context.Context) (SweepReport, error) {
	return e.sweep(ctx, true)
}

func (e *Engine) sweep(ctx context.Context, allRequests bool) (SweepReport, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := e.clock()
	var report SweepReport
	users := make(map[string]time.Time)
	sessionChats := make(map[string]time.Time)

	// 1. Sessions still flagged active past their end.
	sessions, err := e.store.FindExpiredSessions(ctx, now)
	if err != nil {
		return report, err
	}
	for _, s := range sessions {
		ok, err := e.store.DeactivateSession(ctx, s.ID, now)
		if err != nil {
			e.rowFailed(&report, err, "session", s.ChatID)
			continue
		}
		if !ok {
			continue
		}
		report.SessionsExpired++
		for _, id := range []string{s.OwnerID, s.PartnerID} {
			if prev, seen := users[id]; !seen || s.EndsAt.After(prev) {
				users[id] = s.EndsAt
			}
		}
		if prev, seen := sessionChats[s.ChatID]; !seen || s.EndsAt.After(prev) {
			sessionChats[s.ChatID] = s.EndsAt
		}
	}

	// 2. Chats whose window has elapsed.
	var windows []ended
	chatIDs, err := e.store.FindExpiredChatIDs(ctx, now)
	if err != nil {
		return report, err
	}
	for _, chatID := range chatIDs {
		w, ok, err := e.expireChatTx(ctx, chatID, now)
		if err != nil {
			e.rowFailed(&report, err, "chat", chatID)
			continue
		}
		if ok {
			report.ChatsExpired++
			windows = append(windows, w)
			e.scheduler.Cancel(expiryKey(chatID))
		}
	}

	// 3. Requests that never reached activation.
	cutoff := now.Add(-config.StaleRequestAfter)
	if allRequests {
		cutoff = now
	}
	requestIDs, err := e.store.FindRequestChatIDs(ctx, cutoff)
	if err != nil {
		return report, err
	}
	for _, chatID := range requestIDs {
		ok, err := e.purgeRequest(ctx, chatID, now, allRequests)
		if err != nil {
			e.rowFailed(&report, err, "request", chatID)
			continue
		}
		if ok {
			report.RequestsPurged++
		}
	}

	// 4. Notify once per chat and once per user. Chats whose sessions expired
	// after their window was already cleared still get swap.expire.
	for _, chatID := range sortedKeys(sessionChats) {
		end := sessionChats[chatID]
		windows = append(windows, ended{chatID: chatID, endsAt: &end})
	}
	report.UsersLoggedOut = e.notifyEnded(ctx, windows, users)

	// 5. Drop claims nobody holds anymore.
	if n, err := e.store.PurgeExpiredClaims(ctx, now); err != nil {
		e.rowFailed(&report, err, "claims", "")
	} else {
		report.ClaimsPurged = n
	}

	if report.SessionsExpired+report.ChatsExpired+report.RequestsPurged > 0 || report.Errors > 0 {
		e.log.Info().
			Int("sessions", report.SessionsExpired).
			Int("chats", report.ChatsExpired).
			Int("requests", report.RequestsPurged).
			Int("users", report.UsersLoggedOut).
			Int("errors", report.Errors).
			Msg("Swap sweep completed")
	}
	return report, nil
}

func (e *Engine) rowFailed(report *SweepReport, err error, kind, chatID string) {
	report.Errors++
	metrics.SweepRowErrors.Inc()
	e.log.Warn().Err(err).Str("row", kind).Str("chat_id", chatID).Msg("Sweep skipped row")
}

// ExpireChat tears down the chat's window if it has elapsed and notifies its
// participants. It reports false when there was nothing to expire.
func (e *Engine) ExpireChat(ctx context.Context, chatID string) (bool, error) {
	w, ok, err := e.expireChatTx(ctx, chatID, e.clock())
	if err != nil || !ok {
		return false, err
	}
	e.notifyEnded(ctx, []ended{w}, map[string]time.Time{})
	return true, nil
}

func (e *Engine) expireChatTx(ctx context.Context, chatID string, now time.Time) (ended, bool, error) {
	var (
		w  ended
		ok bool
	)
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		ok = false

		chat, err := tx.LockChat(chatID)
		if err != nil {
			return chatErr(err)
		}
		// Re-check under the lock: a cancel or a new activation may have won.
		if !chat.WindowElapsed(now) {
			return nil
		}
		members, err := tx.ParticipantIDs(chatID)
		if err != nil {
			return err
		}
		if w, err = teardownWindow(tx, chat, members); err != nil {
			return err
		}
		ok = true
		return tx.SaveChatSwap(chat)
	})
	if err == nil && ok {
		e.observe("expire", nil)
		e.log.Info().Str("chat_id", chatID).Msg("Swap window expired")
	}
	return w, ok, err
}

// purgeRequest clears a request that is stale: older than the staleness
// threshold and not fully confirmed, or older than the safety net. With force
// every pending request is cleared.
func (e *Engine) purgeRequest(ctx context.Context, chatID string, now time.Time, force bool) (bool, error) {
	var (
		purged  bool
		members []string
		key     string
	)
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		purged = false

		chat, err := tx.LockChat(chatID)
		if err != nil {
			return chatErr(err)
		}
		if !chat.HasPendingRequest() {
			return nil
		}
		if members, err = tx.ParticipantIDs(chatID); err != nil {
			return err
		}
		if !force && !isStale(chat, members, now) {
			return nil
		}
		key = stampPtr(chat.SwapRequestedAt)
		chat.ClearRequest()
		purged = true
		return tx.SaveChatSwap(chat)
	})
	if err != nil || !purged {
		return false, err
	}

	e.observe("purge", nil)
	e.scheduler.Cancel(activationKey(chatID))
	e.notifier.PublishToChat(ctx, chatID, cancelEvent(chatID, config.SystemCancelledBy, key))
	e.notifyOthers(ctx, members, "", inviteEvent(models.TypeSwapCancel, chatID, config.SystemCancelledBy, key))
	return true, nil
}

func isStale(chat *models.ChatRoom, members []string, now time.Time) bool {
	age := chat.RequestAge(now)
	if age > config.RequestSafetyNet {
		return true
	}
	return age > config.StaleRequestAfter && !chat.AllConfirmed(members)
}

// RunSweeper runs Sweep every interval until ctx is cancelled. A panicking or
// failing run is logged and the loop carries on.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info().Dur("interval", interval).Msg("Swap sweeper started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("Swap sweeper stopped")
			return
		case <-ticker.C:
			e.sweepOnce(ctx)
		}
	}
}

func (e *Engine) sweepOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("Swap sweep panicked")
		}
	}()
	if _, err := e.Sweep(ctx); err != nil {
		e.log.Error().Err(err).Msg("Swap sweep failed")
	}
}
