package swap

import (
	"context"
	"errors"
	"swapgogo/backend/internal/config"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"time"
)

// RequestResult describes the pending request after Request.
// Created is false when the caller already owned a fresh request.
type RequestResult struct {
	Created     bool
	RequestedBy string
	Duration    int
	RequestedAt time.Time
}

// ConfirmResult describes the confirmed set after Confirm.
// Changed is false when the user had already confirmed.
type ConfirmResult struct {
	AllConfirmed bool
	Changed      bool
}

// Assignment is the partner one participant presents as during a swap.
type Assignment struct {
	UserID              string
	PartnerID           string
	PartnerUsername     string
	PartnerProfileImage *string
	StartedAt           time.Time
	EndsAt              time.Time
}

// Activation is the outcome of a successful Activate.
type Activation struct {
	ChatID      string
	StartedAt   time.Time
	EndsAt      time.Time
	Assignments []Assignment
}

// CancelResult reports what Cancel cleared.
type CancelResult struct {
	Cancelled     bool
	HadRequest    bool
	WindowCleared bool
}

// Request opens a swap request in chatID on behalf of requesterID.
// minutes == 0 selects the default duration.
func (e *Engine) Request(ctx context.Context, chatID, requesterID string, minutes int) (*RequestResult, error) {
	if minutes == 0 {
		minutes = int(config.DefaultSwapDuration / time.Minute)
	}
	if minutes < 0 || time.Duration(minutes)*time.Minute > config.MaxSwapDuration {
		return nil, ErrInvalidDuration
	}

	now := e.clock()
	var (
		res      RequestResult
		members  []string
		username string
		expired  []ended
		staleKey string
	)
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		res, expired, staleKey = RequestResult{}, nil, ""

		chat, ids, err := lockMember(tx, chatID, requesterID)
		if err != nil {
			return err
		}
		members = ids

		if chat.WindowLive(now) {
			return ErrAlreadyActive
		}
		if chat.WindowElapsed(now) {
			w, err := teardownWindow(tx, chat, members)
			if err != nil {
				return err
			}
			expired = append(expired, w)
		}

		if chat.HasPendingRequest() && chat.RequestAge(now) <= config.StaleRequestAfter {
			if chat.RequestedBy() != requesterID {
				return &PendingError{RequestedBy: chat.RequestedBy()}
			}
			res = RequestResult{
				RequestedBy: requesterID,
				Duration:    chat.SwapDuration,
				RequestedAt: *chat.SwapRequestedAt,
			}
			if len(expired) > 0 {
				return tx.SaveChatSwap(chat)
			}
			return nil
		}

		live, err := tx.LiveSessionsFor(members, now)
		if err != nil {
			return err
		}
		if busy := owners(live); len(busy) > 0 {
			return &BusyError{Users: busy}
		}

		if chat.HasPendingRequest() {
			staleKey = stampPtr(chat.SwapRequestedAt)
		}
		chat.OpenRequest(requesterID, minutes, now)
		if err := tx.SaveChatSwap(chat); err != nil {
			return err
		}

		users, err := tx.GetUsers([]string{requesterID})
		if err != nil {
			return err
		}
		username = users[requesterID].Username
		res = RequestResult{Created: true, RequestedBy: requesterID, Duration: minutes, RequestedAt: now}
		return nil
	})
	e.observe("request", err)
	if err != nil {
		return nil, err
	}

	if len(expired) > 0 {
		e.log.Info().Str("chat_id", chatID).Msg("Expired elapsed swap window before new request")
		e.notifyEnded(ctx, expired, map[string]time.Time{})
	}
	if !res.Created {
		return &res, nil
	}

	e.log.Info().
		Str("chat_id", chatID).
		Str("requested_by", requesterID).
		Int("duration", minutes).
		Msg("Swap requested")

	if staleKey != "" {
		// The replaced request is withdrawn the same way the sweep purges it.
		e.scheduler.Cancel(activationKey(chatID))
		e.notifier.PublishToChat(ctx, chatID, cancelEvent(chatID, config.SystemCancelledBy, staleKey))
		e.notifyOthers(ctx, members, "", inviteEvent(models.TypeSwapCancel, chatID, config.SystemCancelledBy, staleKey))
	}

	key := stamp(res.RequestedAt)
	e.notifier.PublishToChat(ctx, chatID, requestEvent(chatID, requesterID, username, minutes, res.RequestedAt))
	e.notifyOthers(ctx, members, requesterID, inviteEvent(models.TypeSwapInvite, chatID, requesterID, key))
	return &res, nil
}

// Confirm adds userID to the confirmed set of the pending request. Once every
// participant has confirmed, activation is scheduled after a short delay.
// A repeat confirm by the same user reports the current AllConfirmed rather
// than false, with Changed unset, and publishes or schedules nothing.
func (e *Engine) Confirm(ctx context.Context, chatID, userID string) (*ConfirmResult, error) {
	now := e.clock()
	var (
		res         ConfirmResult
		requestedAt time.Time
	)
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		res = ConfirmResult{}

		chat, members, err := lockMember(tx, chatID, userID)
		if err != nil {
			return err
		}
		if !chat.HasPendingRequest() || chat.RequestAge(now) > config.StaleRequestAfter {
			return ErrNoPendingRequest
		}
		requestedAt = *chat.SwapRequestedAt

		if chat.IsConfirmed(userID) {
			res.AllConfirmed = chat.AllConfirmed(members)
			return nil
		}

		chat.SwapConfirmedUsers = append(chat.SwapConfirmedUsers, userID)
		if err := tx.SaveChatSwap(chat); err != nil {
			return err
		}
		res = ConfirmResult{AllConfirmed: chat.AllConfirmed(members), Changed: true}
		return nil
	})
	e.observe("confirm", err)
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		return &res, nil
	}

	e.log.Info().
		Str("chat_id", chatID).
		Str("user_id", userID).
		Bool("all_confirmed", res.AllConfirmed).
		Msg("Swap confirmed")

	e.notifier.PublishToChat(ctx, chatID, confirmEvent(chatID, userID, res.AllConfirmed, requestedAt))
	if res.AllConfirmed {
		e.scheduler.After(activationKey(chatID), e.activationDelay, func() {
			e.runActivation(chatID, userID)
		})
	}
	return &res, nil
}

func (e *Engine) runActivation(chatID, confirmerID string) {
	ctx, cancel := e.background()
	defer cancel()

	if _, err := e.Activate(ctx, chatID); err != nil {
		if errors.Is(err, ErrRequestGone) {
			e.log.Debug().Str("chat_id", chatID).Msg("Swap request gone before activation")
			return
		}
		e.log.Warn().Err(err).Str("chat_id", chatID).Msg("Scheduled swap activation failed")
		e.notifier.PublishToUser(ctx, confirmerID, ErrorEvent(chatID, err.Error(), ""))
	}
}

// Activate turns a fully confirmed request into a running swap window. The
// precondition is re-checked: a request cancelled or swept during the
// activation delay yields ErrRequestGone.
func (e *Engine) Activate(ctx context.Context, chatID string) (*Activation, error) {
	now := e.clock()
	var (
		act     Activation
		expired []ended
	)
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		act, expired = Activation{ChatID: chatID}, nil

		chat, err := tx.LockChat(chatID)
		if err != nil {
			return chatErr(err)
		}
		members, err := tx.ParticipantIDs(chatID)
		if err != nil {
			return err
		}

		if chat.WindowLive(now) {
			return ErrAlreadyActive
		}
		if !chat.HasPendingRequest() || !chat.AllConfirmed(members) ||
			chat.RequestAge(now) > config.RequestSafetyNet {
			return ErrRequestGone
		}
		if chat.WindowElapsed(now) {
			w, err := teardownWindow(tx, chat, members)
			if err != nil {
				return err
			}
			expired = append(expired, w)
		}

		minutes := chat.SwapDuration
		if minutes <= 0 {
			minutes = int(config.DefaultSwapDuration / time.Minute)
		}
		start := now
		end := start.Add(time.Duration(minutes) * time.Minute)

		var busy []string
		for _, id := range members {
			ok, err := tx.ClaimParticipant(id, chatID, end, now)
			if err != nil {
				return err
			}
			if !ok {
				busy = append(busy, id)
			}
		}
		if len(busy) > 0 {
			return &BusyError{Users: busy}
		}

		if _, err := tx.DeactivateSessionsFor(members); err != nil {
			return err
		}
		if err := tx.PurgeMessageCounts(chatID); err != nil {
			return err
		}

		sessions := make([]models.SwapSession, 0, len(members)*(len(members)-1))
		for _, owner := range members {
			for _, partner := range members {
				if owner == partner {
					continue
				}
				sessions = append(sessions, models.SwapSession{
					OwnerID:   owner,
					PartnerID: partner,
					ChatID:    chatID,
					StartedAt: start,
					EndsAt:    end,
					Active:    true,
				})
			}
		}
		if err := tx.CreateSessions(sessions); err != nil {
			return err
		}

		chat.ClearRequest()
		chat.StartWindow(start, end)
		if err := tx.SaveChatSwap(chat); err != nil {
			return err
		}

		users, err := tx.GetUsers(members)
		if err != nil {
			return err
		}
		act.StartedAt, act.EndsAt = start, end
		for _, id := range members {
			partner := users[PartnerFor(id, members)]
			act.Assignments = append(act.Assignments, Assignment{
				UserID:              id,
				PartnerID:           PartnerFor(id, members),
				PartnerUsername:     partner.Username,
				PartnerProfileImage: partner.ProfileImageURL,
				StartedAt:           start,
				EndsAt:              end,
			})
		}
		return nil
	})
	e.observe("activate", err)
	if err != nil {
		return nil, err
	}

	if len(expired) > 0 {
		e.notifyEnded(ctx, expired, map[string]time.Time{})
	}

	e.log.Info().
		Str("chat_id", chatID).
		Time("ends_at", act.EndsAt).
		Int("participants", len(act.Assignments)).
		Msg("Swap activated")

	for _, a := range act.Assignments {
		e.notifier.PublishToUser(ctx, a.UserID, activateEvent(chatID, a, config.SwapMessageLimit))
	}

	e.scheduler.Cancel(expiryKey(chatID))
	e.scheduler.After(expiryKey(chatID), act.EndsAt.Sub(now)+config.ExpiryNotifyGrace, func() {
		ctx, cancel := e.background()
		defer cancel()
		if _, err := e.ExpireChat(ctx, chatID); err != nil {
			e.log.Warn().Err(err).Str("chat_id", chatID).Msg("Scheduled swap expiry failed")
		}
	})
	return &act, nil
}

// Cancel clears every swap-related field of the chat, including a running
// window, on behalf of a participant.
func (e *Engine) Cancel(ctx context.Context, chatID, userID string) (*CancelResult, error) {
	var (
		res     CancelResult
		members []string
		key     string
		window  ended
	)
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		res = CancelResult{}

		chat, ids, err := lockMember(tx, chatID, userID)
		if err != nil {
			return err
		}
		members = ids

		res.HadRequest = chat.HasPendingRequest()
		if res.HadRequest {
			key = stampPtr(chat.SwapRequestedAt)
		} else {
			key = stampPtr(chat.SwapStartedAt)
		}
		if !res.HadRequest && !chat.SwapActive {
			return nil
		}

		chat.ClearRequest()
		if chat.SwapActive {
			w, err := teardownWindow(tx, chat, members)
			if err != nil {
				return err
			}
			window = w
			res.WindowCleared = true
		}
		res.Cancelled = true
		return tx.SaveChatSwap(chat)
	})
	e.observe("cancel", err)
	if err != nil {
		return nil, err
	}
	if !res.Cancelled {
		return &res, nil
	}

	e.scheduler.Cancel(activationKey(chatID))
	e.log.Info().
		Str("chat_id", chatID).
		Str("cancelled_by", userID).
		Bool("window_cleared", res.WindowCleared).
		Msg("Swap cancelled")

	e.notifier.PublishToChat(ctx, chatID, cancelEvent(chatID, userID, key))
	if res.HadRequest {
		e.notifyOthers(ctx, members, userID, inviteEvent(models.TypeSwapCancel, chatID, userID, key))
	}
	if res.WindowCleared {
		e.scheduler.Cancel(expiryKey(chatID))
		e.notifyEnded(ctx, []ended{window}, map[string]time.Time{})
	}
	return &res, nil
}

// ReleaseOnDisconnect clears the pending request of chatID when its
// requester goes away before the chat became active. It reports whether
// anything was cleared.
func (e *Engine) ReleaseOnDisconnect(ctx context.Context, chatID, userID string) (bool, error) {
	var (
		cleared bool
		members []string
		key     string
	)
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		cleared = false

		chat, ids, err := lockMember(tx, chatID, userID)
		if err != nil {
			return err
		}
		members = ids
		if chat.SwapActive || !chat.HasPendingRequest() || chat.RequestedBy() != userID {
			return nil
		}
		key = stampPtr(chat.SwapRequestedAt)
		chat.ClearRequest()
		cleared = true
		return tx.SaveChatSwap(chat)
	})
	if err != nil || !cleared {
		return false, err
	}

	e.observe("cancel", nil)
	e.scheduler.Cancel(activationKey(chatID))
	e.log.Info().Str("chat_id", chatID).Str("user_id", userID).Msg("Swap request released on requester disconnect")

	e.notifier.PublishToChat(ctx, chatID, cancelEvent(chatID, userID, key))
	e.notifyOthers(ctx, members, userID, inviteEvent(models.TypeSwapCancel, chatID, userID, key))
	return true, nil
}

// Reset clears all swap state of a chat without a participant check. It is
// the operator escape hatch for corrupted rows.
func (e *Engine) Reset(ctx context.Context, chatID string) (*CancelResult, error) {
	var (
		res    CancelResult
		window ended
	)
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		res = CancelResult{}

		chat, err := tx.LockChat(chatID)
		if err != nil {
			return chatErr(err)
		}
		members, err := tx.ParticipantIDs(chatID)
		if err != nil {
			return err
		}

		res.HadRequest = chat.HasPendingRequest()
		chat.ClearRequest()
		// Sessions are torn down even when the window flag is already off.
		w, err := teardownWindow(tx, chat, members)
		if err != nil {
			return err
		}
		window = w
		res.WindowCleared = w.endsAt != nil
		res.Cancelled = res.HadRequest || res.WindowCleared
		return tx.SaveChatSwap(chat)
	})
	if err != nil {
		return nil, err
	}

	e.scheduler.Cancel(activationKey(chatID))
	e.scheduler.Cancel(expiryKey(chatID))
	if res.HadRequest {
		e.notifier.PublishToChat(ctx, chatID, cancelEvent(chatID, config.SystemCancelledBy, "reset"))
	}
	if res.WindowCleared {
		e.notifyEnded(ctx, []ended{window}, map[string]time.Time{})
	}
	e.log.Info().Str("chat_id", chatID).Bool("cancelled", res.Cancelled).Msg("Swap state reset")
	return &res, nil
}

// teardownWindow deactivates every session created by the chat's window,
// releases the participants' claims and clears the window fields.
// The caller saves the chat.
func teardownWindow(tx storage.Tx, chat *models.ChatRoom, members []string) (ended, error) {
	w := ended{chatID: chat.ID, endsAt: chat.SwapEndsAt, members: members}
	if _, err := tx.DeactivateChatSessions(chat.ID); err != nil {
		return w, err
	}
	if err := tx.ReleaseClaims(chat.ID); err != nil {
		return w, err
	}
	chat.ClearWindow()
	return w, nil
}
