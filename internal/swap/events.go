package swap

import (
	"context"
	"strconv"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"time"
)

func stamp(t time.Time) string { return strconv.FormatInt(t.UnixNano(), 10) }

func stampPtr(t *time.Time) string {
	if t == nil {
		return "0"
	}
	return stamp(*t)
}

func requestEvent(chatID, requester, username string, minutes int, at time.Time) models.Event {
	return models.NewKeyedEvent(models.TypeSwapRequest, chatID, models.SwapRequested{
		RequestedBy:         requester,
		RequestedByUsername: username,
		Duration:            minutes,
		RequestedAt:         at,
	}, requester, stamp(at))
}

func confirmEvent(chatID, userID string, all bool, requestedAt time.Time) models.Event {
	return models.NewKeyedEvent(models.TypeSwapConfirm, chatID, models.SwapConfirmed{
		UserID:       userID,
		AllConfirmed: all,
	}, userID, stamp(requestedAt))
}

func activateEvent(chatID string, a Assignment, remaining int) models.Event {
	return models.NewKeyedEvent(models.TypeSwapActivate, chatID, models.SwapActivated{
		PartnerID:           a.PartnerID,
		PartnerUsername:     a.PartnerUsername,
		PartnerProfileImage: a.PartnerProfileImage,
		StartedAt:           a.StartedAt,
		EndsAt:              a.EndsAt,
		Remaining:           remaining,
	}, a.UserID, stamp(a.StartedAt))
}

func cancelEvent(chatID, by, key string) models.Event {
	return models.NewKeyedEvent(models.TypeSwapCancel, chatID, models.SwapCancelled{CancelledBy: by}, by, key)
}

func inviteEvent(eventType, chatID, from, key string) models.Event {
	return models.NewKeyedEvent(eventType, chatID, models.SwapInvite{From: from}, from, key)
}

func expireEvent(chatID string, endsAt *time.Time) models.Event {
	return models.NewKeyedEvent(models.TypeSwapExpire, chatID, models.SwapEnded{ForceRedirect: true}, stampPtr(endsAt))
}

func logoutEvent(userID string, endsAt time.Time) models.Event {
	return models.NewKeyedEvent(models.TypeSwapLogout, "", models.SwapEnded{ForceRedirect: true}, userID, stamp(endsAt))
}

// ErrorEvent builds the error frame sent to a single connection or user.
func ErrorEvent(chatID, message, clientID string) models.Event {
	return models.NewEvent(models.TypeError, chatID, models.ErrorPayload{Message: message, ClientID: clientID})
}

// notifyOthers sends ev to the personal channel of every member except skip.
func (e *Engine) notifyOthers(ctx context.Context, members []string, skip string, ev models.Event) {
	for _, id := range members {
		if id != skip {
			e.notifier.PublishToUser(ctx, id, ev)
		}
	}
}

// ended describes a torn-down swap window that still needs notifications.
type ended struct {
	chatID  string
	endsAt  *time.Time
	members []string
}

// notifyEnded sends swap.expire to each chat and swap.logout to each user once.
// Users who are still in a live swap elsewhere are not logged out. It returns
// the number of logouts sent.
func (e *Engine) notifyEnded(ctx context.Context, windows []ended, users map[string]time.Time) int {
	seen := make(map[string]struct{}, len(windows))
	for _, w := range windows {
		if _, dup := seen[w.chatID]; !dup {
			seen[w.chatID] = struct{}{}
			e.notifier.PublishToChat(ctx, w.chatID, expireEvent(w.chatID, w.endsAt))
		}
		for _, id := range w.members {
			end := time.Time{}
			if w.endsAt != nil {
				end = *w.endsAt
			}
			if prev, ok := users[id]; !ok || end.After(prev) {
				users[id] = end
			}
		}
	}

	ids := sortedKeys(users)
	swapped, err := e.stillSwapped(ctx, ids)
	if err != nil {
		e.log.Warn().Err(err).Strs("users", ids).Msg("Live swap lookup failed, logging out all")
	}
	sent := 0
	for _, id := range ids {
		if _, live := swapped[id]; live {
			continue
		}
		e.notifier.PublishToUser(ctx, id, logoutEvent(id, users[id]))
		sent++
	}
	return sent
}

// stillSwapped returns the subset of userIDs that own a live session.
func (e *Engine) stillSwapped(ctx context.Context, userIDs []string) (map[string]struct{}, error) {
	live := make(map[string]struct{})
	if len(userIDs) == 0 {
		return live, nil
	}
	now := e.clock()
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		clear(live)
		sessions, err := tx.LiveSessionsFor(userIDs, now)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			live[s.OwnerID] = struct{}{}
		}
		return nil
	})
	return live, err
}
