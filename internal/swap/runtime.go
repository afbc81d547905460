package swap

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"
	"swapgogo/backend/internal/config"
	"swapgogo/backend/internal/metrics"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"time"
)

// Identity is how a user appears in a chat right now.
type Identity struct {
	UserID         string    `json:"user_id"`
	ApparentUserID string    `json:"apparent_user_id"`
	Swapped        bool      `json:"swapped"`
	SwapChatID     string    `json:"swap_chat_id,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	EndsAt         time.Time `json:"ends_at,omitzero"`
	Sent           int       `json:"sent"`
	Remaining      int       `json:"remaining"`
}

// PendingRequest is the read model of a chat's open request.
type PendingRequest struct {
	RequestedBy string    `json:"requested_by"`
	Duration    int       `json:"duration"`
	RequestedAt time.Time `json:"requested_at"`
	Confirmed   []string  `json:"confirmed"`
}

// ChatState is the swap state of a chat as seen by one participant.
type ChatState struct {
	ChatID   string          `json:"chat_id"`
	Identity Identity        `json:"identity"`
	Pending  *PendingRequest `json:"pending,omitempty"`
}

// SendResult is an accepted chat message.
type SendResult struct {
	Message   *models.Message
	Remaining *int
}

// PartnerFor returns the member owner presents as. Members are rotated in
// ascending id order, so with two members each one gets the other.
func PartnerFor(owner string, members []string) string {
	sorted := slices.Sorted(slices.Values(members))
	i := slices.Index(sorted, owner)
	if i < 0 || len(sorted) < 2 {
		return ""
	}
	return sorted[(i+1)%len(sorted)]
}

func owners(sessions []models.SwapSession) []string {
	set := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		set[s.OwnerID] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// resolve computes userID's identity in chat. A live session anywhere in the
// system wins over the chat's own window; the message allowance is always
// counted in the current chat.
func resolve(tx storage.Tx, chat *models.ChatRoom, members []string, userID string, now time.Time) (Identity, error) {
	id := Identity{UserID: userID, ApparentUserID: userID}

	live, err := tx.LiveSessionsFor([]string{userID}, now)
	if err != nil {
		return id, err
	}

	switch {
	case len(live) > 0:
		s := live[0]
		swapMembers := members
		if s.ChatID != chat.ID {
			if swapMembers, err = tx.ParticipantIDs(s.ChatID); err != nil {
				return id, err
			}
		}
		partner := PartnerFor(userID, swapMembers)
		if !slices.ContainsFunc(live, func(l models.SwapSession) bool { return l.PartnerID == partner }) {
			partner = s.PartnerID
		}
		id.ApparentUserID, id.SwapChatID = partner, s.ChatID
		id.StartedAt, id.EndsAt = s.StartedAt, s.EndsAt
	case chat.WindowLive(now):
		partner := PartnerFor(userID, members)
		if partner == "" {
			return id, nil
		}
		id.ApparentUserID, id.SwapChatID = partner, chat.ID
		id.StartedAt, id.EndsAt = *chat.SwapStartedAt, *chat.SwapEndsAt
	default:
		return id, nil
	}

	id.Swapped = true
	sent, err := tx.MessageCount(chat.ID, userID, id.StartedAt)
	if err != nil {
		return id, err
	}
	id.Sent, id.Remaining = sent, Remaining(sent)
	return id, nil
}

// readMember loads the chat without locking it and checks membership.
func readMember(tx storage.Tx, chatID, userID string) (*models.ChatRoom, []string, error) {
	chat, err := tx.GetChat(chatID)
	if err != nil {
		return nil, nil, chatErr(err)
	}
	members, err := tx.ParticipantIDs(chatID)
	if err != nil {
		return nil, nil, err
	}
	if !slices.Contains(members, userID) {
		return nil, nil, ErrNotParticipant
	}
	return chat, members, nil
}

// ResolveIdentity answers which identity userID presents in chatID now.
func (e *Engine) ResolveIdentity(ctx context.Context, chatID, userID string) (*Identity, error) {
	state, err := e.State(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	return &state.Identity, nil
}

// State returns userID's identity and the chat's pending request, if fresh enough to confirm.
func (e *Engine) State(ctx context.Context, chatID, userID string) (*ChatState, error) {
	now := e.clock()
	var state ChatState
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		chat, members, err := readMember(tx, chatID, userID)
		if err != nil {
			return err
		}
		id, err := resolve(tx, chat, members, userID, now)
		if err != nil {
			return err
		}
		state = ChatState{ChatID: chatID, Identity: id}
		if chat.HasPendingRequest() && chat.RequestAge(now) <= config.StaleRequestAfter {
			state.Pending = &PendingRequest{
				RequestedBy: chat.RequestedBy(),
				Duration:    chat.SwapDuration,
				RequestedAt: *chat.SwapRequestedAt,
				Confirmed:   slices.Clone(chat.SwapConfirmedUsers),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// OnConnect returns the events a freshly connected client needs to render the
// swap UI: the live identity, if swapped, and the pending request, if any.
// It has no side effects.
func (e *Engine) OnConnect(ctx context.Context, chatID, userID string) ([]models.Event, error) {
	state, err := e.State(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	var events []models.Event
	if id := state.Identity; id.Swapped {
		a := Assignment{UserID: userID, PartnerID: id.ApparentUserID, StartedAt: id.StartedAt, EndsAt: id.EndsAt}
		if users, err := e.usernames(ctx, id.ApparentUserID); err == nil {
			a.PartnerUsername = users[id.ApparentUserID].Username
			a.PartnerProfileImage = users[id.ApparentUserID].ProfileImageURL
		}
		events = append(events, activateEvent(chatID, a, id.Remaining))
	}
	if p := state.Pending; p != nil {
		username := ""
		if users, err := e.usernames(ctx, p.RequestedBy); err == nil {
			username = users[p.RequestedBy].Username
		}
		events = append(events, requestEvent(chatID, p.RequestedBy, username, p.Duration, p.RequestedAt))
	}
	return events, nil
}

func (e *Engine) usernames(ctx context.Context, ids ...string) (map[string]models.User, error) {
	var users map[string]models.User
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		users, err = tx.GetUsers(ids)
		return err
	})
	return users, err
}

// SendMessage stores a chat message from senderID. While the sender is
// swapped the content rules apply, the per-chat allowance is consumed in the
// same transaction, and the message is relabeled with the partner identity.
func (e *Engine) SendMessage(ctx context.Context, chatID, senderID, content, clientID string) (*SendResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	now := e.clock()
	var res SendResult
	err := e.store.Atomically(ctx, func(tx storage.Tx) error {
		res = SendResult{}

		chat, members, err := readMember(tx, chatID, senderID)
		if err != nil {
			return err
		}
		id, err := resolve(tx, chat, members, senderID, now)
		if err != nil {
			return err
		}

		msg := &models.Message{
			ChatID:     chatID,
			SenderID:   senderID,
			Content:    content,
			CreatedAt:  now,
			DuringSwap: id.Swapped,
		}
		if id.Swapped {
			if err := Validate(content, id.Sent); err != nil {
				return err
			}
			ok, err := tx.ConsumeMessageQuota(chatID, senderID, id.StartedAt, config.SwapMessageLimit)
			if err != nil {
				return err
			}
			if !ok {
				return ErrQuotaExceeded
			}
			if err := tx.IncrementSessionCount(senderID, now); err != nil {
				return err
			}
			sent, err := tx.MessageCount(chatID, senderID, id.StartedAt)
			if err != nil {
				return err
			}
			remaining := Remaining(sent)
			res.Remaining = &remaining
			apparent := id.ApparentUserID
			msg.ApparentSenderID = &apparent
		}

		if err := tx.CreateMessage(msg); err != nil {
			return err
		}
		res.Message = msg
		return nil
	})
	if err != nil {
		e.observe("message", err)
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(strconv.FormatBool(res.Message.DuringSwap)).Inc()

	m := res.Message
	ev := models.NewEvent(models.TypeChatMessage, chatID, models.OutgoingMessage{
		ID:               m.ID,
		SenderID:         m.SenderID,
		ApparentSenderID: m.ApparentSenderID,
		Content:          m.Content,
		CreatedAt:        m.CreatedAt,
		DuringSwap:       m.DuringSwap,
		Remaining:        res.Remaining,
		ClientID:         clientID,
	})
	ev.ID = m.ID
	e.notifier.PublishToChat(ctx, chatID, ev)
	return &res, nil
}
