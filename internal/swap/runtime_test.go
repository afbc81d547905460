package swap

import (
	"swapgogo/backend/internal/config"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_TwoPartySwapQuota(t *testing.T) {
	h := newHarness(t)
	chatID := h.chat("a", "b")

	_, err := h.engine.Request(h.ctx, chatID, "a", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, h.getChat(chatID).SwapConfirmedUsers)

	res, err := h.engine.Confirm(h.ctx, chatID, "b")
	require.NoError(t, err)
	assert.True(t, res.AllConfirmed)
	assert.Equal(t, []string{"a", "b"}, h.getChat(chatID).SwapConfirmedUsers)
	require.True(t, h.sched.Fire(activationKey(chatID)))

	idA, err := h.engine.ResolveIdentity(h.ctx, chatID, "a")
	require.NoError(t, err)
	assert.Equal(t, "b", idA.ApparentUserID)
	idB, err := h.engine.ResolveIdentity(h.ctx, chatID, "b")
	require.NoError(t, err)
	assert.Equal(t, "a", idB.ApparentUserID)

	first, err := h.engine.SendMessage(h.ctx, chatID, "a", "hi", "c1")
	require.NoError(t, err)
	require.NotNil(t, first.Message.ApparentSenderID)
	assert.Equal(t, "b", *first.Message.ApparentSenderID)
	assert.True(t, first.Message.DuringSwap)
	require.NotNil(t, first.Remaining)
	assert.Equal(t, 1, *first.Remaining)

	second, err := h.engine.SendMessage(h.ctx, chatID, "a", "there!!", "c2")
	require.NoError(t, err)
	assert.Equal(t, 0, *second.Remaining)

	_, err = h.engine.SendMessage(h.ctx, chatID, "a", "more", "c3")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// b keeps an allowance of its own.
	fromB, err := h.engine.SendMessage(h.ctx, chatID, "b", "yo", "")
	require.NoError(t, err)
	assert.Equal(t, "a", *fromB.Message.ApparentSenderID)
	assert.Equal(t, 1, *fromB.Remaining)

	msgs := h.notes.Find(storage.ChatChannel(chatID), models.TypeChatMessage)
	require.Len(t, msgs, 3)
	assert.Equal(t, first.Message.ID, msgs[0].ID)
	out := decode[models.OutgoingMessage](t, msgs[0])
	assert.Equal(t, "a", out.SenderID)
	assert.Equal(t, "b", *out.ApparentSenderID)
	assert.Equal(t, "c1", out.ClientID)
	assert.Equal(t, 1, *out.Remaining)

	var stored int64
	require.NoError(t, h.store.DB.Model(&models.Message{}).Where("chat_id = ?", chatID).Count(&stored).Error)
	assert.EqualValues(t, 3, stored, "rejected messages are not stored")

	var session models.SwapSession
	require.NoError(t, h.store.DB.Where("owner_id = ? AND chat_id = ?", "a", chatID).First(&session).Error)
	assert.Equal(t, 2, session.MessageCount)
}

func TestSendMessage_ContentRules(t *testing.T) {
	h := newHarness(t)
	chatID := h.chat("a", "b")
	h.activate(chatID, "a", "b")

	_, err := h.engine.SendMessage(h.ctx, chatID, "a", "12345678", "")
	assert.ErrorIs(t, err, ErrContentTooLong)
	_, err = h.engine.SendMessage(h.ctx, chatID, "a", "a b", "")
	assert.ErrorIs(t, err, ErrContentHasSpace)

	res, err := h.engine.SendMessage(h.ctx, chatID, "a", "1234567", "")
	require.NoError(t, err)
	assert.Equal(t, 1, *res.Remaining, "rejections do not consume quota")
}

func TestSendMessage_NotSwapped(t *testing.T) {
	h := newHarness(t)
	chatID := h.chat("a", "b")

	res, err := h.engine.SendMessage(h.ctx, chatID, "a", "hello there, long message", "")
	require.NoError(t, err)
	assert.Nil(t, res.Message.ApparentSenderID)
	assert.Nil(t, res.Remaining)
	assert.False(t, res.Message.DuringSwap)

	_, err = h.engine.SendMessage(h.ctx, chatID, "a", "   ", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = h.engine.SendMessage(h.ctx, chatID, "z", "hi", "")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSendMessage_AfterWindowEnds(t *testing.T) {
	h := newHarness(t)
	chatID := h.chat("a", "b")
	h.activate(chatID, "a", "b")

	h.clock.Advance(5 * time.Minute)
	res, err := h.engine.SendMessage(h.ctx, chatID, "a", "back to normal", "")
	require.NoError(t, err)
	assert.False(t, res.Message.DuringSwap)
}

func TestSendMessage_QuotaIsPerChat(t *testing.T) {
	h := newHarness(t)
	ab := h.chat("a", "b")
	ac := h.chat("a", "c")
	h.activate(ab, "a", "b")

	// a is swapped system-wide, so the rules follow it into another chat.
	for i := range 2 {
		res, err := h.engine.SendMessage(h.ctx, ac, "a", "hey", "")
		require.NoError(t, err)
		assert.Equal(t, "b", *res.Message.ApparentSenderID)
		assert.Equal(t, 1-i, *res.Remaining)
	}
	_, err := h.engine.SendMessage(h.ctx, ac, "a", "hey", "")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	id, err := h.engine.ResolveIdentity(h.ctx, ab, "a")
	require.NoError(t, err)
	assert.Equal(t, config.SwapMessageLimit, id.Remaining, "the activating chat keeps its own allowance")

	res, err := h.engine.SendMessage(h.ctx, ab, "a", "hey", "")
	require.NoError(t, err)
	assert.Equal(t, 1, *res.Remaining)

	// c is not swapped at all.
	res, err = h.engine.SendMessage(h.ctx, ac, "c", "hello there", "")
	require.NoError(t, err)
	assert.False(t, res.Message.DuringSwap)
}

func TestSendMessage_QuotaRace(t *testing.T) {
	h := newHarness(t)
	chatID := h.chat("a", "b")
	h.activate(chatID, "a", "b")

	const senders = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.SendMessage(h.ctx, chatID, "a", "hi", "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			if assert.ErrorIs(t, err, ErrQuotaExceeded) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, config.SwapMessageLimit, accepted)
	assert.Equal(t, senders-config.SwapMessageLimit, rejected)
}

func TestResolveIdentity_NotSwapped(t *testing.T) {
	h := newHarness(t)
	chatID := h.chat("a", "b")

	id, err := h.engine.ResolveIdentity(h.ctx, chatID, "a")
	require.NoError(t, err)
	assert.False(t, id.Swapped)
	assert.Equal(t, "a", id.ApparentUserID)
}

func TestResolveIdentity_ChatWindowWithoutSessions(t *testing.T) {
	h := newHarness(t)
	chatID := h.chat("a", "b")
	h.activate(chatID, "a", "b")

	// Sessions lost, window still live: the chat's window drives the identity.
	require.NoError(t, h.store.DB.Model(&models.SwapSession{}).Where("chat_id = ?", chatID).Update("active", false).Error)

	id, err := h.engine.ResolveIdentity(h.ctx, chatID, "b")
	require.NoError(t, err)
	assert.True(t, id.Swapped)
	assert.Equal(t, "a", id.ApparentUserID)
	assert.Equal(t, 2, id.Remaining)
}

func TestOnConnect(t *testing.T) {
	h := newHarness(t)
	chatID := h.chat("a", "b")

	events, err := h.engine.OnConnect(h.ctx, chatID, "b")
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = h.engine.Request(h.ctx, chatID, "a", 5)
	require.NoError(t, err)
	events, err = h.engine.OnConnect(h.ctx, chatID, "b")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.TypeSwapRequest, events[0].Type)
	assert.Equal(t, "user_a", decode[models.SwapRequested](t, events[0]).RequestedByUsername)

	// Replayed request events share the id of the original broadcast.
	original := h.notes.Find(storage.ChatChannel(chatID), models.TypeSwapRequest)
	require.Len(t, original, 1)
	assert.Equal(t, original[0].ID, events[0].ID)

	_, err = h.engine.Confirm(h.ctx, chatID, "b")
	require.NoError(t, err)
	require.True(t, h.sched.Fire(activationKey(chatID)))
	_, err = h.engine.SendMessage(h.ctx, chatID, "b", "hi", "")
	require.NoError(t, err)

	before := h.notes.Len()
	events, err = h.engine.OnConnect(h.ctx, chatID, "b")
	require.NoError(t, err)
	require.Len(t, events, 1)
	act := decode[models.SwapActivated](t, events[0])
	assert.Equal(t, "a", act.PartnerID)
	assert.Equal(t, "user_a", act.PartnerUsername)
	assert.Equal(t, 1, act.Remaining)
	assert.Equal(t, before, h.notes.Len(), "connect is read-only")
}

func TestState_HidesStaleRequest(t *testing.T) {
	h := newHarness(t)
	chatID := h.chat("a", "b")

	_, err := h.engine.Request(h.ctx, chatID, "a", 5)
	require.NoError(t, err)

	state, err := h.engine.State(h.ctx, chatID, "b")
	require.NoError(t, err)
	require.NotNil(t, state.Pending)
	assert.Equal(t, []string{"a"}, state.Pending.Confirmed)

	h.clock.Advance(config.StaleRequestAfter + time.Second)
	state, err = h.engine.State(h.ctx, chatID, "b")
	require.NoError(t, err)
	assert.Nil(t, state.Pending)
}
