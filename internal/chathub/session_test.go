package chathub_test

import (
	"context"
	"errors"
	"swapgogo/backend/internal/chathub"
	"swapgogo/backend/internal/localization"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/swap"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	svc     *MockSwapService
	session *chathub.Session
	replies []models.Event
}

func newSessionFixture(t *testing.T, chatID, lang string) *sessionFixture {
	t.Helper()
	loc, err := localization.Default()
	require.NoError(t, err)

	f := &sessionFixture{svc: new(MockSwapService)}
	f.session = chathub.NewSession("a", chatID, lang, f.svc, loc, func(ev models.Event) {
		f.replies = append(f.replies, ev)
	}, zerolog.Nop())
	return f
}

func (f *sessionFixture) handle(raw string) {
	f.session.Handle(context.Background(), []byte(raw))
}

func (f *sessionFixture) lastError(t *testing.T) models.ErrorPayload {
	t.Helper()
	require.NotEmpty(t, f.replies)
	ev := f.replies[len(f.replies)-1]
	require.Equal(t, models.TypeError, ev.Type)
	var p models.ErrorPayload
	require.NoError(t, ev.Decode(&p))
	return p
}

func TestSession_Ping(t *testing.T) {
	f := newSessionFixture(t, "chat1", "en")
	f.handle(`{"type":"ping"}`)

	require.Len(t, f.replies, 1)
	assert.Equal(t, models.TypePong, f.replies[0].Type)
}

func TestSession_InvalidJSON(t *testing.T) {
	f := newSessionFixture(t, "chat1", "en")
	f.handle(`{not json`)
	assert.Equal(t, "Invalid JSON", f.lastError(t).Message)

	f.handle(`{"content":"x"}`)
	assert.Equal(t, "Invalid JSON", f.lastError(t).Message)
}

func TestSession_UnknownType(t *testing.T) {
	f := newSessionFixture(t, "chat1", "en")
	f.handle(`{"type":"dance","client_id":"c9"}`)

	p := f.lastError(t)
	assert.Equal(t, "Unrecognized message type: dance", p.Message)
	assert.Equal(t, "c9", p.ClientID)
}

func TestSession_DispatchesSwapFrames(t *testing.T) {
	f := newSessionFixture(t, "chat1", "en")
	f.svc.On("Request", "chat1", "a", 10).Return(&swap.RequestResult{Created: true}, nil)
	f.svc.On("Confirm", "chat1", "a").Return(&swap.ConfirmResult{Changed: true}, nil)
	f.svc.On("Cancel", "chat1", "a").Return(&swap.CancelResult{Cancelled: true, HadRequest: true}, nil)
	f.svc.On("SendMessage", "chat1", "a", "hi", "m1").Return(&swap.SendResult{}, nil)

	f.handle(`{"type":"swap.request","duration":10}`)
	f.handle(`{"type":"swap.confirm"}`)
	f.handle(`{"type":"swap.cancel"}`)
	f.handle(`{"type":"chat.message","content":"hi","client_id":"m1"}`)

	f.svc.AssertExpectations(t)
	assert.Empty(t, f.replies, "successful operations answer through the broadcast only")
}

func TestSession_CancelWithNothingPending(t *testing.T) {
	f := newSessionFixture(t, "chat1", "en")
	f.svc.On("Cancel", "chat1", "a").Return(&swap.CancelResult{}, nil)

	f.handle(`{"type":"swap.cancel"}`)
	assert.Equal(t, "There is no pending swap request", f.lastError(t).Message)
}

func TestSession_ErrorsAreLocalized(t *testing.T) {
	tests := []struct {
		name string
		lang string
		err  error
		want string
	}{
		{"quota", "en", swap.ErrQuotaExceeded, "message limit reached"},
		{"too long", "en", swap.ErrContentTooLong, "messages limited to 7 characters"},
		{"space", "en", swap.ErrContentHasSpace, "spaces not allowed"},
		{"pending names requester", "en", &swap.PendingError{RequestedBy: "b"}, "A swap request from b is already pending"},
		{"busy lists users", "en", &swap.BusyError{Users: []string{"b", "c"}}, "Already in a swap: b, c"},
		{"internal", "en", errors.New("connection reset"), "Server error, please try again"},
		{"unknown language falls back", "fr", swap.ErrQuotaExceeded, "message limit reached"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, "chat1", tt.lang)
			f.svc.On("SendMessage", "chat1", "a", "hey", "m2").Return(nil, tt.err)

			f.handle(`{"type":"chat.message","content":"hey","client_id":"m2"}`)

			p := f.lastError(t)
			assert.Equal(t, tt.want, p.Message)
			assert.Equal(t, "m2", p.ClientID)
		})
	}
}

func TestSession_UkrainianErrors(t *testing.T) {
	f := newSessionFixture(t, "chat1", "uk")
	f.svc.On("Confirm", "chat1", "a").Return(nil, swap.ErrNoPendingRequest)

	f.handle(`{"type":"swap.confirm"}`)
	assert.NotEqual(t, "There is no pending swap request", f.lastError(t).Message)

	f.handle(`{"type":"dance"}`)
	assert.Equal(t, "Unrecognized message type: dance", f.lastError(t).Message)
}

func TestSession_NotificationSocketOnlyAnswersPing(t *testing.T) {
	f := newSessionFixture(t, "", "en")
	f.handle(`{"type":"swap.request"}`)
	assert.Equal(t, "Unrecognized message type: swap.request", f.lastError(t).Message)

	f.handle(`{"type":"ping"}`)
	assert.Equal(t, models.TypePong, f.replies[len(f.replies)-1].Type)

	f.session.Start(context.Background())
	f.session.End(context.Background(), false)
	f.svc.AssertNotCalled(t, "OnConnect", "", "a")
	f.svc.AssertNotCalled(t, "ReleaseOnDisconnect", "", "a")
}

func TestSession_StartReplaysState(t *testing.T) {
	f := newSessionFixture(t, "chat1", "en")
	events := []models.Event{
		models.NewEvent(models.TypeSwapActivate, "chat1", nil),
		models.NewEvent(models.TypeSwapRequest, "chat1", nil),
	}
	f.svc.On("OnConnect", "chat1", "a").Return(events, nil)

	f.session.Start(context.Background())
	assert.Equal(t, events, f.replies)
}

func TestSession_StartReportsFailure(t *testing.T) {
	f := newSessionFixture(t, "chat1", "en")
	f.svc.On("OnConnect", "chat1", "a").Return(nil, swap.ErrNotParticipant)

	f.session.Start(context.Background())
	assert.Equal(t, "You are not a participant of this chat", f.lastError(t).Message)
}

func TestSession_EndReleasesRequest(t *testing.T) {
	f := newSessionFixture(t, "chat1", "en")
	f.svc.On("ReleaseOnDisconnect", "chat1", "a").Return(true, nil).Once()

	f.session.End(context.Background(), true)
	f.svc.AssertNotCalled(t, "ReleaseOnDisconnect", "chat1", "a")

	f.session.End(context.Background(), false)
	f.svc.AssertExpectations(t)
}
