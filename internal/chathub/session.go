package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"swapgogo/backend/internal/localization"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/swap"

	"github.com/rs/zerolog"
)

// SwapService is the part of the swap engine a connection drives.
type SwapService interface {
	Request(ctx context.Context, chatID, userID string, minutes int) (*swap.RequestResult, error)
	Confirm(ctx context.Context, chatID, userID string) (*swap.ConfirmResult, error)
	Cancel(ctx context.Context, chatID, userID string) (*swap.CancelResult, error)
	SendMessage(ctx context.Context, chatID, senderID, content, clientID string) (*swap.SendResult, error)
	ReleaseOnDisconnect(ctx context.Context, chatID, userID string) (bool, error)
	OnConnect(ctx context.Context, chatID, userID string) ([]models.Event, error)
}

// Session speaks the inbound frame protocol of one connection. A session
// without a chat serves the personal notification socket and only answers pings.
type Session struct {
	UserID string
	ChatID string
	Lang   string

	swap  SwapService
	loc   *localization.Localizer
	reply func(models.Event)
	log   zerolog.Logger
}

// NewSession creates the protocol handler. reply receives frames meant for
// this connection only; it is replaced when the session is bound to a socket.
func NewSession(userID, chatID, lang string, svc SwapService, loc *localization.Localizer, reply func(models.Event), logger zerolog.Logger) *Session {
	if reply == nil {
		reply = func(models.Event) {}
	}
	return &Session{
		UserID: userID,
		ChatID: chatID,
		Lang:   lang,
		swap:   svc,
		loc:    loc,
		reply:  reply,
		log:    logger.With().Str("component", "session").Str("user_id", userID).Str("chat_id", chatID).Logger(),
	}
}

// Start replays the swap state to a freshly connected client.
func (s *Session) Start(ctx context.Context) {
	if s.ChatID == "" {
		return
	}
	events, err := s.swap.OnConnect(ctx, s.ChatID, s.UserID)
	if err != nil {
		s.fail(err, "")
		return
	}
	for _, ev := range events {
		s.reply(ev)
	}
}

// End runs when the connection closes. A requester who leaves the last
// connection to the chat withdraws the pending request.
func (s *Session) End(ctx context.Context, stillConnected bool) {
	if s.ChatID == "" || stillConnected {
		return
	}
	released, err := s.swap.ReleaseOnDisconnect(ctx, s.ChatID, s.UserID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Release on disconnect failed")
		return
	}
	if released {
		s.log.Info().Msg("Pending swap request withdrawn on disconnect")
	}
}

// Handle processes one raw inbound frame.
func (s *Session) Handle(ctx context.Context, raw []byte) {
	var in models.Inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		s.reply(swap.ErrorEvent(s.ChatID, s.loc.GetString(s.Lang, "error_invalid_json"), ""))
		return
	}

	s.log.Debug().Str("type", in.Type).Str("client_id", in.ClientID).Msg("Inbound frame")

	if in.Type == models.TypePing {
		s.reply(models.NewEvent(models.TypePong, s.ChatID, nil))
		return
	}
	if s.ChatID == "" {
		s.unknown(in)
		return
	}

	switch in.Type {
	case models.TypeSwapRequest:
		_, err := s.swap.Request(ctx, s.ChatID, s.UserID, in.Duration)
		s.fail(err, in.ClientID)
	case models.TypeSwapConfirm:
		_, err := s.swap.Confirm(ctx, s.ChatID, s.UserID)
		s.fail(err, in.ClientID)
	case models.TypeSwapCancel:
		res, err := s.swap.Cancel(ctx, s.ChatID, s.UserID)
		if err == nil && !res.Cancelled {
			err = swap.ErrNoPendingRequest
		}
		s.fail(err, in.ClientID)
	case models.TypeChatMessage:
		_, err := s.swap.SendMessage(ctx, s.ChatID, s.UserID, in.Content, in.ClientID)
		s.fail(err, in.ClientID)
	default:
		s.unknown(in)
	}
}

func (s *Session) unknown(in models.Inbound) {
	msg := s.loc.Format(s.Lang, "error_unknown_type", in.Type)
	s.reply(swap.ErrorEvent(s.ChatID, msg, in.ClientID))
}

// fail sends err back to the connection as an error frame. Nil is a no-op.
func (s *Session) fail(err error, clientID string) {
	if err == nil {
		return
	}
	s.reply(swap.ErrorEvent(s.ChatID, s.errorText(err), clientID))
}

func (s *Session) errorText(err error) string {
	var (
		pending *swap.PendingError
		busy    *swap.BusyError
	)
	switch {
	case errors.As(err, &pending):
		return s.loc.Format(s.Lang, "error_request_pending", pending.RequestedBy)
	case errors.As(err, &busy):
		return s.loc.Format(s.Lang, "error_participant_busy", strings.Join(busy.Users, ", "))
	}

	reason := swap.Reason(err)
	if reason == "internal" {
		s.log.Error().Err(err).Msg("Swap operation failed")
	}
	return s.loc.GetString(s.Lang, "error_"+reason)
}
