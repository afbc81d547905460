package swap

import (
	"context"
	"errors"
	"slices"
	"swapgogo/backend/internal/config"
	"swapgogo/backend/internal/metrics"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers events to everyone subscribed to a chat or to a user's
// personal channel. Delivery is best effort and at least once.
type Notifier interface {
	PublishToChat(ctx context.Context, chatID string, ev models.Event)
	PublishToUser(ctx context.Context, userID string, ev models.Event)
}

// Engine is the swap negotiation and enforcement engine. It keeps no chat
// state in memory: every decision is re-validated inside a store transaction.
type Engine struct {
	store           storage.Storage
	notifier        Notifier
	scheduler       Scheduler
	log             zerolog.Logger
	now             func() time.Time
	activationDelay time.Duration
	jobTimeout      time.Duration
}

type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithScheduler replaces the in-process timer scheduler.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithActivationDelay overrides the gap between the last confirmation and activation.
func WithActivationDelay(d time.Duration) Option {
	return func(e *Engine) { e.activationDelay = d }
}

func NewEngine(store storage.Storage, notifier Notifier, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		notifier:        notifier,
		scheduler:       NewTimerScheduler(),
		log:             logger.With().Str("component", "swap").Logger(),
		now:             time.Now,
		activationDelay: config.ActivationDelay,
		jobTimeout:      10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// clock returns the current time in UTC at store precision.
func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// lockMember locks the chat row and checks that userID belongs to it.
// It returns the sorted participant ids.
func lockMember(tx storage.Tx, chatID, userID string) (*models.ChatRoom, []string, error) {
	chat, err := tx.LockChat(chatID)
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

func chatErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrChatNotFound
	}
	return err
}

// Authorize checks that userID may act in chatID.
func (e *Engine) Authorize(ctx context.Context, chatID, userID string) error {
	chat, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return chatErr(err)
	}
	for _, p := range chat.Participants {
		if p.UserID == userID {
			return nil
		}
	}
	return ErrNotParticipant
}

func (e *Engine) observe(transition string, err error) {
	if err == nil {
		metrics.SwapTransitions.WithLabelValues(transition).Inc()
		return
	}
	metrics.SwapRejections.WithLabelValues(Reason(err)).Inc()
}

// background returns a context for deferred jobs that outlive the caller.
func (e *Engine) background() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.jobTimeout)
}
