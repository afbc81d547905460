package swap

import (
	"context"
	"io"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeJob struct {
	delay time.Duration
	fn    func()
}

// fakeScheduler keeps jobs until the test fires them.
type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]fakeJob
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]fakeJob)}
}

func (s *fakeScheduler) After(key string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[key]; ok {
		return false
	}
	s.jobs[key] = fakeJob{delay: d, fn: fn}
	return true
}

func (s *fakeScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, key)
}

func (s *fakeScheduler) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

func (s *fakeScheduler) Delay(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[key].delay
}

// Fire runs the pending job for key and reports whether there was one.
func (s *fakeScheduler) Fire(key string) bool {
	s.mu.Lock()
	job, ok := s.jobs[key]
	delete(s.jobs, key)
	s.mu.Unlock()
	if ok {
		job.fn()
	}
	return ok
}

type published struct {
	Channel string
	Event   models.Event
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) PublishToChat(_ context.Context, chatID string, ev models.Event) {
	n.record(storage.ChatChannel(chatID), ev)
}

func (n *recordingNotifier) PublishToUser(_ context.Context, userID string, ev models.Event) {
	n.record(storage.UserChannel(userID), ev)
}

func (n *recordingNotifier) record(channel string, ev models.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{Channel: channel, Event: ev})
}

// Find returns the events of the given type sent on channel, in order.
func (n *recordingNotifier) Find(channel, eventType string) []models.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Event
	for _, p := range n.events {
		if p.Channel == channel && p.Event.Type == eventType {
			out = append(out, p.Event)
		}
	}
	return out
}

func (n *recordingNotifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func (n *recordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *storage.Service
	engine *Engine
	clock  *fakeClock
	sched  *fakeScheduler
	notes  *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.OpenDB("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: storage.NewStorageService(db, nil),
		clock: &fakeClock{now: baseTime},
		sched: newFakeScheduler(),
		notes: &recordingNotifier{},
	}
	h.engine = NewEngine(h.store, h.notes, zerolog.New(io.Discard),
		WithClock(h.clock.Now),
		WithScheduler(h.sched),
	)
	return h
}

// chat creates the users (if needed) and a chat between them.
func (h *harness) chat(users ...string) string {
	h.t.Helper()
	for _, id := range users {
		var n int64
		require.NoError(h.t, h.store.DB.Model(&models.User{}).Where("id = ?", id).Count(&n).Error)
		if n == 0 {
			require.NoError(h.t, h.store.SaveUser(h.ctx, &models.User{ID: id, Username: "user_" + id}))
		}
	}
	chat := &models.ChatRoom{}
	require.NoError(h.t, h.store.CreateChat(h.ctx, chat, users))
	return chat.ID
}

// activate runs request, confirmations and the scheduled activation.
func (h *harness) activate(chatID string, users ...string) {
	h.t.Helper()
	_, err := h.engine.Request(h.ctx, chatID, users[0], 5)
	require.NoError(h.t, err)
	for _, u := range users[1:] {
		_, err := h.engine.Confirm(h.ctx, chatID, u)
		require.NoError(h.t, err)
	}
	require.True(h.t, h.sched.Fire(activationKey(chatID)), "activation should be scheduled")

	chat, err := h.store.GetChat(h.ctx, chatID)
	require.NoError(h.t, err)
	require.True(h.t, chat.SwapActive, "chat should be active")
}

func (h *harness) getChat(chatID string) *models.ChatRoom {
	h.t.Helper()
	chat, err := h.store.GetChat(h.ctx, chatID)
	require.NoError(h.t, err)
	return chat
}

// liveSessions counts active, unelapsed sessions owned by userID across all chats.
func (h *harness) liveSessions(userID string) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.store.DB.Model(&models.SwapSession{}).
		Where("owner_id = ? AND active = ? AND ends_at > ?", userID, true, h.clock.Now()).
		Count(&n).Error)
	return n
}

func decode[T any](t *testing.T, ev models.Event) T {
	t.Helper()
	var v T
	require.NoError(t, ev.Decode(&v))
	return v
}
