package swap

import (
	"sync"
	"time"
)

// Scheduler runs deferred, cancellable one-shot jobs identified by key.
type Scheduler interface {
	// After schedules fn to run once after d. While a job with the same key
	// is pending the call is ignored and After reports false.
	After(key string, d time.Duration, fn func()) bool
	// Cancel drops the pending job for key, if any.
	Cancel(key string)
}

func activationKey(chatID string) string { return "activate:" + chatID }
func expiryKey(chatID string) string     { return "expire:" + chatID }

// TimerScheduler is the in-process Scheduler backed by time.AfterFunc.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[string]*time.Timer)}
}

func (s *TimerScheduler) After(key string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[key]; ok {
		return false
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[key] == t {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = t
	return true
}

func (s *TimerScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Pending returns the number of jobs that have not fired yet.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending job.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
