package chathub_test

import (
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"sync"
)

type MockClient struct {
	userID string
	chatID string
	full   bool

	mu       sync.Mutex
	received []models.Event
	closed   bool
}

func newMockClient(userID, chatID string) *MockClient {
	return &MockClient{userID: userID, chatID: chatID}
}

func (c *MockClient) GetUserID() string { return c.userID }
func (c *MockClient) GetChatID() string { return c.chatID }

func (c *MockClient) Channels() []string {
	if c.chatID == "" {
		return []string{storage.UserChannel(c.userID)}
	}
	return []string{storage.ChatChannel(c.chatID), storage.UserChannel(c.userID)}
}

func (c *MockClient) Deliver(ev models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	c.received = append(c.received, ev)
	return true
}

func (c *MockClient) Received() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.received...)
}

func (c *MockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
