package chathub

import "swapgogo/backend/internal/models"

// Client is the interface for any type of connection (e.g., WebSocket).
// It abstracts the underlying communication mechanism, allowing the hub to manage
// different client types uniformly.
type Client interface {
	// GetUserID returns the unique identifier for the user associated with the client.
	GetUserID() string
	// GetChatID returns the chat the connection is bound to, or "" for a
	// personal notification connection.
	GetChatID() string
	// Channels lists the pub/sub channels the client must receive events from.
	Channels() []string

	// Deliver queues ev for the client without blocking. It reports false when
	// the client is closed or its buffer is full.
	Deliver(ev models.Event) bool

	// Run starts the client's read and write pumps, which handle incoming and
	// outgoing messages.
	Run()
	// Close gracefully shuts down the client's connection and associated channels.
	Close()
}
