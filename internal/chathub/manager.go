package chathub

import (
	"context"
	"encoding/json"
	"swapgogo/backend/internal/metrics"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Broker carries events between backend instances.
type Broker interface {
	PublishEvent(ctx context.Context, channel string, payload []byte) error
	SubscribeEvents(ctx context.Context, patterns ...string) *redis.PubSub
}

type delivery struct {
	channel string
	event   models.Event
}

// ManagerService is the connection hub. It tracks which local connections
// listen on which channel and fans events out to them, through Redis when a
// broker is configured so that every instance sees every event.
type ManagerService struct {
	mu       sync.RWMutex
	clients  map[Client]struct{}
	channels map[string]map[Client]struct{}

	// Channels
	RegisterCh   chan Client
	UnregisterCh chan Client
	deliverCh    chan delivery
	done         chan struct{}

	broker Broker
	log    zerolog.Logger
}

// NewManagerService creates the hub. broker may be nil, in which case events
// are only delivered to connections of this process.
func NewManagerService(broker Broker, logger zerolog.Logger) *ManagerService {
	return &ManagerService{
		clients:      make(map[Client]struct{}),
		channels:     make(map[string]map[Client]struct{}),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		deliverCh:    make(chan delivery, 256),
		done:         make(chan struct{}),
		broker:       broker,
		log:          logger.With().Str("component", "hub").Logger(),
	}
}

// Run processes registrations and deliveries until ctx is cancelled.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)
	if m.broker != nil {
		m.StartPubSubListener(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case c := <-m.RegisterCh:
			m.addClient(c)
		case c := <-m.UnregisterCh:
			m.removeClient(c)
		case d := <-m.deliverCh:
			m.deliver(d)
		}
	}
}

// Register hands c to the hub loop. It returns false once the hub stopped.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

// Unregister removes c from the hub loop.
func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

func (m *ManagerService) addClient(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[c] = struct{}{}
	for _, ch := range c.Channels() {
		if m.channels[ch] == nil {
			m.channels[ch] = make(map[Client]struct{})
		}
		m.channels[ch][c] = struct{}{}
	}
	metrics.ActiveConnections.Inc()
	m.log.Debug().Str("user_id", c.GetUserID()).Str("chat_id", c.GetChatID()).Msg("Client registered")
}

func (m *ManagerService) removeClient(c Client) {
	m.detach(c)
}

// Leave removes c from the hub right away and reports whether it was the
// user's last connection to its chat. Removal and the check share one lock,
// so of several sockets closing together exactly one sees itself as last.
func (m *ManagerService) Leave(c Client) bool {
	return m.detach(c)
}

func (m *ManagerService) detach(c Client) (last bool) {
	m.mu.Lock()
	_, registered := m.clients[c]
	if registered {
		delete(m.clients, c)
		for _, ch := range c.Channels() {
			delete(m.channels[ch], c)
			if len(m.channels[ch]) == 0 {
				delete(m.channels, ch)
			}
		}
	}
	last = c.GetChatID() != "" && !m.hasChatConnectionLocked(c.GetUserID(), c.GetChatID(), c)
	m.mu.Unlock()

	if !registered {
		return last
	}
	metrics.ActiveConnections.Dec()
	c.Close()
	m.log.Debug().Str("user_id", c.GetUserID()).Str("chat_id", c.GetChatID()).Msg("Client unregistered")
	return last
}

func (m *ManagerService) closeAll() {
	m.mu.RLock()
	clients := make([]Client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		m.removeClient(c)
	}
}

func (m *ManagerService) deliver(d delivery) {
	m.mu.RLock()
	targets := make([]Client, 0, len(m.channels[d.channel]))
	for c := range m.channels[d.channel] {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		if !c.Deliver(d.event) {
			// A client that cannot keep up is dropped; it resyncs on reconnect.
			metrics.DroppedDeliveries.Inc()
			m.log.Warn().
				Str("user_id", c.GetUserID()).
				Str("event", d.event.Type).
				Msg("Client buffer full, disconnecting")
			m.removeClient(c)
		}
	}
}

// PublishToChat sends ev to every connection bound to chatID.
func (m *ManagerService) PublishToChat(ctx context.Context, chatID string, ev models.Event) {
	m.publish(ctx, storage.ChatChannel(chatID), ev)
}

// PublishToUser sends ev to every connection of userID.
func (m *ManagerService) PublishToUser(ctx context.Context, userID string, ev models.Event) {
	m.publish(ctx, storage.UserChannel(userID), ev)
}

func (m *ManagerService) publish(ctx context.Context, channel string, ev models.Event) {
	if m.broker != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = m.broker.PublishEvent(ctx, channel, payload)
		}
		if err == nil {
			return
		}
		// Best effort: at least the connections of this instance get the event.
		metrics.DroppedDeliveries.Inc()
		m.log.Warn().Err(err).Str("channel", channel).Str("event", ev.Type).Msg("Broker publish failed, delivering locally")
	}
	m.enqueue(ctx, delivery{channel: channel, event: ev})
}

func (m *ManagerService) enqueue(ctx context.Context, d delivery) {
	select {
	case m.deliverCh <- d:
	case <-m.done:
	case <-ctx.Done():
		metrics.DroppedDeliveries.Inc()
	}
}

// HasChatConnection reports whether userID has a connection to chatID other than except.
func (m *ManagerService) HasChatConnection(userID, chatID string, except Client) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasChatConnectionLocked(userID, chatID, except)
}

func (m *ManagerService) hasChatConnectionLocked(userID, chatID string, except Client) bool {
	for c := range m.channels[storage.ChatChannel(chatID)] {
		if c != except && c.GetUserID() == userID {
			return true
		}
	}
	return false
}

// ClientCount returns the number of registered connections.
func (m *ManagerService) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
