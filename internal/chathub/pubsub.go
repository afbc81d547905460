package chathub

import (
	"context"
	"encoding/json"
	"swapgogo/backend/internal/models"
)

// Redis channel patterns every instance listens on.
var subscribePatterns = []string{"chat:*", "user:*"}

// StartPubSubListener запускає Goroutine, яка слухає Redis Pub/Sub
// і передає події до локальних з'єднань.
func (m *ManagerService) StartPubSubListener(ctx context.Context) {
	pubsub := m.broker.SubscribeEvents(ctx, subscribePatterns...)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					m.log.Warn().Err(err).Str("channel", msg.Channel).Msg("Error unmarshalling Redis message")
					continue
				}
				m.enqueue(ctx, delivery{channel: msg.Channel, event: ev})
			}
		}
	}()
	m.log.Info().Strs("patterns", subscribePatterns).Msg("Redis listener started")
}
