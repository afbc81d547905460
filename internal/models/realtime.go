package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Inbound and outbound frame types.
const (
	TypeSwapRequest = "swap.request"
	TypeSwapConfirm = "swap.confirm"
	TypeSwapCancel  = "swap.cancel"
	TypeChatMessage = "chat.message"
	TypePing        = "ping"

	TypeSwapActivate = "swap.activate"
	TypeSwapExpire   = "swap.expire"
	TypeSwapLogout   = "swap.logout"
	TypeSwapInvite   = "swap.invite"
	TypeError        = "error"
	TypePong         = "pong"
)

// eventNamespace seeds deterministic event ids.
var eventNamespace = uuid.MustParse("6f1c2b1e-3d4a-4f6b-9a51-0c7e2d9b8a10")

// Inbound is a frame received from a client socket.
type Inbound struct {
	Type     string `json:"type"`
	Duration int    `json:"duration,omitempty"`
	Content  string `json:"content,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Event is a frame pushed to client sockets through the fan-out layer.
// ID stays the same when the same state change is delivered twice.
type Event struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	ChatID string          `json:"chat_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event with a random id.
func NewEvent(eventType, chatID string, data any) Event {
	return newEvent(uuid.NewString(), eventType, chatID, data)
}

// NewKeyedEvent builds an event whose id is derived from key parts, so
// redeliveries of the same transition carry the same id.
func NewKeyedEvent(eventType, chatID string, data any, key ...string) Event {
	name := eventType + "|" + chatID + "|" + strings.Join(key, "|")
	return newEvent(uuid.NewSHA1(eventNamespace, []byte(name)).String(), eventType, chatID, data)
}

func newEvent(id, eventType, chatID string, data any) Event {
	ev := Event{ID: id, Type: eventType, ChatID: chatID}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// SwapRequested is the payload of swap.request.
type SwapRequested struct {
	RequestedBy         string    `json:"requested_by"`
	RequestedByUsername string    `json:"requested_by_username,omitempty"`
	Duration            int       `json:"duration"`
	RequestedAt         time.Time `json:"requested_at"`
}

// SwapConfirmed is the payload of swap.confirm.
type SwapConfirmed struct {
	UserID       string `json:"user_id"`
	AllConfirmed bool   `json:"all_confirmed"`
}

// SwapActivated is the payload of swap.activate. It is addressed to one user.
type SwapActivated struct {
	PartnerID           string    `json:"partner_id"`
	PartnerUsername     string    `json:"partner_username,omitempty"`
	PartnerProfileImage *string   `json:"partner_profile_image,omitempty"`
	StartedAt           time.Time `json:"started_at"`
	EndsAt              time.Time `json:"ends_at"`
	Remaining           int       `json:"remaining"`
}

// SwapCancelled is the payload of swap.cancel.
type SwapCancelled struct {
	CancelledBy string `json:"cancelled_by"`
}

// SwapEnded is the payload of swap.expire and swap.logout.
type SwapEnded struct {
	ForceRedirect bool `json:"force_redirect"`
}

// SwapInvite is the personal-channel notice of a new or withdrawn invite.
type SwapInvite struct {
	From string `json:"from"`
}

// OutgoingMessage is the payload of chat.message.
type OutgoingMessage struct {
	ID               string    `json:"id"`
	SenderID         string    `json:"sender_id"`
	ApparentSenderID *string   `json:"apparent_sender_id,omitempty"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
	DuringSwap       bool      `json:"during_swap"`
	Remaining        *int      `json:"remaining,omitempty"`
	ClientID         string    `json:"client_id,omitempty"`
}

// ErrorPayload is the payload of error.
type ErrorPayload struct {
	Message  string `json:"message"`
	ClientID string `json:"client_id,omitempty"`
}
