package roomchat

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

type EventType string

// Inbound events.
const (
	EventJoinRoom       EventType = "join_room"
	EventSendMessage    EventType = "send_message"
	EventTyping         EventType = "typing"
	EventAddReaction    EventType = "add_reaction"
	EventPrivateMessage EventType = "private_message"
)

// Outbound events. EventPrivateMessage is used in both directions.
const (
	EventOnlineUsers    EventType = "online_users"
	EventUserJoined     EventType = "user_joined"
	EventUserLeft       EventType = "user_left"
	EventAvailableRooms EventType = "available_rooms"
	EventRoomJoined     EventType = "room_joined"
	EventUserJoinedRoom EventType = "user_joined_room"
	EventUserLeftRoom   EventType = "user_left_room"
	EventReceiveMessage EventType = "receive_message"
	EventSendAck        EventType = "send_ack"
	EventMessageUpdated EventType = "message_updated"
	EventTypingUsers    EventType = "typing_users"
)

// Envelope is the frame shape for both directions.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outboundEnvelope struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// EncodeEvent marshals a typed payload into a frame.
func EncodeEvent(t EventType, payload any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Type: t, Payload: payload})
}

// --- inbound payloads ---

// InboundEvent is implemented by every request a connection may send.
type InboundEvent interface {
	EventType() EventType
	Validate() error
}

type JoinRoomRequest struct {
	Room string `json:"room"`
}

func (JoinRoomRequest) EventType() EventType { return EventJoinRoom }

func (r JoinRoomRequest) Validate() error {
	if strings.TrimSpace(r.Room) == "" {
		return fmt.Errorf("%w: room is required", ErrInvalidEvent)
	}
	return nil
}

type SendMessageRequest struct {
	TempID  string `json:"tempId"`
	Room    string `json:"room"`
	Content string `json:"content"`
}

func (SendMessageRequest) EventType() EventType { return EventSendMessage }

// Validate only checks the envelope; content rules are enforced by the
// delivery pipeline so they can be acknowledged.
func (r SendMessageRequest) Validate() error {
	if r.TempID == "" {
		return fmt.Errorf("%w: tempId is required", ErrInvalidEvent)
	}
	if r.Room == "" {
		return fmt.Errorf("%w: room is required", ErrInvalidEvent)
	}
	return nil
}

type TypingRequest struct {
	IsTyping bool `json:"isTyping"`
}

func (TypingRequest) EventType() EventType { return EventTyping }
func (TypingRequest) Validate() error      { return nil }

type ReactionRequest struct {
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
}

func (ReactionRequest) EventType() EventType { return EventAddReaction }

const maxReactionLength = 32

func (r ReactionRequest) Validate() error {
	if r.MessageID == "" {
		return fmt.Errorf("%w: messageId is required", ErrInvalidEvent)
	}
	return validateReaction(r.Reaction)
}

func validateReaction(symbol string) error {
	if strings.TrimSpace(symbol) == "" || utf8.RuneCountInString(symbol) > maxReactionLength {
		return ErrInvalidReaction
	}
	return nil
}

type PrivateMessageRequest struct {
	To      UserID `json:"to"`
	Content string `json:"content"`
}

func (PrivateMessageRequest) EventType() EventType { return EventPrivateMessage }

func (r PrivateMessageRequest) Validate() error {
	if r.To == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidEvent)
	}
	return nil
}

// sendTempID returns the tempId of a send_message frame that could not be
// decoded, so the sender can still be acknowledged.
func sendTempID(frame []byte) (string, bool) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Type != EventSendMessage {
		return "", false
	}
	var p struct {
		TempID string `json:"tempId"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.TempID == "" {
		return "", false
	}
	return p.TempID, true
}

// DecodeInbound parses and validates a client frame.
func DecodeInbound(frame []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var ev InboundEvent
	switch env.Type {
	case EventJoinRoom:
		ev = &JoinRoomRequest{}
	case EventSendMessage:
		ev = &SendMessageRequest{}
	case EventTyping:
		ev = &TypingRequest{}
	case EventAddReaction:
		ev = &ReactionRequest{}
	case EventPrivateMessage:
		ev = &PrivateMessageRequest{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, env.Type)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s has no payload", ErrInvalidEvent, env.Type)
	}
	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.Type, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// --- outbound payloads ---

type OnlineUsersPayload struct {
	Users []Identity `json:"users"`
}

type AvailableRoomsPayload struct {
	Rooms []string `json:"rooms"`
}

type RoomJoinedPayload struct {
	Room    string     `json:"room"`
	Message string     `json:"message"`
	History []*Message `json:"history"`
}

type RoomMemberPayload struct {
	Username string `json:"username"`
	Room     string `json:"room"`
	Message  string `json:"message"`
}

type AckStatus string

const (
	AckOK    AckStatus = "ok"
	AckError AckStatus = "error"
)

// SendAck is the single terminal result of a send request.
type SendAck struct {
	TempID     string    `json:"tempId"`
	Status     AckStatus `json:"status"`
	AssignedID string    `json:"id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

type TypingUsersPayload struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}
