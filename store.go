package roomchat

import (
	"context"
	"time"
)

// NewMessage holds the fields supplied when a message is first persisted. The
// store assigns the id and version.
type NewMessage struct {
	SenderID   UserID
	SenderName string
	Content    string
	Room       string
	Timestamp  time.Time
}

// MessageStore is the durable document store for room messages.
//
// UpdateMessage must only succeed when msg.Version matches the stored version,
// returning ErrVersionConflict otherwise. On success the stored version is
// incremented and written back into msg.
type MessageStore interface {
	CreateMessage(ctx context.Context, fields NewMessage) (*Message, error)
	GetMessageByID(ctx context.Context, id string) (*Message, error)
	UpdateMessage(ctx context.Context, msg *Message) error
	DeleteMessage(ctx context.Context, id string) error
	// ListMessagesByRoom returns the room's messages oldest first.
	ListMessagesByRoom(ctx context.Context, room string) ([]*Message, error)
}
