package roomchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

const defaultMaxMessageLength = 2000

// DeliveryPipeline persists room messages, fans them out to the room and
// produces the sender's acknowledgement.
type DeliveryPipeline struct {
	store      MessageStore
	membership *RoomMembership
	maxLength  int
	now        func() time.Time

	Slogger *slog.Logger
}

func NewDeliveryPipeline(store MessageStore, membership *RoomMembership, maxLength int, sl *slog.Logger) *DeliveryPipeline {
	if sl == nil {
		sl = slog.Default()
	}
	if maxLength <= 0 {
		maxLength = defaultMaxMessageLength
	}
	return &DeliveryPipeline{
		store:      store,
		membership: membership,
		maxLength:  maxLength,
		now:        time.Now,
		Slogger:    sl.With("component", "delivery"),
	}
}

// Send handles one send request and returns its single acknowledgement. On
// success every other connection in the room receives the persisted message;
// on any failure nothing is broadcast. The returned error carries the cause
// for logging and is already reflected in the ack.
func (d *DeliveryPipeline) Send(ctx context.Context, conn *Connection, req SendMessageRequest) (SendAck, error) {
	sl := d.Slogger.With("func", "delivery.Send", "connection", conn.ID, "room", req.Room, "tempId", req.TempID)

	if room, ok := d.membership.CurrentRoom(conn.ID); !ok || room != req.Room {
		sl.Warn("send outside current room", "current", room)
		return failedAck(req.TempID, ErrNotInRoom), ErrNotInRoom
	}
	if err := d.validate(req.Content); err != nil {
		sl.Debug("rejected", "err", err)
		return failedAck(req.TempID, err), err
	}

	msg, err := d.store.CreateMessage(ctx, NewMessage{
		SenderID:   conn.Identity.ID,
		SenderName: conn.Identity.DisplayName,
		Content:    req.Content,
		Room:       req.Room,
		Timestamp:  d.now().UTC(),
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
		sl.Error("persisting message", "err", err)
		return failedAck(req.TempID, err), err
	}

	d.membership.Publish(req.Room, conn.ID, EventReceiveMessage, msg)
	sl.Debug("delivered", "id", msg.ID)
	return SendAck{TempID: req.TempID, Status: AckOK, AssignedID: msg.ID}, nil
}

func (d *DeliveryPipeline) validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > d.maxLength {
		return ErrMessageTooLong
	}
	return nil
}

func failedAck(tempID string, err error) SendAck {
	reason := err.Error()
	switch {
	case errors.Is(err, ErrNotInRoom):
		reason = "Not authorized for this room"
	case errors.Is(err, ErrPersistence):
		reason = "Message could not be saved"
	case errors.Is(err, ErrInvalidEvent):
		reason = "Invalid message"
	}
	return SendAck{TempID: tempID, Status: AckError, Reason: reason}
}
