package roomchat

import "errors"

var (
	// ErrAuthRejected means the identity resolver refused the connection. The
	// connection never enters presence or room state.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrUnknownRoom is returned for a join naming a room outside the fixed set.
	// The request is dropped: no broadcast, no reply.
	ErrUnknownRoom = errors.New("unknown room")
	// ErrNotInRoom is returned when a connection acts on a room it has not joined.
	ErrNotInRoom = errors.New("connection is not in room")
	// ErrMessageNotFound is returned by stores and the reaction engine when the
	// message document does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrPersistence wraps any storage collaborator failure surfaced to a sender.
	ErrPersistence = errors.New("persistence failure")
	// ErrVersionConflict is returned by MessageStore.UpdateMessage when the
	// document changed since it was read.
	ErrVersionConflict = errors.New("message version conflict")

	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrNotRegistered     = errors.New("connection not registered")
	ErrEmptyMessage      = errors.New("message content is empty")
	ErrMessageTooLong    = errors.New("message content is too long")
	ErrInvalidEvent      = errors.New("invalid event")
	ErrInvalidReaction   = errors.New("invalid reaction")
)
