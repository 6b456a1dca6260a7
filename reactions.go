package roomchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const defaultReactionAttempts = 10

// ReactionEngine toggles reactions with a compare-and-retry loop over the
// store's per-message version, so concurrent toggles never lose an update.
type ReactionEngine struct {
	store       MessageStore
	membership  *RoomMembership
	maxAttempts int

	Slogger *slog.Logger
}

func NewReactionEngine(store MessageStore, membership *RoomMembership, maxAttempts int, sl *slog.Logger) *ReactionEngine {
	if sl == nil {
		sl = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultReactionAttempts
	}
	return &ReactionEngine{
		store:       store,
		membership:  membership,
		maxAttempts: maxAttempts,
		Slogger:     sl.With("component", "reactions"),
	}
}

// Toggle flips identity's reaction symbol on the message and broadcasts the
// updated message to every connection in the message's room.
func (e *ReactionEngine) Toggle(ctx context.Context, identity Identity, messageID, symbol string) (*Message, error) {
	sl := e.Slogger.With("func", "reactions.Toggle", "message", messageID, "reaction", symbol, "user", identity.ID)
	if err := validateReaction(symbol); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		msg, err := e.store.GetMessageByID(ctx, messageID)
		if err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				sl.Debug("message not found")
				return nil, ErrMessageNotFound
			}
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		added := msg.ToggleReaction(symbol, identity.DisplayName)
		err = e.store.UpdateMessage(ctx, msg)
		switch {
		case err == nil:
			sl.Debug("toggled", "added", added, "attempt", attempt)
			e.membership.Publish(msg.Room, "", EventMessageUpdated, msg)
			return msg, nil
		case errors.Is(err, ErrVersionConflict):
			sl.Debug("version conflict, retrying", "attempt", attempt)
			continue
		case errors.Is(err, ErrMessageNotFound):
			sl.Debug("message deleted during toggle")
			return nil, ErrMessageNotFound
		default:
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}
	sl.Warn("giving up after repeated conflicts", "attempts", e.maxAttempts)
	return nil, fmt.Errorf("%w: %w", ErrPersistence, ErrVersionConflict)
}
