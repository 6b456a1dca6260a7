package roomchat

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PrivateRouter delivers direct messages to a user's live connections,
// bypassing rooms. Nothing is persisted or queued: an offline recipient simply
// misses the message.
type PrivateRouter struct {
	presence *PresenceRegistry
	now      func() time.Time

	emitter emitter
	Slogger *slog.Logger
}

func NewPrivateRouter(presence *PresenceRegistry, sl *slog.Logger) *PrivateRouter {
	if sl == nil {
		sl = slog.Default()
	}
	return &PrivateRouter{
		presence: presence,
		now:      time.Now,
		emitter:  newEmitter(sl),
		Slogger:  sl.With("component", "private"),
	}
}

// Send routes content to every connection of the recipient and echoes it to
// the originating connection. Each connection receives it once.
func (p *PrivateRouter) Send(from *Connection, to UserID, content string) (*PrivateMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	msg := &PrivateMessage{
		ID:          uuid.NewString(),
		SenderID:    from.Identity.ID,
		SenderName:  from.Identity.DisplayName,
		RecipientID: to,
		Content:     content,
		Timestamp:   p.now().UTC(),
		IsPrivate:   true,
	}

	recipients := p.presence.ConnectionsOf(to)
	targets := append(except(recipients, from.ID), from)
	p.emitter.emit(targets, EventPrivateMessage, msg)

	p.Slogger.Debug("routed", "from", from.Identity.ID, "to", to, "recipientConnections", len(recipients))
	return msg, nil
}
