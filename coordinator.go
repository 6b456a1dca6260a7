package roomchat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var DefaultRooms = []string{"General", "Development", "Random"}

type Options struct {
	// Rooms is the fixed room set. Defaults to DefaultRooms.
	Rooms []string
	// DefaultRoom, when set, is joined automatically by new connections.
	DefaultRoom string

	MaxMessageLength int
	ReactionAttempts int

	Session SessionOptions
	Slogger *slog.Logger
}

// Coordinator owns the registries of a chat server and dispatches every
// connection event to the component that handles it. Frames of a single
// connection are handled one at a time, in order.
type Coordinator struct {
	opts  Options
	store MessageStore

	Presence   *PresenceRegistry
	Membership *RoomMembership
	Typing     *TypingAggregator
	Delivery   *DeliveryPipeline
	Reactions  *ReactionEngine
	Private    *PrivateRouter

	emitter emitter

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	Slogger *slog.Logger
}

func NewCoordinator(parentCtx context.Context, store MessageStore, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(parentCtx)
	if len(opts.Rooms) == 0 {
		opts.Rooms = DefaultRooms
	}
	sl := opts.Slogger
	if sl == nil {
		sl = slog.Default()
	}
	if opts.Session.Slogger == nil {
		opts.Session.Slogger = sl
	}

	membership := NewRoomMembership(opts.Rooms, store, sl)
	presence := NewPresenceRegistry(sl)
	return &Coordinator{
		opts:       opts,
		store:      store,
		Presence:   presence,
		Membership: membership,
		Typing:     NewTypingAggregator(membership, sl),
		Delivery:   NewDeliveryPipeline(store, membership, opts.MaxMessageLength, sl),
		Reactions:  NewReactionEngine(store, membership, opts.ReactionAttempts, sl),
		Private:    NewPrivateRouter(presence, sl),
		emitter:    newEmitter(sl),
		ctx:        ctx,
		cancel:     cancel,
		Slogger:    sl.With("component", "coordinator"),
	}
}

// ConnectionOpened admits an authenticated connection: it joins presence,
// receives the room list and is joined to the default room if one is set.
func (c *Coordinator) ConnectionOpened(conn *Connection) error {
	sl := c.Slogger.With("func", "coordinator.ConnectionOpened", "connection", conn.ID)
	if !conn.Identity.valid() {
		sl.Warn("connection without identity")
		return ErrAuthRejected
	}
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}
	if err := c.Presence.Register(conn); err != nil {
		return err
	}
	sl.Info("connection opened", "user", conn.Identity.ID, "username", conn.Identity.DisplayName)

	c.emitter.emitTo(conn, EventAvailableRooms, AvailableRoomsPayload{Rooms: c.Membership.Rooms()})
	if c.opts.DefaultRoom != "" {
		c.joinRoom(conn, c.opts.DefaultRoom)
	}
	return nil
}

// ConnectionClosed tears down a connection: typing first, then room
// membership, then presence.
func (c *Coordinator) ConnectionClosed(id ConnectionID) {
	sl := c.Slogger.With("func", "coordinator.ConnectionClosed", "connection", id)
	conn, ok := c.Presence.Get(id)
	if !ok {
		sl.Debug("unknown connection")
		return
	}
	if room, ok := c.Membership.CurrentRoom(id); ok {
		c.Typing.Clear(conn, room)
	}
	c.Membership.Leave(conn)
	if err := c.Presence.Unregister(conn); err != nil {
		sl.Debug("unregister", "err", err)
	}
	sl.Info("connection closed", "user", conn.Identity.ID)
}

// HandleSocketMessage implements SocketMessageHandler.
func (c *Coordinator) HandleSocketMessage(msg SocketMessage[ConnectionID]) {
	switch msg.Type {
	case Disconnect:
		c.ConnectionClosed(msg.ReferenceID)
	case Frame:
		conn, ok := c.Presence.Get(msg.ReferenceID)
		if !ok {
			c.Slogger.Debug("frame from unknown connection", "connection", msg.ReferenceID)
			return
		}
		ev, err := DecodeInbound(msg.Message)
		if err != nil {
			c.Slogger.Warn("dropping frame", "connection", msg.ReferenceID, "err", err)
			if tempID, ok := sendTempID(msg.Message); ok {
				c.emitter.emitTo(conn, EventSendAck, failedAck(tempID, err))
			}
			return
		}
		c.Dispatch(conn, ev)
	}
}

// Dispatch routes a decoded event to its component.
func (c *Coordinator) Dispatch(conn *Connection, ev InboundEvent) {
	sl := c.Slogger.With("func", "coordinator.Dispatch", "connection", conn.ID, "type", ev.EventType())
	switch e := ev.(type) {
	case *JoinRoomRequest:
		c.joinRoom(conn, e.Room)

	case *SendMessageRequest:
		// the base context outlives the connection, so a send made just
		// before disconnect is still saved and broadcast
		ack, err := c.Delivery.Send(c.ctx, conn, *e)
		if err != nil {
			sl.Debug("send failed", "err", err)
		}
		c.emitter.emitTo(conn, EventSendAck, ack)

	case *TypingRequest:
		if err := c.Typing.SetTyping(conn, e.IsTyping); err != nil {
			sl.Debug("typing ignored", "err", err)
		}

	case *ReactionRequest:
		_, err := c.Reactions.Toggle(c.ctx, conn.Identity, e.MessageID, e.Reaction)
		switch {
		case err == nil:
		case errors.Is(err, ErrMessageNotFound):
			sl.Debug("reaction on missing message", "message", e.MessageID)
		default:
			sl.Error("toggling reaction", "message", e.MessageID, "err", err)
		}

	case *PrivateMessageRequest:
		if _, err := c.Private.Send(conn, e.To, e.Content); err != nil {
			sl.Debug("private message dropped", "err", err)
		}
	}
}

func (c *Coordinator) joinRoom(conn *Connection, room string) {
	previous, err := c.Membership.JoinRoom(c.ctx, conn, room)
	if err != nil {
		// unknown rooms are dropped without a reply
		return
	}
	if previous != "" {
		c.Typing.Clear(conn, previous)
	}
}

// Stop closes every live session and waits for their disconnects to be
// processed.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		sl := c.Slogger.With("func", "coordinator.Stop")
		sl.Debug("closing", "status", "started")
		for _, conn := range c.Presence.All() {
			sl.Debug("closing connection", "connection", conn.ID)
			conn.close()
		}
		c.cancel()
		sl.Debug("closed", "status", "completed")
	})
}

func (c *Coordinator) Context() context.Context {
	return c.ctx
}
