package roomchat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type SocketMessageType int

const (
	Disconnect SocketMessageType = iota - 1
	_
	Frame
)

func (t SocketMessageType) String() string {
	switch t {
	case Disconnect:
		return "Disconnect"
	case Frame:
		return "Frame"
	default:
		return "Unknown"
	}
}

type SocketMessage[RefID comparable] struct {
	ReferenceID RefID
	Type        SocketMessageType
	Message     []byte
}

// SocketMessageHandler receives every frame read from a session, followed by
// exactly one Disconnect. Calls for one session are sequential.
type SocketMessageHandler[RefID comparable] interface {
	HandleSocketMessage(msg SocketMessage[RefID])
}

type SocketSessioner[RefID comparable] interface {
	ReferenceID() RefID
	Send(message []byte)
	Close()
}

type SessionOptions struct {
	// SendBuffer is the number of outbound frames queued before the session is
	// treated as a slow consumer and closed.
	SendBuffer   int
	PingInterval time.Duration
	Slogger      *slog.Logger
}

const (
	defaultSendBuffer   = 255
	defaultPingInterval = 10 * time.Second
)

type SocketSession[RefID comparable] struct {
	conn        net.Conn
	referenceID RefID

	send    chan []byte
	handler SocketMessageHandler[RefID]

	pingInterval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	slogger *slog.Logger
}

// NewSocketSession wraps an upgraded connection. Loops do not run until Start
// is called, so the caller can finish registering the reference first.
func NewSocketSession[RefID comparable](conn net.Conn, referenceID RefID, handler SocketMessageHandler[RefID], opts SessionOptions) *SocketSession[RefID] {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	sl := opts.Slogger
	if sl == nil {
		sl = slog.Default()
	}
	return &SocketSession[RefID]{
		conn:         conn,
		referenceID:  referenceID,
		send:         make(chan []byte, opts.SendBuffer),
		handler:      handler,
		pingInterval: opts.PingInterval,
		ctx:          ctx,
		cancel:       cancel,
		slogger:      sl.With("referenceID", referenceID),
	}
}

func (s *SocketSession[RefID]) Start() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.ReadLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.WriteLoop()
	}()
}

func (s *SocketSession[RefID]) ReferenceID() RefID {
	return s.referenceID
}

// Close stops both loops and waits for them. It must not be called from the
// session's own handler.
func (s *SocketSession[RefID]) Close() {
	s.shutdown()
	s.wg.Wait()
}

func (s *SocketSession[RefID]) shutdown() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}

func (s *SocketSession[RefID]) ReadLoop() {
	sl := s.slogger.With("func", "socket.ReadLoop")
	sl.Debug("starting")
	defer func() {
		s.shutdown()
		sl.Debug("ReadLoop exited")
	}()
	for {
		msg, op, err := wsutil.ReadClientData(s.conn)
		if err != nil {
			var er wsutil.ClosedError
			switch {
			case errors.As(err, &er):
				sl.Debug("ReadLoop closing", "code", er.Code, "reason", er.Reason)
			case s.ctx.Err() != nil:
				sl.Debug("ReadLoop closing", "reason", "session closed")
			default:
				sl.Info("ReadLoop error", "err", err)
			}
			// any error that ends the loop is a disconnect
			s.handler.HandleSocketMessage(s.unregisterMessage())
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		sl.Debug("ReadLoop message", "bytes", len(msg))
		s.handler.HandleSocketMessage(SocketMessage[RefID]{
			ReferenceID: s.referenceID,
			Type:        Frame,
			Message:     msg,
		})
	}
}

func (s *SocketSession[RefID]) WriteLoop() {
	sl := s.slogger.With("func", "socket.WriteLoop")
	sl.Debug("starting")
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		s.shutdown()
		sl.Debug("WriteLoop exited")
	}()
	for {
		select {
		case msg := <-s.send:
			if err := wsutil.WriteServerText(s.conn, msg); err != nil {
				sl.Debug("write failed", "err", err)
				return
			}
		case <-ticker.C:
			sl.Log(context.Background(), slog.Level(-8), "ping")
			if err := wsutil.WriteServerMessage(s.conn, ws.OpPing, nil); err != nil {
				sl.Debug("ping failed", "err", err)
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *SocketSession[RefID]) unregisterMessage() SocketMessage[RefID] {
	return SocketMessage[RefID]{
		ReferenceID: s.referenceID,
		Type:        Disconnect,
		Message:     nil,
	}
}

// Send queues a frame without blocking. A full queue closes the session; its
// read loop then reports the disconnect.
func (s *SocketSession[RefID]) Send(message []byte) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.send <- message:
	default:
		s.slogger.Warn("send buffer full, closing slow session")
		go s.shutdown()
	}
}
