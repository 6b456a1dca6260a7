// Package client is a Go client for the chat socket. It keeps a Timeline of
// the current room and reconciles its own sends against acknowledgements.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"

	"github.com/chilledoj/roomchat"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type Options struct {
	// Events is the buffer of the Events channel. Events are dropped when it
	// is full.
	Events   int
	Timeline *Timeline
	Slogger  *slog.Logger
}

// Client is one socket connection to the server.
type Client struct {
	Identity roomchat.Identity
	Timeline *Timeline

	conn net.Conn
	rw   *connReadWriter

	events chan roomchat.Envelope
	done   chan struct{}
	once   sync.Once

	slogger *slog.Logger
}

// connReadWriter reads any bytes buffered during the handshake first and
// serialises writes, since control frame replies are written from the read
// loop.
type connReadWriter struct {
	r  io.Reader
	mu sync.Mutex
	w  io.Writer
}

func (c *connReadWriter) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *connReadWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write(p)
}

// Dial connects to the socket endpoint at rawURL, passing token as the token
// query parameter.
func Dial(ctx context.Context, rawURL, token string, identity roomchat.Identity, opts Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u.Redacted(), err)
	}

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	if opts.Events <= 0 {
		opts.Events = 256
	}
	if opts.Timeline == nil {
		opts.Timeline = NewTimeline(DefaultSettleWindow)
	}
	sl := opts.Slogger
	if sl == nil {
		sl = slog.Default()
	}

	c := &Client{
		Identity: identity,
		Timeline: opts.Timeline,
		conn:     conn,
		rw:       &connReadWriter{r: bufio.NewReader(r), w: conn},
		events:   make(chan roomchat.Envelope, opts.Events),
		done:     make(chan struct{}),
		slogger:  sl.With("component", "client", "user", identity.ID),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers every decoded server event after the timeline has applied
// it. It is closed when the connection ends.
func (c *Client) Events() <-chan roomchat.Envelope {
	return c.events
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	sl := c.slogger.With("func", "client.readLoop")
	defer func() {
		close(c.events)
		c.Close()
	}()
	for {
		data, op, err := wsutil.ReadServerData(c.rw)
		if err != nil {
			sl.Debug("read loop exiting", "err", err)
			return
		}
		if op != ws.OpText {
			continue
		}
		var env roomchat.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			sl.Warn("undecodable frame", "err", err)
			continue
		}
		c.apply(env)
		select {
		case c.events <- env:
		default:
			sl.Warn("event buffer full, dropping", "type", env.Type)
		}
	}
}

func (c *Client) apply(env roomchat.Envelope) {
	var err error
	switch env.Type {
	case roomchat.EventRoomJoined:
		var p roomchat.RoomJoinedPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			c.Timeline.ReplaceHistory(p.Room, p.History)
		}
	case roomchat.EventReceiveMessage:
		var m roomchat.Message
		if err = json.Unmarshal(env.Payload, &m); err == nil {
			c.Timeline.Receive(m)
		}
	case roomchat.EventMessageUpdated:
		var m roomchat.Message
		if err = json.Unmarshal(env.Payload, &m); err == nil {
			c.Timeline.Update(m)
		}
	case roomchat.EventSendAck:
		var ack roomchat.SendAck
		if err = json.Unmarshal(env.Payload, &ack); err == nil {
			if ackErr := c.Timeline.Ack(ack); ackErr != nil {
				c.slogger.Debug("ack without shadow", "tempId", ack.TempID)
			}
		}
	}
	if err != nil {
		c.slogger.Warn("bad payload", "type", env.Type, "err", err)
	}
}

func (c *Client) write(t roomchat.EventType, payload any) error {
	frame, err := roomchat.EncodeEvent(t, payload)
	if err != nil {
		return err
	}
	return wsutil.WriteClientText(c.rw, frame)
}

func (c *Client) JoinRoom(room string) error {
	return c.write(roomchat.EventJoinRoom, roomchat.JoinRoomRequest{Room: room})
}

// Send adds an optimistic shadow to the timeline and sends the message. The
// returned temp id identifies the shadow until it is acknowledged.
func (c *Client) Send(room, content string) (string, error) {
	tempID := c.Timeline.AddPending(c.Identity, room, content)
	err := c.write(roomchat.EventSendMessage, roomchat.SendMessageRequest{
		TempID:  tempID,
		Room:    room,
		Content: content,
	})
	if err != nil {
		_ = c.Timeline.Ack(roomchat.SendAck{TempID: tempID, Status: roomchat.AckError, Reason: err.Error()})
		return tempID, err
	}
	return tempID, nil
}

func (c *Client) Typing(isTyping bool) error {
	return c.write(roomchat.EventTyping, roomchat.TypingRequest{IsTyping: isTyping})
}

func (c *Client) React(messageID, reaction string) error {
	return c.write(roomchat.EventAddReaction, roomchat.ReactionRequest{MessageID: messageID, Reaction: reaction})
}

func (c *Client) SendPrivate(to roomchat.UserID, content string) error {
	return c.write(roomchat.EventPrivateMessage, roomchat.PrivateMessageRequest{To: to, Content: content})
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
		close(c.done)
	})
	return err
}
