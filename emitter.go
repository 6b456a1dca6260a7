package roomchat

import (
	"log/slog"
)

// emitter encodes an event once and hands the frame to each target. Sends are
// independent and never block on a slow target.
type emitter struct {
	slogger *slog.Logger
}

func newEmitter(sl *slog.Logger) emitter {
	return emitter{slogger: sl.With("component", "emitter")}
}

func (e emitter) emit(targets []*Connection, t EventType, payload any) {
	if len(targets) == 0 {
		return
	}
	frame, ok := e.encode(t, payload)
	if !ok {
		return
	}
	e.slogger.Debug("emit", "type", t, "targets", len(targets))
	for _, c := range targets {
		c.Send(frame)
	}
}

func (e emitter) encode(t EventType, payload any) ([]byte, bool) {
	frame, err := EncodeEvent(t, payload)
	if err != nil {
		e.slogger.Error("encoding event", "type", t, "err", err)
		return nil, false
	}
	return frame, true
}

func (e emitter) emitTo(target *Connection, t EventType, payload any) {
	e.emit([]*Connection{target}, t, payload)
}

// except returns conns without the connection id.
func except(conns []*Connection, id ConnectionID) []*Connection {
	out := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		if c.ID == id {
			continue
		}
		out = append(out, c)
	}
	return out
}
