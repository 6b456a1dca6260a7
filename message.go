package roomchat

import (
	"slices"
	"time"
)

// Reaction is the aggregate for one symbol on one message. Count always equals
// len(Users).
type Reaction struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Reactions maps a reaction symbol to its aggregate. Symbols whose count drops
// to zero are removed.
type Reactions map[string]*Reaction

// Message is a persisted room message. Only Reactions changes after creation.
type Message struct {
	ID         string    `json:"id"`
	SenderID   UserID    `json:"senderId"`
	SenderName string    `json:"sender"`
	Content    string    `json:"content"`
	Room       string    `json:"room"`
	Timestamp  time.Time `json:"timestamp"`
	Reactions  Reactions `json:"reactions"`

	// Version is the optimistic concurrency token owned by the store.
	Version int64 `json:"-"`
}

// ToggleReaction flips displayName's membership for symbol and reports whether
// the reaction was added (true) or removed (false).
func (m *Message) ToggleReaction(symbol, displayName string) bool {
	if m.Reactions == nil {
		m.Reactions = make(Reactions)
	}
	r, ok := m.Reactions[symbol]
	if !ok {
		r = &Reaction{Count: 0, Users: []string{}}
		m.Reactions[symbol] = r
	}

	added := false
	if idx := slices.Index(r.Users, displayName); idx > -1 {
		r.Users = slices.Delete(r.Users, idx, idx+1)
		r.Count--
	} else {
		r.Users = append(r.Users, displayName)
		r.Count++
		added = true
	}

	if r.Count <= 0 {
		delete(m.Reactions, symbol)
	}
	return added
}

// Clone returns a deep copy so stores and callers never share reaction slices.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Reactions = m.Reactions.Clone()
	return &cp
}

func (rs Reactions) Clone() Reactions {
	out := make(Reactions, len(rs))
	for symbol, r := range rs {
		if r == nil {
			continue
		}
		out[symbol] = &Reaction{Count: r.Count, Users: slices.Clone(r.Users)}
	}
	return out
}

// Consistent reports whether every aggregate satisfies count == len(users) > 0.
func (rs Reactions) Consistent() bool {
	for _, r := range rs {
		if r == nil || r.Count <= 0 || r.Count != len(r.Users) {
			return false
		}
	}
	return true
}

// PrivateMessage is a direct message routed to a user's live connections. It is
// never persisted.
type PrivateMessage struct {
	ID          string    `json:"id"`
	SenderID    UserID    `json:"senderId"`
	SenderName  string    `json:"sender"`
	RecipientID UserID    `json:"recipientId"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	IsPrivate   bool      `json:"isPrivate"`
}
