package client

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/chilledoj/roomchat"
	"github.com/google/uuid"
)

type Status string

const (
	StatusNone    Status = ""
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// DefaultSettleWindow is how long a sent status stays visible.
const DefaultSettleWindow = 5 * time.Second

var ErrUnknownTempID = errors.New("no pending message for temp id")

// Entry is one message in the local timeline. Shadows created by AddPending
// carry a TempID until the server acknowledges them.
type Entry struct {
	TempID  string
	Message roomchat.Message
	Status  Status
	// Reason is the server's failure reason for a failed send.
	Reason string

	settledAt time.Time
}

// Timeline is the client's view of the current room: persisted messages plus
// optimistic shadows of its own unacknowledged sends.
type Timeline struct {
	mu      sync.Mutex
	room    string
	entries []*Entry

	settle time.Duration
	now    func() time.Time
}

func NewTimeline(settle time.Duration) *Timeline {
	if settle <= 0 {
		settle = DefaultSettleWindow
	}
	return &Timeline{settle: settle, now: time.Now}
}

// AddPending inserts an optimistic shadow and returns its temp id.
func (t *Timeline) AddPending(sender roomchat.Identity, room, content string) string {
	tempID := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, &Entry{
		TempID: tempID,
		Message: roomchat.Message{
			ID:         tempID,
			SenderID:   sender.ID,
			SenderName: sender.DisplayName,
			Content:    content,
			Room:       room,
			Timestamp:  t.now().UTC(),
		},
		Status: StatusSending,
	})
	return tempID
}

// Ack reconciles the shadow named by the ack. A successful ack swaps in the
// assigned id; a failed one marks the shadow failed. The shadow is never
// duplicated: if the persisted message already arrived, the shadow is merged
// into it.
func (t *Timeline) Ack(ack roomchat.SendAck) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := slices.IndexFunc(t.entries, func(e *Entry) bool { return e.TempID == ack.TempID && e.Status == StatusSending })
	if idx < 0 {
		return ErrUnknownTempID
	}
	shadow := t.entries[idx]

	if ack.Status != roomchat.AckOK {
		shadow.Status = StatusFailed
		shadow.Reason = ack.Reason
		return nil
	}

	if existing := t.indexLocked(ack.AssignedID); existing >= 0 {
		t.entries[existing].TempID = shadow.TempID
		t.entries[existing].Status = StatusSent
		t.entries[existing].settledAt = t.now()
		t.entries = slices.Delete(t.entries, idx, idx+1)
		return nil
	}
	shadow.Message.ID = ack.AssignedID
	shadow.Status = StatusSent
	shadow.settledAt = t.now()
	return nil
}

// Receive merges a message broadcast by the server.
func (t *Timeline) Receive(msg roomchat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if msg.Room != "" && t.room != "" && msg.Room != t.room {
		return
	}
	if idx := t.indexLocked(msg.ID); idx >= 0 {
		t.entries[idx].Message = msg
		return
	}
	t.entries = append(t.entries, &Entry{Message: msg})
}

// Update replaces a known message, typically after a reaction change.
func (t *Timeline) Update(msg roomchat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexLocked(msg.ID)
	if idx < 0 {
		return false
	}
	t.entries[idx].Message = msg
	return true
}

// ReplaceHistory switches the timeline to room with its history. Shadows for
// that room that are still sending or failed are kept after the history.
func (t *Timeline) ReplaceHistory(room string, history []*roomchat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var keep []*Entry
	for _, e := range t.entries {
		if e.Message.Room == room && (e.Status == StatusSending || e.Status == StatusFailed) {
			keep = append(keep, e)
		}
	}
	t.room = room
	t.entries = make([]*Entry, 0, len(history)+len(keep))
	for _, m := range history {
		if m == nil {
			continue
		}
		t.entries = append(t.entries, &Entry{Message: *m})
	}
	t.entries = append(t.entries, keep...)
}

func (t *Timeline) Room() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.room
}

// Entries returns a snapshot. Sent statuses older than the settle window are
// cleared first.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Status == StatusSent && now.Sub(e.settledAt) >= t.settle {
			e.Status = StatusNone
		}
		out = append(out, *e)
	}
	return out
}

// Find returns the entry with the given persisted or temp id.
func (t *Timeline) Find(id string) (Entry, bool) {
	for _, e := range t.Entries() {
		if e.Message.ID == id || (e.TempID != "" && e.TempID == id) {
			return e, true
		}
	}
	return Entry{}, false
}

func (t *Timeline) indexLocked(id string) int {
	return slices.IndexFunc(t.entries, func(e *Entry) bool { return e.Message.ID == id })
}
