package roomchat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	valid := []struct {
		name  string
		frame string
		want  InboundEvent
	}{
		{"join", `{"type":"join_room","payload":{"room":"General"}}`, &JoinRoomRequest{Room: "General"}},
		{"send", `{"type":"send_message","payload":{"tempId":"t1","room":"General","content":"hi"}}`,
			&SendMessageRequest{TempID: "t1", Room: "General", Content: "hi"}},
		{"typing", `{"type":"typing","payload":{"isTyping":true}}`, &TypingRequest{IsTyping: true}},
		{"reaction", `{"type":"add_reaction","payload":{"messageId":"m1","reaction":"👍"}}`,
			&ReactionRequest{MessageID: "m1", Reaction: "👍"}},
		{"private", `{"type":"private_message","payload":{"to":"u2","content":"psst"}}`,
			&PrivateMessageRequest{To: "u2", Content: "psst"}},
	}
	for _, tc := range valid {
		t.Run("should decode "+tc.name, func(t *testing.T) {
			ev, err := DecodeInbound([]byte(tc.frame))
			require.NoError(t, err)
			assert.Equal(t, tc.want, ev)
		})
	}

	invalid := []struct {
		name  string
		frame string
		err   error
	}{
		{"garbage", `{{`, ErrInvalidEvent},
		{"unknown type", `{"type":"shout","payload":{}}`, ErrInvalidEvent},
		{"missing payload", `{"type":"typing"}`, ErrInvalidEvent},
		{"wrong payload shape", `{"type":"typing","payload":{"isTyping":"yes"}}`, ErrInvalidEvent},
		{"empty room", `{"type":"join_room","payload":{"room":" "}}`, ErrInvalidEvent},
		{"send without tempId", `{"type":"send_message","payload":{"room":"General","content":"hi"}}`, ErrInvalidEvent},
		{"reaction without message", `{"type":"add_reaction","payload":{"reaction":"👍"}}`, ErrInvalidEvent},
		{"blank reaction", `{"type":"add_reaction","payload":{"messageId":"m1","reaction":""}}`, ErrInvalidReaction},
		{"private without recipient", `{"type":"private_message","payload":{"content":"x"}}`, ErrInvalidEvent},
	}
	for _, tc := range invalid {
		t.Run("should reject "+tc.name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(tc.frame))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestSendTempID(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		tempID string
		ok     bool
	}{
		{"bad content type", `{"type":"send_message","payload":{"tempId":"t1","content":7}}`, "t1", true},
		{"missing tempId", `{"type":"send_message","payload":{"room":"General"}}`, "", false},
		{"other event", `{"type":"typing","payload":{"tempId":"t1"}}`, "", false},
		{"garbage", `{{`, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tempID, ok := sendTempID([]byte(tc.frame))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.tempID, tempID)
		})
	}
}
