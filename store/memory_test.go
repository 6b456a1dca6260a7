package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chilledoj/roomchat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory lets the same contract tests run against every implementation.
type storeFactory func(t *testing.T) roomchat.MessageStore

func testMessageStore(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	create := func(t *testing.T, s roomchat.MessageStore, room, content string, at time.Time) *roomchat.Message {
		t.Helper()
		msg, err := s.CreateMessage(ctx, roomchat.NewMessage{
			SenderID:   "u1",
			SenderName: "alice",
			Content:    content,
			Room:       room,
			Timestamp:  at,
		})
		require.NoError(t, err)
		return msg
	}

	t.Run("should create and fetch a message", func(t *testing.T) {
		s := newStore(t)
		msg := create(t, s, "General", "hello", base)

		require.NotEmpty(t, msg.ID)
		assert.Empty(t, msg.Reactions)

		got, err := s.GetMessageByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, "alice", got.SenderName)
		assert.Equal(t, "General", got.Room)
		assert.True(t, base.Equal(got.Timestamp))
		assert.Equal(t, msg.Version, got.Version)
	})

	t.Run("should report missing messages", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetMessageByID(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, roomchat.ErrMessageNotFound)
		_, err = s.GetMessageByID(ctx, "not-an-id")
		assert.ErrorIs(t, err, roomchat.ErrMessageNotFound)
	})

	t.Run("should list a room oldest first", func(t *testing.T) {
		s := newStore(t)
		room := fmt.Sprintf("list-%d", time.Now().UnixNano())
		second := create(t, s, room, "second", base.Add(time.Minute))
		first := create(t, s, room, "first", base)
		create(t, s, room+"-other", "elsewhere", base)

		msgs, err := s.ListMessagesByRoom(ctx, room)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, first.ID, msgs[0].ID)
		assert.Equal(t, second.ID, msgs[1].ID)

		empty, err := s.ListMessagesByRoom(ctx, room+"-none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("should update reactions with a version check", func(t *testing.T) {
		s := newStore(t)
		msg := create(t, s, "General", "react to me", base)

		stale, err := s.GetMessageByID(ctx, msg.ID)
		require.NoError(t, err)

		msg.ToggleReaction("👍", "alice")
		require.NoError(t, s.UpdateMessage(ctx, msg))

		got, err := s.GetMessageByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg.Version, got.Version)
		require.Contains(t, got.Reactions, "👍")
		assert.Equal(t, []string{"alice"}, got.Reactions["👍"].Users)

		stale.ToggleReaction("🎉", "bob")
		assert.ErrorIs(t, s.UpdateMessage(ctx, stale), roomchat.ErrVersionConflict)
	})

	t.Run("should delete messages", func(t *testing.T) {
		s := newStore(t)
		msg := create(t, s, "General", "short lived", base)

		require.NoError(t, s.DeleteMessage(ctx, msg.ID))

		_, err := s.GetMessageByID(ctx, msg.ID)
		assert.ErrorIs(t, err, roomchat.ErrMessageNotFound)
		assert.ErrorIs(t, s.DeleteMessage(ctx, msg.ID), roomchat.ErrMessageNotFound)
		assert.ErrorIs(t, s.UpdateMessage(ctx, msg), roomchat.ErrMessageNotFound)
	})

	t.Run("should not lose concurrent reactions", func(t *testing.T) {
		s := newStore(t)
		msg := create(t, s, "General", "popular", base)

		const reactors = 10
		var wg sync.WaitGroup
		for i := 0; i < reactors; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for {
					m, err := s.GetMessageByID(ctx, msg.ID)
					if !assert.NoError(t, err) {
						return
					}
					m.ToggleReaction("👍", fmt.Sprintf("user%d", i))
					err = s.UpdateMessage(ctx, m)
					if err == nil {
						return
					}
					if !assert.ErrorIs(t, err, roomchat.ErrVersionConflict) {
						return
					}
				}
			}(i)
		}
		wg.Wait()

		got, err := s.GetMessageByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, reactors, got.Reactions["👍"].Count)
		assert.True(t, got.Reactions.Consistent())
	})
}

func TestMemoryStore(t *testing.T) {
	testMessageStore(t, func(t *testing.T) roomchat.MessageStore {
		return NewMemoryStore()
	})
}

func TestMemoryStore_Isolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	msg, err := s.CreateMessage(ctx, roomchat.NewMessage{SenderID: "u1", SenderName: "alice", Content: "hi", Room: "General"})
	require.NoError(t, err)

	// mutating a returned copy must not touch the stored document
	msg.ToggleReaction("👍", "alice")
	got, err := s.GetMessageByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Reactions)
	assert.NoError(t, s.Ping(ctx))
}
