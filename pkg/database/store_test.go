package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both Store implementations must satisfy the same contract, so every test
// runs against both.
func withStores(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()

	t.Run("mem", func(t *testing.T) {
		store := NewMemStore()
		defer store.Close()
		fn(t, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "causerie.db"))
		require.NoError(t, err)
		defer db.Close()
		fn(t, db)
	})
}

func TestCreateUser(t *testing.T) {
	withStores(t, func(t *testing.T, store Store) {
		id, err := store.CreateUser("alice", "hash1")
		require.NoError(t, err)
		require.NotZero(t, id)

		user, err := store.GetUserByUsername("alice")
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, "hash1", user.PasswordHash)
		assert.Equal(t, UserStatusOffline, user.Status)
		assert.NotZero(t, user.CreatedAt)
	})
}

func TestCreateUserDuplicate(t *testing.T) {
	withStores(t, func(t *testing.T, store Store) {
		_, err := store.CreateUser("alice", "hash1")
		require.NoError(t, err)

		_, err = store.CreateUser("alice", "hash2")
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})
}

func TestGetUserNotFound(t *testing.T) {
	withStores(t, func(t *testing.T, store Store) {
		_, err := store.GetUserByUsername("ghost")
		assert.ErrorIs(t, err, ErrUserNotFound)

		_, err = store.GetUserByID(999)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestListUsersSorted(t *testing.T) {
	withStores(t, func(t *testing.T, store Store) {
		for _, name := range []string{"charlie", "alice", "bob"} {
			_, err := store.CreateUser(name, "hash")
			require.NoError(t, err)
		}

		users, err := store.ListUsers()
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, "alice", users[0].Username)
		assert.Equal(t, "bob", users[1].Username)
		assert.Equal(t, "charlie", users[2].Username)
	})
}

func TestUpdateUserStatus(t *testing.T) {
	withStores(t, func(t *testing.T, store Store) {
		id, err := store.CreateUser("alice", "hash")
		require.NoError(t, err)

		require.NoError(t, store.UpdateUserStatus(id, UserStatusOnline))
		user, err := store.GetUserByID(id)
		require.NoError(t, err)
		assert.Equal(t, UserStatusOnline, user.Status)

		assert.ErrorIs(t, store.UpdateUserStatus(999, UserStatusOnline), ErrUserNotFound)
	})
}

func TestSetAllOffline(t *testing.T) {
	withStores(t, func(t *testing.T, store Store) {
		aliceID, err := store.CreateUser("alice", "hash")
		require.NoError(t, err)
		bobID, err := store.CreateUser("bob", "hash")
		require.NoError(t, err)

		require.NoError(t, store.UpdateUserStatus(aliceID, UserStatusOnline))
		require.NoError(t, store.UpdateUserStatus(bobID, UserStatusOnline))

		require.NoError(t, store.SetAllOffline())

		users, err := store.ListUsers()
		require.NoError(t, err)
		for _, user := range users {
			assert.Equal(t, UserStatusOffline, user.Status)
		}
	})
}

func TestSaveMessage(t *testing.T) {
	withStores(t, func(t *testing.T, store Store) {
		aliceID, err := store.CreateUser("alice", "hash")
		require.NoError(t, err)
		bobID, err := store.CreateUser("bob", "hash")
		require.NoError(t, err)

		msg, err := store.SaveMessage(aliceID, bobID, "hello bob")
		require.NoError(t, err)
		assert.NotZero(t, msg.ID)
		assert.Equal(t, "alice", msg.SenderName)
		assert.Equal(t, MessageStatusSent, msg.Status)
		assert.NotZero(t, msg.SentAt)
	})
}

func TestMessageStatusTransitions(t *testing.T) {
	withStores(t, func(t *testing.T, store Store) {
		aliceID, err := store.CreateUser("alice", "hash")
		require.NoError(t, err)
		bobID, err := store.CreateUser("bob", "hash")
		require.NoError(t, err)

		msg, err := store.SaveMessage(aliceID, bobID, "hi")
		require.NoError(t, err)

		// SENT → DELIVERED is allowed, and re-marking is a no-op.
		require.NoError(t, store.UpdateMessageStatus(msg.ID, MessageStatusDelivered))
		require.NoError(t, store.UpdateMessageStatus(msg.ID, MessageStatusDelivered))

		// DELIVERED → SENT never happens.
		assert.ErrorIs(t, store.UpdateMessageStatus(msg.ID, MessageStatusSent), ErrInvalidStatus)

		// Unknown message id.
		assert.ErrorIs(t, store.UpdateMessageStatus(99999, MessageStatusDelivered), ErrMessageNotFound)
	})
}

func TestPendingMessages(t *testing.T) {
	withStores(t, func(t *testing.T, store Store) {
		aliceID, err := store.CreateUser("alice", "hash")
		require.NoError(t, err)
		bobID, err := store.CreateUser("bob", "hash")
		require.NoError(t, err)

		first, err := store.SaveMessage(aliceID, bobID, "first")
		require.NoError(t, err)
		second, err := store.SaveMessage(aliceID, bobID, "second")
		require.NoError(t, err)
		third, err := store.SaveMessage(aliceID, bobID, "third")
		require.NoError(t, err)

		// Delivering one removes it from the pending set.
		require.NoError(t, store.UpdateMessageStatus(second.ID, MessageStatusDelivered))

		pending, err := store.PendingMessages(bobID)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, first.ID, pending[0].ID)
		assert.Equal(t, third.ID, pending[1].ID)

		// Nothing pending for the sender.
		pending, err = store.PendingMessages(aliceID)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestConversationOrderAndSymmetry(t *testing.T) {
	withStores(t, func(t *testing.T, store Store) {
		aliceID, err := store.CreateUser("alice", "hash")
		require.NoError(t, err)
		bobID, err := store.CreateUser("bob", "hash")
		require.NoError(t, err)
		charlieID, err := store.CreateUser("charlie", "hash")
		require.NoError(t, err)

		_, err = store.SaveMessage(aliceID, bobID, "one")
		require.NoError(t, err)
		_, err = store.SaveMessage(bobID, aliceID, "two")
		require.NoError(t, err)
		_, err = store.SaveMessage(aliceID, charlieID, "unrelated")
		require.NoError(t, err)
		_, err = store.SaveMessage(aliceID, bobID, "three")
		require.NoError(t, err)

		conversation, err := store.Conversation(aliceID, bobID)
		require.NoError(t, err)
		require.Len(t, conversation, 3)
		assert.Equal(t, "one", conversation[0].Content)
		assert.Equal(t, "two", conversation[1].Content)
		assert.Equal(t, "three", conversation[2].Content)

		// Same conversation regardless of argument order.
		reversed, err := store.Conversation(bobID, aliceID)
		require.NoError(t, err)
		require.Len(t, reversed, 3)
		for i := range conversation {
			assert.Equal(t, conversation[i].ID, reversed[i].ID)
		}
	})
}
