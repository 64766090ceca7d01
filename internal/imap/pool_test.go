package imap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/werkbank/internal/models"
	"github.com/vdavid/werkbank/internal/testutil"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pool := NewPool(testutil.GetTestEncryptor(t), true, nil)
	t.Cleanup(pool.Close)
	return pool
}

func newTestAccount(t *testing.T, server *testutil.TestIMAPServer) *models.MailAccount {
	t.Helper()
	account := testutil.TestAccount(t, server, nil)
	account.ID = "account-1"
	return account
}

func TestPool_Session(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	ctx := context.Background()

	t.Run("caches one session per account", func(t *testing.T) {
		pool := newTestPool(t)
		account := newTestAccount(t, server)

		first, err := pool.Session(ctx, account)
		require.NoError(t, err)
		second, err := pool.Session(ctx, account)
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, "account-1", first.AccountID())
	})

	t.Run("concurrent callers share the session", func(t *testing.T) {
		pool := newTestPool(t)
		account := newTestAccount(t, server)

		const numGoroutines = 5
		sessions := make([]*Session, numGoroutines)
		var wg sync.WaitGroup
		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, err := pool.Session(ctx, account)
				if err != nil {
					t.Errorf("Session failed: %v", err)
					return
				}
				sessions[i] = s
			}(i)
		}
		wg.Wait()

		final, err := pool.Session(ctx, account)
		require.NoError(t, err)
		for _, s := range sessions {
			assert.Same(t, final, s)
		}
	})

	t.Run("replaces a logged out session", func(t *testing.T) {
		pool := newTestPool(t)
		account := newTestAccount(t, server)

		first, err := pool.Session(ctx, account)
		require.NoError(t, err)
		require.NoError(t, first.client.Logout())

		second, err := pool.Session(ctx, account)
		require.NoError(t, err)
		assert.NotSame(t, first, second)
	})

	t.Run("evict drops the session", func(t *testing.T) {
		pool := newTestPool(t)
		account := newTestAccount(t, server)

		first, err := pool.Session(ctx, account)
		require.NoError(t, err)
		pool.Evict(account.ID)

		second, err := pool.Session(ctx, account)
		require.NoError(t, err)
		assert.NotSame(t, first, second)
	})

	t.Run("wrong password is a connection error", func(t *testing.T) {
		pool := newTestPool(t)
		account := newTestAccount(t, server)
		account.EncryptedIMAPPassword = testutil.EncryptForTest(t, "wrong")

		_, err := pool.Session(ctx, account)
		assert.True(t, errors.Is(err, ErrConnection), "expected ErrConnection, got %v", err)
	})

	t.Run("cleanup logs out idle sessions", func(t *testing.T) {
		pool := newTestPool(t)
		account := newTestAccount(t, server)

		first, err := pool.Session(ctx, account)
		require.NoError(t, err)

		pool.cleanupIdleSessions(time.Now().Add(sessionIdleTimeout + time.Minute))

		pool.mu.Lock()
		_, cached := pool.sessions[account.ID]
		pool.mu.Unlock()
		assert.False(t, cached)

		second, err := pool.Session(ctx, account)
		require.NoError(t, err)
		assert.NotSame(t, first, second)
	})
}

func TestMailbox(t *testing.T) {
	ctx := context.Background()
	server := testutil.NewTestIMAPServer(t)
	server.EnsureWorkshopFolders(t)
	server.ClearFolder(t, "INBOX")

	sentAt := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	uid1 := server.AddMessage(t, "INBOX", "<m1@example.com>", "Hals", "anna@example.com", "werkstatt@example.com", "Hallo", sentAt)
	uid2 := server.AddMessage(t, "INBOX", "<m2@example.com>", "Korpus", "ben@example.com", "werkstatt@example.com", "Moin", sentAt)

	pool := newTestPool(t)
	session, err := pool.Session(ctx, newTestAccount(t, server))
	require.NoError(t, err)

	fetchSince := func(lastUID uint32) []FetchedMessage {
		var fetched []FetchedMessage
		err := session.WithMailbox(ctx, "INBOX", func(m *Mailbox) error {
			return m.FetchSince(lastUID, func(msg FetchedMessage) error {
				fetched = append(fetched, msg)
				return nil
			})
		})
		require.NoError(t, err)
		return fetched
	}

	t.Run("streams messages above the cursor", func(t *testing.T) {
		fetched := fetchSince(0)

		require.Len(t, fetched, 2)
		assert.Equal(t, uid1, fetched[0].UID)
		assert.Equal(t, uid2, fetched[1].UID)
		assert.Contains(t, string(fetched[0].Raw), "Subject: Hals")
		assert.Equal(t, "<m1@example.com>", fetched[0].Envelope.MessageId)
		assert.False(t, fetched[0].Seen(), "fetching must not mark messages as seen")

		assert.Len(t, fetchSince(uid1), 1)
	})

	t.Run("returns nothing past the last UID", func(t *testing.T) {
		assert.Empty(t, fetchSince(uid2))
	})

	t.Run("stops handling after an error", func(t *testing.T) {
		calls := 0
		err := session.WithMailbox(ctx, "INBOX", func(m *Mailbox) error {
			return m.FetchSince(0, func(FetchedMessage) error {
				calls++
				return errors.New("boom")
			})
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("appends to a folder", func(t *testing.T) {
		raw := testutil.PlainMessage("<sent-1@example.com>", "Re: Hals", "werkstatt@example.com", "anna@example.com", "Gerne", sentAt)
		require.NoError(t, session.Append(ctx, "Sent", []string{`\Seen`}, sentAt, []byte(raw)))

		assert.Contains(t, server.MessageIDs(t, "Sent"), "<sent-1@example.com>")
	})

	t.Run("moves a message", func(t *testing.T) {
		err := session.WithMailbox(ctx, "INBOX", func(m *Mailbox) error {
			return m.Move(uid1, "Trash")
		})
		require.NoError(t, err)

		assert.Contains(t, server.MessageIDs(t, "Trash"), "<m1@example.com>")
		assert.NotContains(t, server.MessageIDs(t, "INBOX"), "<m1@example.com>")
	})

	t.Run("copies when the server rejects MOVE", func(t *testing.T) {
		server.RejectMove(true)
		defer server.RejectMove(false)

		uid3 := server.AddMessage(t, "INBOX", "<m3@example.com>", "Gravur", "carla@example.com", "werkstatt@example.com", "Servus", sentAt)

		// Another client marked m2 for deletion without expunging yet.
		c, cleanup := server.Connect(t)
		_, err := c.Select("INBOX", false)
		require.NoError(t, err)
		deleted := new(imap.SeqSet)
		deleted.AddNum(uid2)
		require.NoError(t, c.UidStore(deleted, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil))
		cleanup()

		err = session.WithMailbox(ctx, "INBOX", func(m *Mailbox) error {
			return m.Move(uid3, "Trash")
		})
		require.NoError(t, err)

		assert.Contains(t, server.MessageIDs(t, "Trash"), "<m3@example.com>")
		inbox := server.MessageIDs(t, "INBOX")
		assert.NotContains(t, inbox, "<m3@example.com>")
		assert.Contains(t, inbox, "<m2@example.com>", "only the moved message may be expunged")
		assert.Contains(t, server.Flags(t, "INBOX", "<m2@example.com>"), imap.DeletedFlag)
	})

	t.Run("selecting a missing folder fails", func(t *testing.T) {
		err := session.WithMailbox(ctx, "Nope", func(*Mailbox) error { return nil })
		assert.Error(t, err)
	})

	t.Run("ensures folders", func(t *testing.T) {
		created, err := session.EnsureFolders(ctx, "Sent", "Archiv")
		require.NoError(t, err)
		assert.Equal(t, []string{"Archiv"}, created)

		folders, err := session.ListFolders(ctx)
		require.NoError(t, err)
		assert.Contains(t, folders, "Archiv")
	})
}

func TestSession_WithMailboxHonorsContext(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	pool := newTestPool(t)
	session, err := pool.Session(context.Background(), newTestAccount(t, server))
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = session.WithMailbox(context.Background(), "INBOX", func(*Mailbox) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = session.WithMailbox(ctx, "INBOX", func(*Mailbox) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
