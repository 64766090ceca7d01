package imap

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Session is one authenticated connection to an account's server. All commands run under the
// session lock; WithMailbox is the only way to select a folder.
type Session struct {
	accountID string
	client    *client.Client
	// lock is a one-slot semaphore so waiting can be canceled through a context.
	lock     chan struct{}
	mu       sync.Mutex // guards lastUsed
	lastUsed time.Time
}

func newSession(accountID string, c *client.Client) *Session {
	return &Session{
		accountID: accountID,
		client:    c,
		lock:      make(chan struct{}, 1),
		lastUsed:  time.Now(),
	}
}

// AccountID returns the account the session belongs to.
func (s *Session) AccountID() string {
	return s.accountID
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
	<-s.lock
}

// idleSince returns how long the session has been unused. Busy sessions report zero.
func (s *Session) idleSince(now time.Time) time.Duration {
	select {
	case s.lock <- struct{}{}:
		defer func() { <-s.lock }()
	default:
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsed)
}

// healthy checks the connection state and sends a NOOP when the session was idle for a while.
func (s *Session) healthy(ctx context.Context) (bool, error) {
	if err := s.acquire(ctx); err != nil {
		return false, err
	}
	defer s.release()

	if !isUsableState(s.client.State()) {
		return false, nil
	}

	s.mu.Lock()
	idle := time.Since(s.lastUsed)
	s.mu.Unlock()
	if idle > healthCheckThreshold {
		if err := s.client.Noop(); err != nil {
			return false, nil
		}
	}
	return true, nil
}

// run executes fn with exclusive use of the connection.
func (s *Session) run(ctx context.Context, fn func(c *client.Client) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return fn(s.client)
}

// WithMailbox selects folder and runs fn while holding the session lock, so no other command
// can change the selected mailbox meanwhile.
func (s *Session) WithMailbox(ctx context.Context, folder string, fn func(m *Mailbox) error) error {
	return s.run(ctx, func(c *client.Client) error {
		status, err := c.Select(folder, false)
		if err != nil {
			return fmt.Errorf("failed to select folder %s: %w", folder, err)
		}
		return fn(&Mailbox{client: c, name: folder, status: status, ctx: ctx})
	})
}

// Append stores a raw message in folder.
func (s *Session) Append(ctx context.Context, folder string, flags []string, date time.Time, raw []byte) error {
	return s.run(ctx, func(c *client.Client) error {
		if err := c.Append(folder, flags, date, bytes.NewBuffer(raw)); err != nil {
			return fmt.Errorf("failed to append to %s: %w", folder, err)
		}
		return nil
	})
}

// ListFolders lists all folders on the server.
func (s *Session) ListFolders(ctx context.Context) ([]string, error) {
	var folders []string
	err := s.run(ctx, func(c *client.Client) error {
		mailboxes := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)

		go func() {
			done <- c.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			folders = append(folders, m.Name)
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to list folders: %w", err)
		}
		return nil
	})
	return folders, err
}

// EnsureFolders creates the folders that do not exist yet and returns the ones it created.
func (s *Session) EnsureFolders(ctx context.Context, names ...string) ([]string, error) {
	existing, err := s.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, name := range existing {
		known[strings.ToLower(name)] = true
	}

	var created []string
	err = s.run(ctx, func(c *client.Client) error {
		for _, name := range names {
			if known[strings.ToLower(name)] {
				continue
			}
			if err := c.Create(name); err != nil {
				return fmt.Errorf("failed to create folder %s: %w", name, err)
			}
			known[strings.ToLower(name)] = true
			created = append(created, name)
		}
		return nil
	})
	return created, err
}

func (s *Session) logout() error {
	s.lock <- struct{}{}
	defer func() { <-s.lock }()
	return s.client.Logout()
}

func (s *Session) close() {
	_ = s.logout()
}
