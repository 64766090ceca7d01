package testutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-memory IMAP server listening on a random local port.
// The memory backend has a single user "username" / "password" whose INBOX
// starts with one sample message. Mailboxes support MOVE unless RejectMove is set.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	username string
	password string
	moves    *moveBackend
}

// StartIMAPServer starts an in-memory IMAP server outside of a test.
func StartIMAPServer(addr string) (*TestIMAPServer, error) {
	be := memory.New()
	moves := &moveBackend{Backend: be}

	s := server.New(moves)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	return &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		username: "username",
		password: "password",
		moves:    moves,
	}, nil
}

// RejectMove makes UID MOVE answer NO, like servers that advertise MOVE for some
// folders only.
func (s *TestIMAPServer) RejectMove(reject bool) {
	s.moves.reject.Store(reject)
}

// moveBackend adds RFC 6851 MOVE to the memory backend, which only advertises it.
type moveBackend struct {
	*memory.Backend
	reject atomic.Bool
	mu     sync.Mutex
}

func (b *moveBackend) Login(connInfo *imap.ConnInfo, username, password string) (backend.User, error) {
	user, err := b.Backend.Login(connInfo, username, password)
	if err != nil {
		return nil, err
	}
	return &moveUser{User: user, backend: b}, nil
}

type moveUser struct {
	backend.User
	backend *moveBackend
}

func (u *moveUser) GetMailbox(name string) (backend.Mailbox, error) {
	mailbox, err := u.User.GetMailbox(name)
	if err != nil {
		return nil, err
	}
	if m, ok := mailbox.(*memory.Mailbox); ok {
		return &moveMailbox{Mailbox: m, backend: u.backend}, nil
	}
	return mailbox, nil
}

type moveMailbox struct {
	*memory.Mailbox
	backend *moveBackend
}

func (m *moveMailbox) MoveMessages(uid bool, seqSet *imap.SeqSet, dest string) error {
	if m.backend.reject.Load() {
		return errors.New("MOVE not permitted for this mailbox")
	}

	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()

	if err := m.CopyMessages(uid, seqSet, dest); err != nil {
		return err
	}
	kept := m.Messages[:0]
	for i, msg := range m.Messages {
		id := uint32(i + 1)
		if uid {
			id = msg.Uid
		}
		if !seqSet.Contains(id) {
			kept = append(kept, msg)
		}
	}
	m.Messages = kept
	return nil
}

// NewTestIMAPServer starts an in-memory IMAP server that is closed when the test ends.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	s, err := StartIMAPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start IMAP server: %v", err)
	}
	t.Cleanup(s.Close)

	// Give server time to start
	time.Sleep(50 * time.Millisecond)

	return s
}

// Close shuts down the server.
func (s *TestIMAPServer) Close() {
	_ = s.Server.Close()
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Host returns the host part of the listen address.
func (s *TestIMAPServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Address)
	return host
}

// Port returns the port part of the listen address.
func (s *TestIMAPServer) Port() int {
	_, port, _ := net.SplitHostPort(s.Address)
	n, _ := strconv.Atoi(port)
	return n
}

// Dial opens an authenticated client connection.
func (s *TestIMAPServer) Dial() (*imapclient.Client, error) {
	c, err := imapclient.Dial(s.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test server: %w", err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	return c, nil
}

// Connect creates a new IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	c, err := s.Dial()
	if err != nil {
		t.Fatalf("%v", err)
	}

	return c, func() {
		_ = c.Logout()
	}
}

// EnsureFolders creates the given folders if they are missing.
func (s *TestIMAPServer) EnsureFolders(names ...string) error {
	c, err := s.Dial()
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Logout()
	}()

	for _, name := range names {
		if _, err := c.Select(name, true); err == nil {
			continue
		}
		if err := c.Create(name); err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create folder %s: %w", name, err)
		}
	}
	return nil
}

// EnsureWorkshopFolders creates Sent and Trash next to the INBOX.
func (s *TestIMAPServer) EnsureWorkshopFolders(t *testing.T) {
	t.Helper()

	if err := s.EnsureFolders("Sent", "Trash"); err != nil {
		t.Fatalf("%v", err)
	}
}

// ClearFolder permanently removes every message of a folder.
func (s *TestIMAPServer) ClearFolder(t *testing.T, folder string) {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	status, err := c.Select(folder, false)
	if err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}
	if status.Messages == 0 {
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, status.Messages)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		t.Fatalf("Failed to flag messages: %v", err)
	}
	if err := c.Expunge(nil); err != nil {
		t.Fatalf("Failed to expunge: %v", err)
	}
}

// AppendRaw appends a raw RFC 5322 message and returns its UID.
// The message must carry a Message-ID header so it can be found again.
func (s *TestIMAPServer) AppendRaw(folder, messageID, raw string) (uint32, error) {
	c, err := s.Dial()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = c.Logout()
	}()

	if err := c.Append(folder, nil, time.Now(), strings.NewReader(raw)); err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := c.Select(folder, false); err != nil {
		return 0, fmt.Errorf("failed to select folder: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search for message: %w", err)
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("message %s not found after append", messageID)
	}
	return uids[len(uids)-1], nil
}

// AddRawMessage appends a raw message and fails the test on error.
func (s *TestIMAPServer) AddRawMessage(t *testing.T, folder, messageID, raw string) uint32 {
	t.Helper()

	uid, err := s.AppendRaw(folder, messageID, raw)
	if err != nil {
		t.Fatalf("%v", err)
	}
	return uid
}

// AddMessage appends a simple plain text message and returns its UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, folder, messageID, subject, from, to, body string, sentAt time.Time) uint32 {
	t.Helper()

	return s.AddRawMessage(t, folder, messageID, PlainMessage(messageID, subject, from, to, body, sentAt))
}

// PlainMessage renders a minimal text/plain message.
func PlainMessage(messageID, subject, from, to, body string, sentAt time.Time) string {
	return strings.ReplaceAll(fmt.Sprintf(`Message-ID: %s
Date: %s
From: %s
To: %s
Subject: %s
Content-Type: text/plain; charset=utf-8

%s
`, messageID, sentAt.Format(time.RFC1123Z), from, to, subject, body), "\n", "\r\n")
}

// MessageIDs returns the Message-ID header of every message in a folder.
func (s *TestIMAPServer) MessageIDs(t *testing.T, folder string) []string {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	status, err := c.Select(folder, true)
	if err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}
	if status.Messages == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, status.Messages)
	messages := make(chan *imap.Message, status.Messages)
	if err := c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope}, messages); err != nil {
		t.Fatalf("Failed to fetch envelopes: %v", err)
	}

	var ids []string
	for msg := range messages {
		if msg.Envelope != nil {
			ids = append(ids, msg.Envelope.MessageId)
		}
	}
	return ids
}

// Flags returns the flags of the message with the given Message-ID.
func (s *TestIMAPServer) Flags(t *testing.T, folder, messageID string) []string {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Select(folder, true); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := c.UidSearch(criteria)
	if err != nil || len(uids) == 0 {
		t.Fatalf("Message %s not found in %s: %v", messageID, folder, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids[0])
	messages := make(chan *imap.Message, 1)
	if err := c.UidFetch(seqSet, []imap.FetchItem{imap.FetchFlags}, messages); err != nil {
		t.Fatalf("Failed to fetch flags: %v", err)
	}
	msg := <-messages
	if msg == nil {
		t.Fatalf("No flags returned for %s", messageID)
	}
	return msg.Flags
}
