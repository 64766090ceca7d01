package imap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/vdavid/werkbank/internal/models"
)

const (
	// sessionIdleTimeout is the maximum time a session can be idle before being logged out.
	sessionIdleTimeout = 10 * time.Minute
	// healthCheckThreshold is the idle time after which we perform a health check before reuse.
	healthCheckThreshold = 1 * time.Minute
	cleanupInterval      = 1 * time.Minute
)

// PasswordDecrypter turns a stored password back into plain text.
type PasswordDecrypter interface {
	Decrypt(ciphertext []byte) (string, error)
}

// Pool caches one authenticated session per mail account.
//
// Thread safety: the pool map is guarded by mu; every command on a session runs under the
// session's own lock, so two callers never interleave commands on one connection.
type Pool struct {
	sessions      map[string]*Session // accountID -> session
	mu            sync.Mutex
	decrypter     PasswordDecrypter
	insecure      bool
	logger        *slog.Logger
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
}

// NewPool creates a pool and starts its idle cleanup goroutine. Call Close to stop it.
func NewPool(decrypter PasswordDecrypter, insecure bool, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		sessions:      make(map[string]*Session),
		decrypter:     decrypter,
		insecure:      insecure,
		logger:        logger,
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
	p.startCleanupGoroutine()
	return p
}

// Session returns a usable session for the account, replacing a cached one that is logged
// out or fails its health check.
func (p *Pool) Session(ctx context.Context, account *models.MailAccount) (*Session, error) {
	p.mu.Lock()
	s, ok := p.sessions[account.ID]
	p.mu.Unlock()

	if ok {
		healthy, err := s.healthy(ctx)
		if err != nil {
			return nil, err
		}
		if healthy {
			return s, nil
		}
		p.logger.Info("replacing stale IMAP session", "account_id", account.ID)
		p.evictSession(account.ID, s)
	}

	password, err := p.decrypter.Decrypt(account.EncryptedIMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	c, err := Connect(Endpoint{
		Host:     account.IMAPHost,
		Port:     account.IMAPPort,
		Username: account.IMAPUsername,
		Password: password,
		Insecure: p.insecure,
	})
	if err != nil {
		return nil, err
	}

	fresh := newSession(account.ID, c)

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another caller may have connected while we dialed. Keep theirs.
	if existing, ok := p.sessions[account.ID]; ok {
		_ = c.Logout()
		return existing, nil
	}
	p.sessions[account.ID] = fresh
	return fresh, nil
}

// Evict drops and logs out the cached session of an account, typically after a connection error.
func (p *Pool) Evict(accountID string) {
	p.mu.Lock()
	s, ok := p.sessions[accountID]
	p.mu.Unlock()
	if ok {
		p.evictSession(accountID, s)
	}
}

func (p *Pool) evictSession(accountID string, s *Session) {
	p.mu.Lock()
	if p.sessions[accountID] == s {
		delete(p.sessions, accountID)
	}
	p.mu.Unlock()
	s.close()
}

// Close logs out every session and stops the cleanup goroutine.
func (p *Pool) Close() {
	p.cleanupCancel()

	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	for accountID, s := range sessions {
		if err := s.logout(); err != nil {
			p.logger.Warn("failed to log out IMAP session", "account_id", accountID, "error", err)
		}
	}
}

// startCleanupGoroutine runs a background goroutine that periodically logs out idle sessions.
// The goroutine will stop when cleanupCtx is canceled (via Pool.Close()).
func (p *Pool) startCleanupGoroutine() {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.cleanupCtx.Done():
				return
			case <-ticker.C:
				p.cleanupIdleSessions(time.Now())
			}
		}
	}()
}

// cleanupIdleSessions evicts sessions unused for longer than sessionIdleTimeout.
// Sessions that are busy are skipped.
func (p *Pool) cleanupIdleSessions(now time.Time) {
	p.mu.Lock()
	var idle []*Session
	for accountID, s := range p.sessions {
		if s.idleSince(now) > sessionIdleTimeout {
			idle = append(idle, s)
			delete(p.sessions, accountID)
		}
	}
	p.mu.Unlock()

	for _, s := range idle {
		p.logger.Debug("closing idle IMAP session", "account_id", s.accountID)
		s.close()
	}
}

// isUsableState reports whether the client can run mailbox commands.
func isUsableState(state imap.ConnState) bool {
	return state == imap.AuthenticatedState || state == imap.SelectedState
}
