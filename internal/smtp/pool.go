// Package smtp keeps one reusable, rate limited SMTP client per mail account.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"golang.org/x/time/rate"

	"github.com/vdavid/werkbank/internal/models"
)

const (
	implicitTLSPort = 465
	startTLSPort    = 587
)

// ErrConnection marks failures to reach or authenticate against an SMTP server.
var ErrConnection = errors.New("smtp connection failed")

// PasswordDecrypter turns a stored password back into plain text.
type PasswordDecrypter interface {
	Decrypt(ciphertext []byte) (string, error)
}

// Endpoint describes where and how to connect.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
	// Insecure skips TLS entirely. Only meant for local test servers.
	Insecure bool
}

func (e Endpoint) address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Pool caches one Sender per account.
type Pool struct {
	senders   map[string]*Sender // accountID -> sender
	mu        sync.Mutex
	decrypter PasswordDecrypter
	insecure  bool
	sendRate  rate.Limit
	logger    *slog.Logger
}

// NewPool creates a pool whose senders send at most sendRPS messages per second per account.
// A non-positive rate disables throttling.
func NewPool(decrypter PasswordDecrypter, insecure bool, sendRPS float64, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if sendRPS > 0 {
		limit = rate.Limit(sendRPS)
	}
	return &Pool{
		senders:   make(map[string]*Sender),
		decrypter: decrypter,
		insecure:  insecure,
		sendRate:  limit,
		logger:    logger,
	}
}

// Sender returns the cached sender of the account, creating it on first use. Connections are
// opened lazily by Send.
func (p *Pool) Sender(_ context.Context, account *models.MailAccount) (*Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.senders[account.ID]; ok {
		return s, nil
	}

	password, err := p.decrypter.Decrypt(account.EncryptedSMTPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	s := &Sender{
		accountID: account.ID,
		endpoint: Endpoint{
			Host:     account.SMTPHost,
			Port:     account.SMTPPort,
			Username: account.SMTPUsername,
			Password: password,
			Insecure: p.insecure,
		},
		limiter: rate.NewLimiter(p.sendRate, 1),
		logger:  p.logger,
	}
	p.senders[account.ID] = s
	return s, nil
}

// Evict closes and forgets the sender of an account, for example after its credentials changed.
func (p *Pool) Evict(accountID string) {
	p.mu.Lock()
	s, ok := p.senders[accountID]
	delete(p.senders, accountID)
	p.mu.Unlock()

	if ok {
		s.close()
	}
}

// Close quits every open connection.
func (p *Pool) Close() {
	p.mu.Lock()
	senders := p.senders
	p.senders = make(map[string]*Sender)
	p.mu.Unlock()

	for _, s := range senders {
		s.close()
	}
}

// Sender sends mail through one account's SMTP server.
type Sender struct {
	accountID string
	endpoint  Endpoint
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu     sync.Mutex
	client *gosmtp.Client
}

// Send delivers msg to the recipients. It waits for the account's rate limit, reuses the open
// connection when it still answers NOOP and redials otherwise.
func (s *Sender) Send(ctx context.Context, from string, to []string, msg []byte) error {
	if len(to) == 0 {
		return errors.New("no recipients")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		if err := s.client.Noop(); err != nil {
			s.logger.Debug("redialing stale SMTP connection", "account_id", s.accountID, "error", err)
			s.closeLocked()
		}
	}
	if s.client == nil {
		c, err := Connect(s.endpoint)
		if err != nil {
			return err
		}
		s.client = c
	}

	if err := s.client.SendMail(from, to, bytes.NewReader(msg)); err != nil {
		s.closeLocked()
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

func (s *Sender) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Sender) closeLocked() {
	if s.client == nil {
		return
	}
	if err := s.client.Quit(); err != nil {
		_ = s.client.Close()
	}
	s.client = nil
}

// Connect dials and authenticates. Port 465 uses implicit TLS, 587 requires STARTTLS and
// other ports upgrade when the server offers it.
func Connect(e Endpoint) (*gosmtp.Client, error) {
	c, err := dial(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if e.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(sasl.NewPlainClient("", e.Username, e.Password)); err != nil {
				_ = c.Close()
				return nil, fmt.Errorf("%w: failed to authenticate: %w", ErrConnection, err)
			}
		}
	}
	return c, nil
}

func dial(e Endpoint) (*gosmtp.Client, error) {
	tlsConfig := &tls.Config{ServerName: e.Host, MinVersion: tls.VersionTLS12}

	switch {
	case e.Insecure:
		return gosmtp.Dial(e.address())
	case e.Port == implicitTLSPort:
		return gosmtp.DialTLS(e.address(), tlsConfig)
	case e.Port == startTLSPort:
		return gosmtp.DialStartTLS(e.address(), tlsConfig)
	}

	// go-smtp only upgrades while connecting, so a plain client that sees STARTTLS is
	// replaced by a fresh one that negotiates it.
	c, err := gosmtp.Dial(e.address())
	if err != nil {
		return nil, err
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return c, nil
	}
	_ = c.Quit()

	c, err = gosmtp.DialStartTLS(e.address(), tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to start TLS: %w", err)
	}
	return c, nil
}
