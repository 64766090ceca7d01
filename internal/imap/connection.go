package imap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/client"
)

// implicitTLSPort is the IMAPS port. Other ports start in plain text.
const implicitTLSPort = 993

const dialTimeout = 5 * time.Second

// ErrConnection marks failures to reach or authenticate against an IMAP server.
var ErrConnection = errors.New("imap connection failed")

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

// Connect dials the server and logs in. Port 993 uses implicit TLS; other ports upgrade with
// STARTTLS when the server offers it.
func Connect(e Endpoint) (*client.Client, error) {
	c, err := dial(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if err := Login(c, e.Username, e.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return c, nil
}

func dial(e Endpoint) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: dialTimeout,
	}
	tlsConfig := &tls.Config{ServerName: e.Host, MinVersion: tls.VersionTLS12}

	if e.Port == implicitTLSPort && !e.Insecure {
		c, err := client.DialWithDialerTLS(dialer, e.address(), tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, e.address())
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	if e.Insecure {
		return c, nil
	}

	ok, err := c.SupportStartTLS()
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to read capabilities: %w", err)
	}
	if ok {
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	return c, nil
}

// Login authenticates with the IMAP server.
func Login(c *client.Client, username, password string) error {
	if err := c.Login(username, password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	return nil
}
