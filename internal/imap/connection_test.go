package imap

import (
	"errors"
	"net"
	"testing"

	"github.com/vdavid/werkbank/internal/testutil"
)

func TestConnect(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)

	t.Run("logs in without TLS when insecure", func(t *testing.T) {
		c, err := Connect(Endpoint{
			Host:     server.Host(),
			Port:     server.Port(),
			Username: server.Username(),
			Password: server.Password(),
			Insecure: true,
		})
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		defer func() {
			_ = c.Logout()
		}()

		if !isUsableState(c.State()) {
			t.Errorf("Expected authenticated state, got %v", c.State())
		}
	})

	t.Run("wraps dial failures", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Failed to listen: %v", err)
		}
		port := listener.Addr().(*net.TCPAddr).Port
		_ = listener.Close()

		_, err = Connect(Endpoint{Host: "127.0.0.1", Port: port, Insecure: true})
		if !errors.Is(err, ErrConnection) {
			t.Errorf("Expected ErrConnection, got %v", err)
		}
	})
}

func TestEndpointAddress(t *testing.T) {
	e := Endpoint{Host: "imap.example.com", Port: 993}
	if got := e.address(); got != "imap.example.com:993" {
		t.Errorf("Expected imap.example.com:993, got %s", got)
	}
}
