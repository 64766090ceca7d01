package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/werkbank/internal/config"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/mailsync"
	"github.com/vdavid/werkbank/internal/models"
	"github.com/vdavid/werkbank/internal/testutil"
)

func TestApp(t *testing.T) {
	ctx := context.Background()

	pool := testutil.NewTestDB(t)
	imapServer := testutil.NewTestIMAPServer(t)
	imapServer.EnsureWorkshopFolders(t)
	imapServer.ClearFolder(t, models.FolderInbox)
	smtpServer := testutil.NewTestSMTPServer(t)
	require.NoError(t, db.CreateAccount(ctx, pool, testutil.TestAccount(t, imapServer, smtpServer)))

	cfg := &config.Config{
		EncryptionKeyBase64: testutil.TestEncryptionKeyBase64,
		APIToken:            "secret",
		IMAPInsecure:        true,
		BlobBackend:         "filesystem",
		BlobFSRoot:          t.TempDir(),
	}
	a, err := New(ctx, cfg, pool, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	imapServer.AddMessage(t, models.FolderInbox, "<hello@kunde.de>", "Neuer Hals",
		"Jonas <jonas@kunde.de>", "werkstatt@example.com", "Ich brauche einen neuen Hals.",
		time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC))

	t.Run("serves health checks without a token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		a.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("syncs through the API", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rr := httptest.NewRecorder()
		a.Handler.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var report mailsync.Report
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))

		ingested := 0
		for _, f := range report.Folders {
			ingested += f.Ingested
		}
		assert.Equal(t, 1, ingested)

		m, err := db.GetMailByMessageID(ctx, pool, "hello@kunde.de")
		require.NoError(t, err)
		assert.Equal(t, "Neuer Hals", m.Subject)
	})

	t.Run("serves until the context is canceled", func(t *testing.T) {
		port := freePort(t)
		runCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- a.Serve(runCtx, port)
		}()

		require.Eventually(t, func() bool {
			res, err := http.Get("http://127.0.0.1:" + port + "/healthz")
			if err != nil {
				return false
			}
			_ = res.Body.Close()
			return res.StatusCode == http.StatusOK
		}, 5*time.Second, 20*time.Millisecond)

		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(shutdownTimeout + 5*time.Second):
			t.Fatal("Serve did not return after cancel")
		}
	})

	t.Run("reports listen errors", func(t *testing.T) {
		l, err := net.Listen("tcp", ":0")
		require.NoError(t, err)
		defer func() {
			_ = l.Close()
		}()
		_, port, err := net.SplitHostPort(l.Addr().String())
		require.NoError(t, err)

		assert.Error(t, a.Serve(ctx, port))
	})
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	return port
}

func TestNewHTTPServer(t *testing.T) {
	srv := NewHTTPServer("9999", http.NotFoundHandler())

	assert.Equal(t, ":9999", srv.Addr)
	assert.NotZero(t, srv.ReadHeaderTimeout)
}

func TestNew_RejectsUnknownBlobBackend(t *testing.T) {
	cfg := &config.Config{
		EncryptionKeyBase64: testutil.TestEncryptionKeyBase64,
		BlobBackend:         "floppy",
	}
	_, err := New(context.Background(), cfg, nil, nil)
	assert.ErrorContains(t, err, "unsupported blob backend")
}
