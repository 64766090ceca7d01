package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/werkbank/internal/app"
	"github.com/vdavid/werkbank/internal/config"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/testutil"
)

func TestSeed(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestDB(t)
	imapServer := testutil.NewTestIMAPServer(t)
	smtpServer := testutil.NewTestSMTPServer(t)

	require.NoError(t, seed(ctx, pool, testutil.GetTestEncryptor(t), imapServer, smtpServer))

	a, err := app.New(ctx, &config.Config{
		EncryptionKeyBase64: testutil.TestEncryptionKeyBase64,
		APIToken:            devToken,
		IMAPInsecure:        true,
		BlobFSRoot:          t.TempDir(),
	}, pool, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Synchronizer.SyncAll(ctx)
	require.NoError(t, err)

	tests := []struct {
		messageID string
		orderID   string
	}{
		{"frage-1@kunde.de", "ORD-2025-042"},
		{"frage-2@kunde.de", "ORD-2025-042"},
		{"kontakt-1@kunde.de", ""},
	}
	for _, tt := range tests {
		t.Run(tt.messageID, func(t *testing.T) {
			m, err := db.GetMailByMessageID(ctx, pool, tt.messageID)
			require.NoError(t, err)
			if tt.orderID == "" {
				assert.Nil(t, m.OrderID)
				return
			}
			require.NotNil(t, m.OrderID)
			assert.Equal(t, tt.orderID, *m.OrderID)
		})
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("DEV_SERVER_TEST_VALUE", "set")

	assert.Equal(t, "set", envOr("DEV_SERVER_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", envOr("DEV_SERVER_TEST_MISSING", "fallback"))
}
