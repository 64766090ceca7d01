// Command dev-server runs the mail engine against a throwaway Postgres container and in-memory
// IMAP and SMTP servers seeded with a small workshop scenario.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/werkbank/internal/app"
	"github.com/vdavid/werkbank/internal/config"
	"github.com/vdavid/werkbank/internal/crypto"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/logging"
	"github.com/vdavid/werkbank/internal/models"
	"github.com/vdavid/werkbank/internal/testutil"
)

const devToken = "dev-token"

func main() {
	logger := logging.NewWithWriter(os.Stderr, envOr("LOG_LEVEL", "debug"), envOr("LOG_FORMAT", "text"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("dev server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	logger.Info("starting Postgres container")
	connStr, terminate, err := testutil.StartPostgres(context.Background())
	if err != nil {
		return fmt.Errorf("failed to start Postgres: %w", err)
	}
	defer func() {
		if err := terminate(context.Background()); err != nil {
			logger.Warn("failed to terminate Postgres container", "error", err)
		}
	}()
	if err := testutil.RunMigrations(connStr); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	pool, err := db.NewPool(ctx, connStr)
	if err != nil {
		return err
	}
	defer db.CloseConnection(pool)

	imapServer, err := testutil.StartIMAPServer(envOr("DEV_IMAP_ADDR", "127.0.0.1:1143"))
	if err != nil {
		return fmt.Errorf("failed to start IMAP server: %w", err)
	}
	defer imapServer.Close()
	smtpServer, err := testutil.StartSMTPServer(envOr("DEV_SMTP_ADDR", "127.0.0.1:1025"))
	if err != nil {
		return fmt.Errorf("failed to start SMTP server: %w", err)
	}
	defer smtpServer.Close()

	cfg := &config.Config{
		Environment:         "development",
		EncryptionKeyBase64: testutil.TestEncryptionKeyBase64,
		APIToken:            devToken,
		Port:                envOr("PORT", "8080"),
		SyncInterval:        15 * time.Second,
		IMAPInsecure:        true,
		BlobBackend:         "filesystem",
		BlobFSRoot:          envOr("BLOB_FS_ROOT", "./data/dev-blobs"),
	}
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return err
	}
	if err := seed(ctx, pool, encryptor, imapServer, smtpServer); err != nil {
		return fmt.Errorf("failed to seed: %w", err)
	}

	a, err := app.New(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("dev server ready",
		"api", "http://localhost:"+cfg.Port+"/api/v1",
		"token", devToken,
		"imap", imapServer.Address,
		"smtp", smtpServer.Address,
	)
	return a.Serve(ctx, cfg.Port)
}

// seed stores one account, a customer with an open order and a few mails waiting in the INBOX.
func seed(
	ctx context.Context,
	pool *pgxpool.Pool,
	encryptor *crypto.Encryptor,
	imapServer *testutil.TestIMAPServer,
	smtpServer *testutil.TestSMTPServer,
) error {
	if err := imapServer.EnsureFolders(models.FolderSent, models.FolderTrash); err != nil {
		return err
	}

	imapPassword, err := encryptor.Encrypt(imapServer.Password())
	if err != nil {
		return err
	}
	smtpPassword, err := encryptor.Encrypt(smtpServer.Password())
	if err != nil {
		return err
	}
	account := &models.MailAccount{
		Name:                  "Werkstatt",
		Email:                 "werkstatt@example.com",
		IMAPHost:              imapServer.Host(),
		IMAPPort:              imapServer.Port(),
		IMAPUsername:          imapServer.Username(),
		EncryptedIMAPPassword: imapPassword,
		SMTPHost:              smtpServer.Host(),
		SMTPPort:              smtpServer.Port(),
		SMTPUsername:          smtpServer.Username(),
		EncryptedSMTPPassword: smtpPassword,
		IsActive:              true,
		IsDefault:             true,
	}
	if err := db.CreateAccount(ctx, pool, account); err != nil {
		return err
	}

	customer := &models.Customer{Name: "Anna Schmidt", Email: "anna@kunde.de"}
	if err := db.CreateCustomer(ctx, pool, customer); err != nil {
		return err
	}
	if err := db.CreateOrder(ctx, pool, &models.Order{
		ID:         "ORD-2025-042",
		CustomerID: customer.ID,
		OrderType:  models.OrderTypePickguard,
		Title:      "Schlagbrett Strat",
	}); err != nil {
		return err
	}

	day := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	for _, m := range seedMails {
		raw := testutil.PlainMessage(m.messageID, m.subject, m.from, account.Email, m.body, day.Add(m.offset))
		if _, err := imapServer.AppendRaw(models.FolderInbox, m.messageID, raw); err != nil {
			return err
		}
	}
	return nil
}

var seedMails = []struct {
	messageID string
	subject   string
	from      string
	body      string
	offset    time.Duration
}{
	{
		messageID: "<kontakt-1@kunde.de>",
		subject:   "Anfrage über das Kontaktformular",
		from:      "Jonas Weber <jonas@example.org>",
		body: "Name: Jonas Weber\nE-Mail: jonas@example.org\nTelefon: +49 170 1234567\n" +
			"Instrument: Gitarrenhals\nModell: Telecaster\nFarbe: Natur\nAnzahl: 1",
	},
	{
		messageID: "<frage-1@kunde.de>",
		subject:   "Frage zu [ORD-2025-042]",
		from:      "Anna Schmidt <anna@kunde.de>",
		body:      "Hallo, ist mein Schlagbrett schon fertig? Gruß Anna",
		offset:    time.Hour,
	},
	{
		messageID: "<frage-2@kunde.de>",
		subject:   "Noch etwas",
		from:      "Anna Schmidt <anna@kunde.de>",
		body:      "Die Farbe soll übrigens Mint Green sein.",
		offset:    2 * time.Hour,
	},
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
