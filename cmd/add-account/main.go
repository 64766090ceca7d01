// Command add-account checks IMAP and SMTP credentials and stores a mail account.
//
// Passwords are read from IMAP_PASSWORD and SMTP_PASSWORD so they stay out of the shell history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/werkbank/internal/config"
	"github.com/vdavid/werkbank/internal/crypto"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/imap"
	"github.com/vdavid/werkbank/internal/logging"
	"github.com/vdavid/werkbank/internal/models"
	"github.com/vdavid/werkbank/internal/smtp"
)

const probeTimeout = 30 * time.Second

type options struct {
	name         string
	email        string
	imapHost     string
	imapPort     int
	imapUser     string
	imapPassword string
	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
	sentFolder   string
	trashFolder  string
	isDefault    bool
	skipProbe    bool
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg)

	opts, err := parseOptions(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logger.Error("invalid arguments", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.CloseConnection(pool)

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		os.Exit(1)
	}

	account, err := addAccount(ctx, pool, encryptor, opts, cfg.IMAPInsecure, logger)
	if err != nil {
		logger.Error("failed to add account", "error", err)
		os.Exit(1)
	}
	fmt.Println(account.ID)
}

func parseOptions(args []string, getenv func(string) string, output io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("add-account", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&o.name, "name", "", "display name of the account")
	fs.StringVar(&o.email, "email", "", "address the account sends from")
	fs.StringVar(&o.imapHost, "imap-host", "", "IMAP server host")
	fs.IntVar(&o.imapPort, "imap-port", 993, "IMAP server port")
	fs.StringVar(&o.imapUser, "imap-user", "", "IMAP username, defaults to -email")
	fs.StringVar(&o.smtpHost, "smtp-host", "", "SMTP server host, defaults to -imap-host")
	fs.IntVar(&o.smtpPort, "smtp-port", 587, "SMTP server port")
	fs.StringVar(&o.smtpUser, "smtp-user", "", "SMTP username, defaults to -imap-user")
	fs.StringVar(&o.sentFolder, "sent", models.FolderSent, "sent folder name")
	fs.StringVar(&o.trashFolder, "trash", models.FolderTrash, "trash folder name")
	fs.BoolVar(&o.isDefault, "default", false, "use this account for new conversations")
	fs.BoolVar(&o.skipProbe, "skip-probe", false, "store the account without connecting first")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.imapUser == "" {
		o.imapUser = o.email
	}
	if o.smtpHost == "" {
		o.smtpHost = o.imapHost
	}
	if o.smtpUser == "" {
		o.smtpUser = o.imapUser
	}
	o.imapPassword = getenv("IMAP_PASSWORD")
	o.smtpPassword = getenv("SMTP_PASSWORD")
	if o.smtpPassword == "" {
		o.smtpPassword = o.imapPassword
	}

	switch {
	case o.email == "":
		return o, errors.New("-email is required")
	case o.imapHost == "":
		return o, errors.New("-imap-host is required")
	case o.imapPassword == "":
		return o, errors.New("IMAP_PASSWORD is required")
	}
	if o.name == "" {
		o.name = o.email
	}
	return o, nil
}

// addAccount probes both servers, creates missing Sent and Trash folders and stores the account.
func addAccount(
	ctx context.Context,
	pool *pgxpool.Pool,
	encryptor *crypto.Encryptor,
	o options,
	insecure bool,
	logger *slog.Logger,
) (*models.MailAccount, error) {
	imapPassword, err := encryptor.Encrypt(o.imapPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt IMAP password: %w", err)
	}
	smtpPassword, err := encryptor.Encrypt(o.smtpPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt SMTP password: %w", err)
	}

	account := &models.MailAccount{
		Name:                  o.name,
		Email:                 o.email,
		IMAPHost:              o.imapHost,
		IMAPPort:              o.imapPort,
		IMAPUsername:          o.imapUser,
		EncryptedIMAPPassword: imapPassword,
		SMTPHost:              o.smtpHost,
		SMTPPort:              o.smtpPort,
		SMTPUsername:          o.smtpUser,
		EncryptedSMTPPassword: smtpPassword,
		SentFolder:            o.sentFolder,
		TrashFolder:           o.trashFolder,
		IsActive:              true,
		IsDefault:             o.isDefault,
	}

	if !o.skipProbe {
		if err := probe(ctx, account, encryptor, o, insecure, logger); err != nil {
			return nil, err
		}
	}

	if err := db.CreateAccount(ctx, pool, account); err != nil {
		return nil, err
	}
	logger.Info("account added", "account_id", account.ID, "email", account.Email)
	return account, nil
}

// probe logs in to both servers with the account as it will be stored.
func probe(
	ctx context.Context,
	account *models.MailAccount,
	encryptor *crypto.Encryptor,
	o options,
	insecure bool,
	logger *slog.Logger,
) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	imapPool := imap.NewPool(encryptor, insecure, logger)
	defer imapPool.Close()
	session, err := imapPool.Session(ctx, account)
	if err != nil {
		return err
	}
	created, err := session.EnsureFolders(ctx, account.SentFolderName(), account.TrashFolderName())
	if err != nil {
		return fmt.Errorf("failed to prepare folders: %w", err)
	}
	if len(created) > 0 {
		logger.Info("created folders", "folders", created)
	}

	c, err := smtp.Connect(smtp.Endpoint{
		Host:     o.smtpHost,
		Port:     o.smtpPort,
		Username: o.smtpUser,
		Password: o.smtpPassword,
		Insecure: insecure,
	})
	if err != nil {
		return err
	}
	_ = c.Quit()
	return nil
}
