// Package app wires the mail engine components into a runnable service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/werkbank/internal/api"
	"github.com/vdavid/werkbank/internal/attachments"
	"github.com/vdavid/werkbank/internal/blob"
	"github.com/vdavid/werkbank/internal/config"
	"github.com/vdavid/werkbank/internal/crypto"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/imap"
	"github.com/vdavid/werkbank/internal/ingest"
	"github.com/vdavid/werkbank/internal/linking"
	"github.com/vdavid/werkbank/internal/mailsync"
	"github.com/vdavid/werkbank/internal/reply"
	"github.com/vdavid/werkbank/internal/smtp"
	"github.com/vdavid/werkbank/internal/thread"
)

type App struct {
	Handler      http.Handler
	Synchronizer *mailsync.Synchronizer
	Replies      *reply.Engine

	imapPool *imap.Pool
	smtpPool *smtp.Pool
	logger   *slog.Logger
}

// New builds the engine on top of an open, migrated database pool.
func New(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	blobs, err := blob.NewFromConfig(ctx, BlobConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	store := db.NewStore(pool)
	attachmentStore := attachments.NewStore(blobs, store)
	threads := thread.NewResolver(store)
	links := linking.NewEngine(store, store, store)
	ingester := ingest.NewIngester(store, threads, linking.NewCustomerResolver(store), links, attachmentStore, logger)

	imapPool := imap.NewPool(encryptor, cfg.IMAPInsecure, logger)
	smtpPool := smtp.NewPool(encryptor, cfg.IMAPInsecure, cfg.SMTPSendRPS, logger)

	synchronizer := mailsync.NewSynchronizer(store, imapPool, ingester, mailsync.Config{
		Interval:              cfg.SyncInterval,
		MaxConcurrentAccounts: cfg.SyncMaxConcurrentAccounts,
	}, logger)
	replies := reply.NewEngine(store, smtpPool, imapPool, threads, links, attachmentStore, logger)

	handler := api.NewRouter(api.NewHandler(store, synchronizer, replies, logger), cfg.APIToken, logger)

	return &App{
		Handler:      handler,
		Synchronizer: synchronizer,
		Replies:      replies,
		imapPool:     imapPool,
		smtpPool:     smtpPool,
		logger:       logger,
	}, nil
}

// RunSync polls all accounts until ctx is canceled.
func (a *App) RunSync(ctx context.Context) {
	a.logger.Info("mail synchronizer started")
	a.Synchronizer.Run(ctx)
	a.logger.Info("mail synchronizer stopped")
}

// Close drops every IMAP session and SMTP connection.
func (a *App) Close() {
	a.imapPool.Close()
	a.smtpPool.Close()
}

func BlobConfig(cfg *config.Config) blob.Config {
	return blob.Config{
		Backend:           cfg.BlobBackend,
		FSRoot:            cfg.BlobFSRoot,
		PublicBaseURL:     cfg.BlobPublicBaseURL,
		S3Bucket:          cfg.S3Bucket,
		S3Region:          cfg.S3Region,
		S3Endpoint:        cfg.S3Endpoint,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3ForcePathStyle:  cfg.S3ForcePathStyle,
	}
}
