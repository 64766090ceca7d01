// Package mailsync polls the watched folders of every active account and feeds new messages
// into the ingestion pipeline.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/imap"
	"github.com/vdavid/werkbank/internal/ingest"
	"github.com/vdavid/werkbank/internal/models"
)

const (
	defaultInterval              = time.Minute
	defaultMaxConcurrentAccounts = 4

	backoffInitialInterval = 30 * time.Second
	backoffMaxInterval     = 30 * time.Minute
)

// Store reads accounts and keeps the per-folder sync cursors.
type Store interface {
	ListActiveAccounts(ctx context.Context) ([]*models.MailAccount, error)
	GetAccount(ctx context.Context, accountID string) (*models.MailAccount, error)
	GetSyncCursor(ctx context.Context, accountID, folder string) (uint32, error)
	AdvanceSyncCursor(ctx context.Context, accountID, folder string, lastUID uint32) error
}

// Sessions hands out the cached IMAP session of an account.
type Sessions interface {
	Session(ctx context.Context, account *models.MailAccount) (*imap.Session, error)
	Evict(accountID string)
}

// Ingester runs the pipeline for one message.
type Ingester interface {
	Ingest(ctx context.Context, account *models.MailAccount, folder string, msg imap.FetchedMessage) (*ingest.Result, error)
}

var (
	_ Store    = (*db.Store)(nil)
	_ Sessions = (*imap.Pool)(nil)
	_ Ingester = (*ingest.Ingester)(nil)
)

type Config struct {
	// Interval is the pause between two passes of Run.
	Interval              time.Duration
	MaxConcurrentAccounts int
}

type Synchronizer struct {
	store    Store
	sessions Sessions
	ingester Ingester
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	backoffs map[string]*accountBackoff
}

// accountBackoff tracks an account whose connection keeps failing.
type accountBackoff struct {
	policy  *backoff.ExponentialBackOff
	retryAt time.Time
}

func NewSynchronizer(store Store, sessions Sessions, ingester Ingester, cfg Config, logger *slog.Logger) *Synchronizer {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxConcurrentAccounts <= 0 {
		cfg.MaxConcurrentAccounts = defaultMaxConcurrentAccounts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		store:    store,
		sessions: sessions,
		ingester: ingester,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		backoffs: make(map[string]*accountBackoff),
	}
}

// Run syncs all accounts right away and then on every interval until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncAll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sync pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncAll syncs every active account that is not backing off. Accounts run concurrently;
// the folders of one account run one after another on its session.
func (s *Synchronizer) SyncAll(ctx context.Context) (*Report, error) {
	accounts, err := s.store.ListActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{StartedAt: s.now()}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentAccounts)
	for _, account := range accounts {
		if s.backingOff(account.ID) {
			report.Skipped = append(report.Skipped, account.ID)
			continue
		}
		g.Go(func() error {
			folders, err := s.syncAccount(ctx, account)

			mu.Lock()
			defer mu.Unlock()
			report.Folders = append(report.Folders, folders...)
			if err != nil {
				report.addAccountError(account.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = s.now()
	return report, nil
}

// SyncFolder syncs one folder of one account right away, ignoring any backoff.
func (s *Synchronizer) SyncFolder(ctx context.Context, accountID, folder string) (*FolderReport, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	session, err := s.session(ctx, account)
	if err != nil {
		return nil, err
	}
	report := s.syncFolder(ctx, session, account, folder)
	return &report, nil
}

func (s *Synchronizer) syncAccount(ctx context.Context, account *models.MailAccount) ([]FolderReport, error) {
	session, err := s.session(ctx, account)
	if err != nil {
		return nil, err
	}

	var reports []FolderReport
	failedFolders := 0
	for _, folder := range account.WatchedFolders() {
		if ctx.Err() != nil {
			break
		}
		r := s.syncFolder(ctx, session, account, folder)
		if r.Error != "" {
			failedFolders++
		}
		reports = append(reports, r)
	}

	// Every folder failing points at the connection rather than at one mailbox.
	if failedFolders > 0 && failedFolders == len(reports) && ctx.Err() == nil {
		err := fmt.Errorf("all folders failed for account %s", account.ID)
		s.sessions.Evict(account.ID)
		s.recordFailure(account.ID, err)
		return reports, err
	}
	s.recordSuccess(account.ID)
	return reports, nil
}

func (s *Synchronizer) session(ctx context.Context, account *models.MailAccount) (*imap.Session, error) {
	session, err := s.sessions.Session(ctx, account)
	if err != nil {
		s.sessions.Evict(account.ID)
		s.recordFailure(account.ID, err)
		return nil, err
	}
	return session, nil
}

func (s *Synchronizer) syncFolder(ctx context.Context, session *imap.Session, account *models.MailAccount, folder string) FolderReport {
	log := s.logger.With("account_id", account.ID, "folder", folder)
	report := FolderReport{AccountID: account.ID, Folder: folder}

	before, err := s.store.GetSyncCursor(ctx, account.ID, folder)
	if err != nil {
		report.Error = err.Error()
		log.Error("failed to read sync cursor", "error", err)
		return report
	}
	report.CursorBefore = before
	report.CursorAfter = before

	c := newCursor(before)
	err = session.WithMailbox(ctx, folder, func(m *imap.Mailbox) error {
		return m.FetchSince(before, func(msg imap.FetchedMessage) error {
			report.Fetched++
			if _, err := s.ingester.Ingest(ctx, account, folder, msg); err != nil {
				report.Failed++
				c.fail(msg.UID)
				log.Warn("failed to ingest message", "uid", msg.UID, "error", err)
				return nil
			}
			report.Ingested++
			c.succeed(msg.UID)
			return nil
		})
	})
	if err != nil {
		report.Error = err.Error()
		if !errors.Is(err, context.Canceled) {
			log.Error("failed to sync folder", "error", err)
		}
	}

	// Whatever was ingested before a folder error still counts.
	if after := c.value(); after > before {
		if err := s.store.AdvanceSyncCursor(ctx, account.ID, folder, after); err != nil {
			log.Error("failed to advance sync cursor", "error", err)
			if report.Error == "" {
				report.Error = err.Error()
			}
			return report
		}
		report.CursorAfter = after
	}

	if report.Fetched > 0 {
		log.Info("synced folder",
			"fetched", report.Fetched,
			"ingested", report.Ingested,
			"failed", report.Failed,
			"cursor", report.CursorAfter,
		)
	}
	return report
}

func (s *Synchronizer) backingOff(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backoffs[accountID]
	return ok && s.now().Before(b.retryAt)
}

func (s *Synchronizer) recordFailure(accountID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backoffs[accountID]
	if !ok {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = backoffInitialInterval
		policy.MaxInterval = backoffMaxInterval
		policy.MaxElapsedTime = 0
		policy.Reset()
		b = &accountBackoff{policy: policy}
		s.backoffs[accountID] = b
	}
	wait := b.policy.NextBackOff()
	b.retryAt = s.now().Add(wait)

	s.logger.Warn("account unavailable, backing off",
		"account_id", accountID,
		"retry_in", wait,
		"error", err,
	)
}

func (s *Synchronizer) recordSuccess(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backoffs, accountID)
}
