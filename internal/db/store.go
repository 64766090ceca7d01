package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/werkbank/internal/models"
)

// Store binds the query functions to a pool so services can depend on narrow interfaces.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store over the pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.MailAccount, error) {
	return GetAccount(ctx, s.pool, accountID)
}

func (s *Store) GetDefaultAccount(ctx context.Context) (*models.MailAccount, error) {
	return GetDefaultAccount(ctx, s.pool)
}

func (s *Store) ListActiveAccounts(ctx context.Context) ([]*models.MailAccount, error) {
	return ListActiveAccounts(ctx, s.pool)
}

func (s *Store) UpsertMail(ctx context.Context, mail *models.Mail) error {
	return UpsertMail(ctx, s.pool, mail)
}

func (s *Store) GetMail(ctx context.Context, id string) (*models.Mail, error) {
	return GetMail(ctx, s.pool, id)
}

func (s *Store) FindThreadRef(ctx context.Context, messageID string) (*ThreadRef, error) {
	return FindThreadRef(ctx, s.pool, messageID)
}

func (s *Store) ListThreadMails(ctx context.Context, threadID string) ([]*models.Mail, error) {
	return ListThreadMails(ctx, s.pool, threadID)
}

func (s *Store) UpdateMailLocation(ctx context.Context, id, folder string, uid int64) error {
	return UpdateMailLocation(ctx, s.pool, id, folder, uid)
}

func (s *Store) PropagateOrderToThread(ctx context.Context, threadID, orderID string) (int64, error) {
	return PropagateOrderToThread(ctx, s.pool, threadID, orderID)
}

func (s *Store) FindCustomersByEmail(ctx context.Context, email string, limit int) ([]*models.Customer, error) {
	return FindCustomersByEmail(ctx, s.pool, email, limit)
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return GetOrder(ctx, s.pool, orderID)
}

func (s *Store) FindOpenOrdersForCustomer(ctx context.Context, customerID string, limit int) ([]*models.Order, error) {
	return FindOpenOrdersForCustomer(ctx, s.pool, customerID, limit)
}

func (s *Store) FindAttachment(ctx context.Context, mailID, filename string, size int64) (*models.Attachment, error) {
	return FindAttachment(ctx, s.pool, mailID, filename, size)
}

func (s *Store) InsertAttachment(ctx context.Context, attachment *models.Attachment) error {
	return InsertAttachment(ctx, s.pool, attachment)
}

func (s *Store) ListAttachments(ctx context.Context, mailID string) ([]models.Attachment, error) {
	return ListAttachments(ctx, s.pool, mailID)
}

func (s *Store) MirrorOrderImage(ctx context.Context, orderID string, attachment models.Attachment) (bool, error) {
	return MirrorOrderImage(ctx, s.pool, orderID, attachment)
}

func (s *Store) GetSyncCursor(ctx context.Context, accountID, folder string) (uint32, error) {
	return GetSyncCursor(ctx, s.pool, accountID, folder)
}

func (s *Store) AdvanceSyncCursor(ctx context.Context, accountID, folder string, lastUID uint32) error {
	return AdvanceSyncCursor(ctx, s.pool, accountID, folder, lastUID)
}
