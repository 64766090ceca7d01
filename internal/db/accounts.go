package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/werkbank/internal/models"
)

// ErrAccountNotFound is returned when a mail account does not exist or is inactive.
var ErrAccountNotFound = errors.New("mail account not found")

const accountColumns = `
	id,
	name,
	email,
	imap_host,
	imap_port,
	imap_username,
	encrypted_imap_password,
	smtp_host,
	smtp_port,
	smtp_username,
	encrypted_smtp_password,
	sent_folder,
	trash_folder,
	is_active,
	is_default,
	created_at,
	updated_at`

func scanAccount(row pgx.Row) (*models.MailAccount, error) {
	var a models.MailAccount
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Email,
		&a.IMAPHost,
		&a.IMAPPort,
		&a.IMAPUsername,
		&a.EncryptedIMAPPassword,
		&a.SMTPHost,
		&a.SMTPPort,
		&a.SMTPUsername,
		&a.EncryptedSMTPPassword,
		&a.SentFolder,
		&a.TrashFolder,
		&a.IsActive,
		&a.IsDefault,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a mail account and fills in its generated fields.
func CreateAccount(ctx context.Context, pool *pgxpool.Pool, account *models.MailAccount) error {
	if account.SentFolder == "" {
		account.SentFolder = models.FolderSent
	}
	if account.TrashFolder == "" {
		account.TrashFolder = models.FolderTrash
	}

	err := pool.QueryRow(ctx, `
		INSERT INTO mail_accounts (
			name,
			email,
			imap_host,
			imap_port,
			imap_username,
			encrypted_imap_password,
			smtp_host,
			smtp_port,
			smtp_username,
			encrypted_smtp_password,
			sent_folder,
			trash_folder,
			is_active,
			is_default
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`,
		account.Name,
		account.Email,
		account.IMAPHost,
		account.IMAPPort,
		account.IMAPUsername,
		account.EncryptedIMAPPassword,
		account.SMTPHost,
		account.SMTPPort,
		account.SMTPUsername,
		account.EncryptedSMTPPassword,
		account.SentFolder,
		account.TrashFolder,
		account.IsActive,
		account.IsDefault,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create mail account: %w", err)
	}
	return nil
}

// GetAccount returns a mail account by id regardless of its active flag.
func GetAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) (*models.MailAccount, error) {
	account, err := scanAccount(pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM mail_accounts WHERE id = $1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail account: %w", err)
	}
	return account, nil
}

// GetDefaultAccount returns the active account flagged as default.
func GetDefaultAccount(ctx context.Context, pool *pgxpool.Pool) (*models.MailAccount, error) {
	account, err := scanAccount(pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM mail_accounts
		WHERE is_default AND is_active
	`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default mail account: %w", err)
	}
	return account, nil
}

// ListActiveAccounts returns every active account ordered by creation time.
func ListActiveAccounts(ctx context.Context, pool *pgxpool.Pool) ([]*models.MailAccount, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM mail_accounts
		WHERE is_active
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mail accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.MailAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mail account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mail accounts: %w", err)
	}

	return accounts, nil
}
