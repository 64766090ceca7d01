package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/werkbank/internal/models"
)

// ErrMailNotFound is returned when a requested mail cannot be found.
var ErrMailNotFound = errors.New("mail not found")

// ThreadRef is the conversation state a new message can inherit from an earlier one.
type ThreadRef struct {
	ThreadID string
	OrderID  *string
}

const mailColumns = `
	id,
	message_id,
	account_id,
	uid,
	folder,
	subject,
	from_email,
	from_name,
	to_addresses,
	cc_addresses,
	bcc_addresses,
	text_body,
	html_body,
	date,
	COALESCE(in_reply_to, ''),
	message_references,
	thread_id,
	order_id,
	customer_id,
	is_read,
	created_at,
	updated_at`

func scanMail(row pgx.Row) (*models.Mail, error) {
	var m models.Mail
	err := row.Scan(
		&m.ID,
		&m.MessageID,
		&m.AccountID,
		&m.UID,
		&m.Folder,
		&m.Subject,
		&m.FromEmail,
		&m.FromName,
		&m.To,
		&m.CC,
		&m.BCC,
		&m.Text,
		&m.HTML,
		&m.Date,
		&m.InReplyTo,
		&m.References,
		&m.ThreadID,
		&m.OrderID,
		&m.CustomerID,
		&m.IsRead,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMail inserts a mail or refreshes the row with the same message id.
// An existing row keeps its thread id, and its order and customer links once set. Its BCC list
// survives updates without one, since Bcc headers never reach the server copy.
// The mail is updated in place with the stored state.
func UpsertMail(ctx context.Context, pool *pgxpool.Pool, mail *models.Mail) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO mails (
			message_id,
			account_id,
			uid,
			folder,
			subject,
			from_email,
			from_name,
			to_addresses,
			cc_addresses,
			bcc_addresses,
			text_body,
			html_body,
			date,
			in_reply_to,
			message_references,
			thread_id,
			order_id,
			customer_id,
			is_read
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16, $17, $18, $19)
		ON CONFLICT (message_id) DO UPDATE SET
			uid = EXCLUDED.uid,
			folder = EXCLUDED.folder,
			subject = EXCLUDED.subject,
			from_email = EXCLUDED.from_email,
			from_name = EXCLUDED.from_name,
			to_addresses = EXCLUDED.to_addresses,
			cc_addresses = EXCLUDED.cc_addresses,
			bcc_addresses = CASE
				WHEN cardinality(EXCLUDED.bcc_addresses) = 0 THEN mails.bcc_addresses
				ELSE EXCLUDED.bcc_addresses
			END,
			text_body = EXCLUDED.text_body,
			html_body = EXCLUDED.html_body,
			date = EXCLUDED.date,
			in_reply_to = EXCLUDED.in_reply_to,
			message_references = EXCLUDED.message_references,
			order_id = COALESCE(mails.order_id, EXCLUDED.order_id),
			customer_id = COALESCE(mails.customer_id, EXCLUDED.customer_id),
			is_read = EXCLUDED.is_read,
			updated_at = now()
		RETURNING id, thread_id, order_id, customer_id, created_at, updated_at
	`,
		mail.MessageID,
		mail.AccountID,
		mail.UID,
		mail.Folder,
		mail.Subject,
		mail.FromEmail,
		mail.FromName,
		nonNil(mail.To),
		nonNil(mail.CC),
		nonNil(mail.BCC),
		mail.Text,
		mail.HTML,
		mail.Date,
		mail.InReplyTo,
		nonNil(mail.References),
		mail.ThreadID,
		mail.OrderID,
		mail.CustomerID,
		mail.IsRead,
	).Scan(&mail.ID, &mail.ThreadID, &mail.OrderID, &mail.CustomerID, &mail.CreatedAt, &mail.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert mail: %w", err)
	}
	return nil
}

// GetMail returns a mail by its row id.
func GetMail(ctx context.Context, pool *pgxpool.Pool, id string) (*models.Mail, error) {
	mail, err := scanMail(pool.QueryRow(ctx, `SELECT `+mailColumns+` FROM mails WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail: %w", err)
	}
	return mail, nil
}

// GetMailByMessageID returns a mail by its RFC Message-ID.
func GetMailByMessageID(ctx context.Context, pool *pgxpool.Pool, messageID string) (*models.Mail, error) {
	mail, err := scanMail(pool.QueryRow(ctx, `SELECT `+mailColumns+` FROM mails WHERE message_id = $1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail by message id: %w", err)
	}
	return mail, nil
}

// FindThreadRef looks up the thread and order of the mail with the given Message-ID.
func FindThreadRef(ctx context.Context, pool *pgxpool.Pool, messageID string) (*ThreadRef, error) {
	var ref ThreadRef
	err := pool.QueryRow(ctx, `
		SELECT thread_id, order_id
		FROM mails
		WHERE message_id = $1
	`, messageID).Scan(&ref.ThreadID, &ref.OrderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find thread: %w", err)
	}
	return &ref, nil
}

// ListThreadMails returns every mail of a thread, oldest first.
func ListThreadMails(ctx context.Context, pool *pgxpool.Pool, threadID string) ([]*models.Mail, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+mailColumns+`
		FROM mails
		WHERE thread_id = $1
		ORDER BY date, created_at
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread mails: %w", err)
	}
	defer rows.Close()

	var mails []*models.Mail
	for rows.Next() {
		mail, err := scanMail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mail: %w", err)
		}
		mails = append(mails, mail)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mails: %w", err)
	}

	return mails, nil
}

// UpdateMailLocation records that a mail now lives in another folder under the given UID.
func UpdateMailLocation(ctx context.Context, pool *pgxpool.Pool, id, folder string, uid int64) error {
	tag, err := pool.Exec(ctx, `
		UPDATE mails
		SET folder = $2, uid = $3, updated_at = now()
		WHERE id = $1
	`, id, folder, uid)
	if err != nil {
		return fmt.Errorf("failed to update mail location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMailNotFound
	}
	return nil
}

// PropagateOrderToThread links every unlinked mail of a thread to the order.
// Mails that already carry an order are left untouched.
func PropagateOrderToThread(ctx context.Context, pool *pgxpool.Pool, threadID, orderID string) (int64, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE mails
		SET order_id = $2, updated_at = now()
		WHERE thread_id = $1 AND order_id IS NULL
	`, threadID, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to propagate order to thread: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
