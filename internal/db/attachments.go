package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/werkbank/internal/models"
)

// ErrAttachmentNotFound is returned when no attachment matches.
var ErrAttachmentNotFound = errors.New("attachment not found")

// FindAttachment returns the attachment of a mail with the given filename and size.
func FindAttachment(ctx context.Context, pool *pgxpool.Pool, mailID, filename string, size int64) (*models.Attachment, error) {
	var a models.Attachment
	err := pool.QueryRow(ctx, `
		SELECT id, mail_id, filename, path, size, mime_type, COALESCE(cid, ''), created_at
		FROM attachments
		WHERE mail_id = $1 AND filename = $2 AND size = $3
	`, mailID, filename, size).Scan(&a.ID, &a.MailID, &a.Filename, &a.Path, &a.Size, &a.MimeType, &a.CID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attachment: %w", err)
	}
	return &a, nil
}

// InsertAttachment stores attachment metadata. When a concurrent writer already stored the
// same (mail, filename, size) the existing row wins and is returned in place.
func InsertAttachment(ctx context.Context, pool *pgxpool.Pool, attachment *models.Attachment) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO attachments (mail_id, filename, path, size, mime_type, cid)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (mail_id, filename, size) DO UPDATE SET path = attachments.path
		RETURNING id, path, created_at
	`,
		attachment.MailID,
		attachment.Filename,
		attachment.Path,
		attachment.Size,
		attachment.MimeType,
		attachment.CID,
	).Scan(&attachment.ID, &attachment.Path, &attachment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

// ListAttachments returns all attachments of a mail.
func ListAttachments(ctx context.Context, pool *pgxpool.Pool, mailID string) ([]models.Attachment, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, mail_id, filename, path, size, mime_type, COALESCE(cid, ''), created_at
		FROM attachments
		WHERE mail_id = $1
		ORDER BY created_at, filename
	`, mailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.MailID, &a.Filename, &a.Path, &a.Size, &a.MimeType, &a.CID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachments, nil
}

// MirrorOrderImage copies an image attachment into the order's image gallery once.
func MirrorOrderImage(ctx context.Context, pool *pgxpool.Pool, orderID string, attachment models.Attachment) (bool, error) {
	tag, err := pool.Exec(ctx, `
		INSERT INTO order_images (order_id, attachment_id, path, filename)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (attachment_id) DO NOTHING
	`, orderID, attachment.ID, attachment.Path, attachment.Filename)
	if err != nil {
		return false, fmt.Errorf("failed to mirror order image: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListOrderImages returns the mirrored images of an order.
func ListOrderImages(ctx context.Context, pool *pgxpool.Pool, orderID string) ([]models.OrderImage, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, order_id, attachment_id, path, filename
		FROM order_images
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order images: %w", err)
	}
	defer rows.Close()

	var images []models.OrderImage
	for rows.Next() {
		var img models.OrderImage
		if err := rows.Scan(&img.ID, &img.OrderID, &img.AttachmentID, &img.Path, &img.Filename); err != nil {
			return nil, fmt.Errorf("failed to scan order image: %w", err)
		}
		images = append(images, img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order images: %w", err)
	}

	return images, nil
}
