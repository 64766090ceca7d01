// Package ingest turns one fetched IMAP message into a stored, threaded and linked Mail.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vdavid/werkbank/internal/attachments"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/imap"
	"github.com/vdavid/werkbank/internal/linking"
	"github.com/vdavid/werkbank/internal/models"
	"github.com/vdavid/werkbank/internal/parser"
	"github.com/vdavid/werkbank/internal/thread"
)

// MailStore persists mails keyed by Message-ID.
type MailStore interface {
	UpsertMail(ctx context.Context, mail *models.Mail) error
}

// AttachmentSaver stores one attachment of a persisted mail.
type AttachmentSaver interface {
	Save(ctx context.Context, in attachments.Input) (*models.Attachment, error)
}

var (
	_ MailStore       = (*db.Store)(nil)
	_ AttachmentSaver = (*attachments.Store)(nil)
)

// Result describes what happened to one message.
type Result struct {
	Mail     *models.Mail
	Parsed   parser.Result
	Decision linking.Decision
	// Propagated counts earlier thread mails that inherited the order.
	Propagated int64
	// Mirrored counts image attachments newly added to the order gallery.
	Mirrored int
}

type Ingester struct {
	mails       MailStore
	threads     *thread.Resolver
	customers   *linking.CustomerResolver
	links       *linking.Engine
	attachments AttachmentSaver
	logger      *slog.Logger
}

func NewIngester(
	mails MailStore,
	threads *thread.Resolver,
	customers *linking.CustomerResolver,
	links *linking.Engine,
	attachmentSaver AttachmentSaver,
	logger *slog.Logger,
) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		mails:       mails,
		threads:     threads,
		customers:   customers,
		links:       links,
		attachments: attachmentSaver,
		logger:      logger,
	}
}

// Ingest runs the whole pipeline for one message. It is idempotent: ingesting the same message
// again refreshes the stored row without duplicating it or its attachments.
func (i *Ingester) Ingest(ctx context.Context, account *models.MailAccount, folder string, msg imap.FetchedMessage) (*Result, error) {
	parsed, err := parseMessage(account.ID, folder, msg)
	if err != nil {
		return nil, err
	}
	mail := parsed.mail
	result := &Result{Mail: mail, Parsed: parser.Parse(mail.Text)}

	resolution, err := i.threads.Resolve(ctx, thread.Headers{
		MessageID:  mail.MessageID,
		InReplyTo:  mail.InReplyTo,
		References: mail.References,
	})
	if err != nil {
		return nil, err
	}
	mail.ThreadID = resolution.ThreadID

	customer, err := i.customers.Resolve(ctx, counterpart(account, mail))
	if err != nil {
		return nil, err
	}
	if customer != nil {
		mail.CustomerID = &customer.ID
	}

	result.Decision, err = i.links.Decide(ctx, linking.Input{
		Subject:       mail.Subject,
		OrderNumber:   result.Parsed.OrderNumber,
		ThreadOrderID: resolution.OrderID,
		Customer:      customer,
	})
	if err != nil {
		return nil, err
	}
	if result.Decision.Linked() {
		orderID := result.Decision.OrderID
		mail.OrderID = &orderID
	}

	if err := i.mails.UpsertMail(ctx, mail); err != nil {
		return nil, err
	}

	for _, p := range parsed.parts {
		saved, err := i.attachments.Save(ctx, attachments.Input{
			MailID:      mail.ID,
			Filename:    p.filename,
			ContentType: p.contentType,
			CID:         p.cid,
			Data:        p.content,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save attachment of %s: %w", mail.MessageID, err)
		}
		mail.Attachments = append(mail.Attachments, *saved)
	}

	// The stored row may carry an order from an earlier pass even when this one found none.
	if mail.OrderID != nil {
		result.Propagated, err = i.links.Propagate(ctx, mail.ThreadID, *mail.OrderID)
		if err != nil {
			return nil, err
		}
		result.Mirrored, err = i.links.MirrorImages(ctx, *mail.OrderID, mail.Attachments)
		if err != nil {
			return nil, err
		}
	}

	i.logger.Debug("ingested mail",
		"account_id", account.ID,
		"folder", folder,
		"uid", msg.UID,
		"message_id", mail.MessageID,
		"thread_id", mail.ThreadID,
		"link_source", result.Decision.Source,
		"attachments", len(mail.Attachments),
	)
	return result, nil
}

// counterpart is the address whose customer the mail belongs to: the sender, or the first
// recipient when the account itself sent the mail.
func counterpart(account *models.MailAccount, mail *models.Mail) string {
	if account.Email != "" && strings.EqualFold(mail.FromEmail, account.Email) && len(mail.To) > 0 {
		return mail.To[0]
	}
	return mail.FromEmail
}
