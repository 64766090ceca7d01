// Package reply sends replies and new messages, records them as Sent mail and moves mail
// between server folders.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"

	"github.com/vdavid/werkbank/internal/attachments"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/imap"
	"github.com/vdavid/werkbank/internal/linking"
	"github.com/vdavid/werkbank/internal/models"
	"github.com/vdavid/werkbank/internal/smtp"
	"github.com/vdavid/werkbank/internal/thread"
)

var (
	// ErrNotOnServer is returned when a mail has no known UID in its folder yet.
	ErrNotOnServer  = errors.New("mail is not on the server yet")
	ErrNoRecipients = errors.New("no recipients")
)

// Store reads and writes mails and accounts.
type Store interface {
	GetMail(ctx context.Context, id string) (*models.Mail, error)
	GetAccount(ctx context.Context, accountID string) (*models.MailAccount, error)
	GetDefaultAccount(ctx context.Context) (*models.MailAccount, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	UpsertMail(ctx context.Context, mail *models.Mail) error
	UpdateMailLocation(ctx context.Context, id, folder string, uid int64) error
}

// Senders hands out the SMTP sender of an account.
type Senders interface {
	Sender(ctx context.Context, account *models.MailAccount) (*smtp.Sender, error)
}

// Sessions hands out the IMAP session of an account.
type Sessions interface {
	Session(ctx context.Context, account *models.MailAccount) (*imap.Session, error)
}

// AttachmentSaver stores one attachment of a persisted mail.
type AttachmentSaver interface {
	Save(ctx context.Context, in attachments.Input) (*models.Attachment, error)
}

var (
	_ Store           = (*db.Store)(nil)
	_ Senders         = (*smtp.Pool)(nil)
	_ Sessions        = (*imap.Pool)(nil)
	_ AttachmentSaver = (*attachments.Store)(nil)
)

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// Options describes an outgoing message. ReplyToMailID is empty for a new conversation.
type Options struct {
	AccountID     string   `json:"accountId,omitempty"`
	ReplyToMailID string   `json:"replyToMailId,omitempty"`
	To            []string `json:"to,omitempty"`
	CC            []string `json:"cc,omitempty"`
	BCC           []string `json:"bcc,omitempty"`
	Subject       string   `json:"subject,omitempty"`
	Text          string   `json:"text"`
	HTML          string   `json:"html,omitempty"`
	// OrderID links the message explicitly. Otherwise it inherits the order of its thread.
	OrderID     string       `json:"orderId,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Engine struct {
	store       Store
	senders     Senders
	sessions    Sessions
	threads     *thread.Resolver
	links       *linking.Engine
	attachments AttachmentSaver
	logger      *slog.Logger
	now         func() time.Time
}

func NewEngine(
	store Store,
	senders Senders,
	sessions Sessions,
	threads *thread.Resolver,
	links *linking.Engine,
	attachmentSaver AttachmentSaver,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       store,
		senders:     senders,
		sessions:    sessions,
		threads:     threads,
		links:       links,
		attachments: attachmentSaver,
		logger:      logger,
		now:         time.Now,
	}
}

// Reply sends the message and records it in the account's Sent folder. Only a failed send
// is fatal; the Sent copy on the server and the move of the answered mail are best effort.
func (e *Engine) Reply(ctx context.Context, opts Options) (*models.Mail, error) {
	var original *models.Mail
	if opts.ReplyToMailID != "" {
		m, err := e.store.GetMail(ctx, opts.ReplyToMailID)
		if err != nil {
			return nil, err
		}
		original = m
	}

	account, err := e.sendingAccount(ctx, opts.AccountID, original)
	if err != nil {
		return nil, err
	}

	if opts.OrderID != "" {
		if _, err := e.store.GetOrder(ctx, opts.OrderID); err != nil {
			return nil, err
		}
	}

	to := opts.To
	if len(to) == 0 && original != nil && original.FromEmail != "" {
		to = []string{original.FromEmail}
	}
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}

	msg := outgoing{
		messageID:   newMessageID(account.Email),
		from:        &mail.Address{Name: account.Name, Address: account.Email},
		to:          to,
		cc:          opts.CC,
		subject:     opts.Subject,
		date:        e.now(),
		text:        opts.Text,
		html:        opts.HTML,
		attachments: opts.Attachments,
	}
	if original != nil {
		msg.inReplyTo = original.MessageID
		msg.references = append(slices.Clone(original.References), original.MessageID)
		if msg.subject == "" {
			msg.subject = replySubject(original.Subject)
		}
	}

	raw, err := render(msg)
	if err != nil {
		return nil, err
	}

	sender, err := e.senders.Sender(ctx, account)
	if err != nil {
		return nil, err
	}
	recipients := slices.Concat(to, opts.CC, opts.BCC)
	if err := sender.Send(ctx, account.Email, recipients, raw); err != nil {
		return nil, err
	}

	sent, err := e.record(ctx, account, original, opts, msg)
	if err != nil {
		return nil, fmt.Errorf("sent %s but failed to record it: %w", msg.messageID, err)
	}

	e.appendToSent(ctx, account, msg, raw)

	if original != nil && original.AccountID == account.ID && original.Folder == models.FolderInbox {
		if err := e.Move(ctx, original.ID, account.TrashFolderName()); err != nil {
			e.logger.Warn("failed to move answered mail to trash",
				"mail_id", original.ID,
				"error", err,
			)
		}
	}
	return sent, nil
}

// record persists the sent message with its attachments and spreads its order over the thread.
func (e *Engine) record(ctx context.Context, account *models.MailAccount, original *models.Mail, opts Options, msg outgoing) (*models.Mail, error) {
	var references []string
	if msg.inReplyTo != "" {
		references = msg.references
	}
	resolution, err := e.threads.Resolve(ctx, thread.Headers{
		MessageID:  msg.messageID,
		InReplyTo:  msg.inReplyTo,
		References: references,
	})
	if err != nil {
		return nil, err
	}

	sent := &models.Mail{
		MessageID:  msg.messageID,
		AccountID:  account.ID,
		UID:        0,
		Folder:     account.SentFolderName(),
		Subject:    msg.subject,
		FromEmail:  strings.ToLower(account.Email),
		FromName:   account.Name,
		To:         msg.to,
		CC:         opts.CC,
		BCC:        opts.BCC,
		Text:       msg.text,
		HTML:       msg.html,
		Date:       msg.date,
		InReplyTo:  msg.inReplyTo,
		References: references,
		ThreadID:   resolution.ThreadID,
		OrderID:    resolution.OrderID,
		IsRead:     true,
	}
	if opts.OrderID != "" {
		orderID := opts.OrderID
		sent.OrderID = &orderID
	}
	if original != nil {
		sent.CustomerID = original.CustomerID
	}

	if err := e.store.UpsertMail(ctx, sent); err != nil {
		return nil, err
	}

	for _, a := range msg.attachments {
		saved, err := e.attachments.Save(ctx, attachments.Input{
			MailID:      sent.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Data:        a.Data,
		})
		if err != nil {
			return nil, err
		}
		sent.Attachments = append(sent.Attachments, *saved)
	}

	if sent.OrderID != nil {
		if _, err := e.links.Propagate(ctx, sent.ThreadID, *sent.OrderID); err != nil {
			return nil, err
		}
	}
	return sent, nil
}

func (e *Engine) appendToSent(ctx context.Context, account *models.MailAccount, msg outgoing, raw []byte) {
	folder := account.SentFolderName()
	session, err := e.sessions.Session(ctx, account)
	if err == nil {
		err = session.Append(ctx, folder, []string{goimap.SeenFlag}, msg.date, raw)
	}
	if err != nil {
		e.logger.Warn("failed to append sent mail",
			"account_id", account.ID,
			"folder", folder,
			"message_id", msg.messageID,
			"error", err,
		)
	}
}

// sendingAccount picks the explicit account, then the answered mail's account, then the default.
func (e *Engine) sendingAccount(ctx context.Context, accountID string, original *models.Mail) (*models.MailAccount, error) {
	switch {
	case accountID != "":
		return e.store.GetAccount(ctx, accountID)
	case original != nil && original.AccountID != "":
		return e.store.GetAccount(ctx, original.AccountID)
	default:
		return e.store.GetDefaultAccount(ctx)
	}
}

// Move moves a mail to another folder on the server and records the new folder. The UID is
// reset until the next sync of the target folder sees the message again.
func (e *Engine) Move(ctx context.Context, mailID, target string) error {
	m, err := e.store.GetMail(ctx, mailID)
	if err != nil {
		return err
	}
	if m.Folder == target {
		return nil
	}
	if m.UID == 0 {
		return fmt.Errorf("%w: %s", ErrNotOnServer, mailID)
	}

	account, err := e.store.GetAccount(ctx, m.AccountID)
	if err != nil {
		return err
	}
	session, err := e.sessions.Session(ctx, account)
	if err != nil {
		return err
	}

	err = session.WithMailbox(ctx, m.Folder, func(mb *imap.Mailbox) error {
		return mb.Move(uint32(m.UID), target)
	})
	if err != nil {
		return err
	}

	if err := e.store.UpdateMailLocation(ctx, m.ID, target, 0); err != nil {
		return err
	}
	e.logger.Info("moved mail", "mail_id", m.ID, "from", m.Folder, "to", target)
	return nil
}
