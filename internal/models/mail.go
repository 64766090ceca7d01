package models

import (
	"strings"
	"time"
)

// Well-known folder names.
const (
	FolderInbox = "INBOX"
	FolderSent  = "Sent"
	FolderTrash = "Trash"
)

type Mail struct {
	ID          string       `json:"id"`
	MessageID   string       `json:"message_id"`
	AccountID   string       `json:"account_id"`
	UID         int64        `json:"uid"`
	Folder      string       `json:"folder"`
	Subject     string       `json:"subject"`
	FromEmail   string       `json:"from_email"`
	FromName    string       `json:"from_name"`
	To          []string     `json:"to"`
	CC          []string     `json:"cc"`
	BCC         []string     `json:"bcc"`
	Text        string       `json:"text"`
	HTML        string       `json:"html"`
	Date        time.Time    `json:"date"`
	InReplyTo   string       `json:"in_reply_to,omitempty"`
	References  []string     `json:"references,omitempty"`
	ThreadID    string       `json:"thread_id"`
	OrderID     *string      `json:"order_id,omitempty"`
	CustomerID  *string      `json:"customer_id,omitempty"`
	IsRead      bool         `json:"is_read"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	ID        string    `json:"id"`
	MailID    string    `json:"mail_id"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mime_type"`
	CID       string    `json:"cid,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsImage reports whether the attachment has an image MIME type.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.MimeType), "image/")
}
