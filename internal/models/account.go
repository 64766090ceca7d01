package models

import "time"

// MailAccount holds the connection settings of one mailbox. Passwords are stored encrypted.
type MailAccount struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Email                 string    `json:"email"`
	IMAPHost              string    `json:"imap_host"`
	IMAPPort              int       `json:"imap_port"`
	IMAPUsername          string    `json:"imap_username"`
	EncryptedIMAPPassword []byte    `json:"-"`
	SMTPHost              string    `json:"smtp_host"`
	SMTPPort              int       `json:"smtp_port"`
	SMTPUsername          string    `json:"smtp_username"`
	EncryptedSMTPPassword []byte    `json:"-"`
	SentFolder            string    `json:"sent_folder"`
	TrashFolder           string    `json:"trash_folder"`
	IsActive              bool      `json:"is_active"`
	IsDefault             bool      `json:"is_default"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// WatchedFolders returns the folders the synchronizer polls, in order.
func (a *MailAccount) WatchedFolders() []string {
	sent := a.SentFolder
	if sent == "" {
		sent = FolderSent
	}
	trash := a.TrashFolder
	if trash == "" {
		trash = FolderTrash
	}
	return []string{FolderInbox, sent, trash}
}

// SentFolderName returns the configured sent folder or the default.
func (a *MailAccount) SentFolderName() string {
	if a.SentFolder == "" {
		return FolderSent
	}
	return a.SentFolder
}

// TrashFolderName returns the configured trash folder or the default.
func (a *MailAccount) TrashFolderName() string {
	if a.TrashFolder == "" {
		return FolderTrash
	}
	return a.TrashFolder
}
