package testutil

import (
	"testing"

	"github.com/vdavid/werkbank/internal/models"
)

// TestAccount returns an active default account pointing at the given test servers.
// smtpServer may be nil. The ID is left empty for the caller or the database to fill.
func TestAccount(t *testing.T, imapServer *TestIMAPServer, smtpServer *TestSMTPServer) *models.MailAccount {
	t.Helper()

	account := &models.MailAccount{
		Name:                  "Werkstatt",
		Email:                 "werkstatt@example.com",
		IMAPHost:              imapServer.Host(),
		IMAPPort:              imapServer.Port(),
		IMAPUsername:          imapServer.Username(),
		EncryptedIMAPPassword: EncryptForTest(t, imapServer.Password()),
		SentFolder:            models.FolderSent,
		TrashFolder:           models.FolderTrash,
		IsActive:              true,
		IsDefault:             true,
	}
	if smtpServer != nil {
		account.SMTPHost = smtpServer.Host()
		account.SMTPPort = smtpServer.Port()
		account.SMTPUsername = smtpServer.Username()
		account.EncryptedSMTPPassword = EncryptForTest(t, smtpServer.Password())
	}
	return account
}
