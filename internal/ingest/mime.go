package ingest

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/vdavid/werkbank/internal/imap"
	"github.com/vdavid/werkbank/internal/models"
	"github.com/vdavid/werkbank/internal/thread"
)

const syntheticIDDomain = "werkbank.invalid"

// part is an attachment or Content-ID inline part pulled out of the MIME tree.
type part struct {
	filename    string
	contentType string
	cid         string
	content     []byte
}

// parsedMessage is a fetched message converted to a Mail plus its binary parts.
type parsedMessage struct {
	mail  *models.Mail
	parts []part
}

// parseMessage reads the raw RFC 5322 message. Header problems never fail the parse; only an
// unreadable MIME structure does.
func parseMessage(accountID, folder string, msg imap.FetchedMessage) (*parsedMessage, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	m := &models.Mail{
		AccountID:  accountID,
		UID:        int64(msg.UID),
		Folder:     folder,
		Subject:    envelope.GetHeader("Subject"),
		To:         addressList(envelope, "To"),
		CC:         addressList(envelope, "Cc"),
		BCC:        addressList(envelope, "Bcc"),
		Text:       envelope.Text,
		HTML:       envelope.HTML,
		Date:       messageDate(envelope.GetHeader("Date"), msg.InternalDate),
		References: thread.ParseIDList(envelope.GetHeader("References")),
		IsRead:     msg.Seen(),
	}

	if from, err := envelope.AddressList("From"); err == nil && len(from) > 0 {
		m.FromEmail = strings.ToLower(from[0].Address)
		m.FromName = from[0].Name
	}

	if ids := thread.ParseIDList(envelope.GetHeader("In-Reply-To")); len(ids) > 0 {
		m.InReplyTo = ids[0]
	}

	m.MessageID = thread.NormalizeID(envelope.GetHeader("Message-ID"))
	if m.MessageID == "" {
		m.MessageID = SyntheticMessageID(accountID, msg.Raw)
	}

	parsed := &parsedMessage{mail: m}
	for _, p := range envelope.Attachments {
		parsed.parts = append(parsed.parts, toPart(p))
	}
	for _, p := range envelope.Inlines {
		if p.ContentID == "" && p.FileName == "" {
			continue
		}
		parsed.parts = append(parsed.parts, toPart(p))
	}
	return parsed, nil
}

// SyntheticMessageID derives a stable id for messages that lack a Message-ID header, so a
// re-fetch of the same bytes lands on the same row.
func SyntheticMessageID(accountID string, raw []byte) string {
	return fmt.Sprintf("%x@%s.%s", sha256.Sum256(raw), accountID, syntheticIDDomain)
}

func toPart(p *enmime.Part) part {
	return part{
		filename:    p.FileName,
		contentType: p.ContentType,
		cid:         p.ContentID,
		content:     p.Content,
	}
}

func addressList(envelope *enmime.Envelope, header string) []string {
	addresses, err := envelope.AddressList(header)
	if err != nil {
		return nil
	}
	result := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a.Address != "" {
			result = append(result, strings.ToLower(a.Address))
		}
	}
	return result
}

func messageDate(header string, internalDate time.Time) time.Time {
	if header != "" {
		if d, err := mail.ParseDate(header); err == nil {
			return d
		}
	}
	if !internalDate.IsZero() {
		return internalDate
	}
	return time.Now()
}
