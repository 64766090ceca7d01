package reply

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

const fallbackIDDomain = "werkbank.local"

// outgoing holds everything needed to render one message.
type outgoing struct {
	messageID   string
	from        *mail.Address
	to          []string
	cc          []string
	subject     string
	date        time.Time
	inReplyTo   string
	references  []string
	text        string
	html        string
	attachments []Attachment
}

// newMessageID returns a fresh id in the domain of the sending address, without angle brackets.
func newMessageID(fromEmail string) string {
	domain := fallbackIDDomain
	if _, d, ok := strings.Cut(fromEmail, "@"); ok && d != "" {
		domain = d
	}
	return uuid.NewString() + "@" + domain
}

// replySubject prefixes "Re: " unless the subject already carries it.
func replySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

func addresses(list []string) []*mail.Address {
	result := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		result = append(result, &mail.Address{Address: a})
	}
	return result
}

// render builds a multipart/mixed message with a text/html alternative and the attachments.
// Bcc recipients never appear in the headers.
func render(m outgoing) ([]byte, error) {
	var h mail.Header
	h.SetDate(m.date)
	h.SetAddressList("From", []*mail.Address{m.from})
	h.SetAddressList("To", addresses(m.to))
	if len(m.cc) > 0 {
		h.SetAddressList("Cc", addresses(m.cc))
	}
	h.SetSubject(m.subject)
	h.SetMessageID(m.messageID)
	if m.inReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{m.inReplyTo})
	}
	if len(m.references) > 0 {
		h.SetMsgIDList("References", m.references)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create body: %w", err)
	}
	if err := writeInline(tw, "text/plain", m.text); err != nil {
		return nil, err
	}
	if m.html != "" {
		if err := writeInline(tw, "text/html", m.html); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close body: %w", err)
	}

	for _, a := range m.attachments {
		var ah mail.AttachmentHeader
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ah.SetContentType(contentType, nil)
		ah.SetFilename(a.Filename)

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment %s: %w", a.Filename, err)
		}
		if _, err := w.Write(a.Data); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", a.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment %s: %w", a.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	w, err := tw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}
