// Package attachments persists mail attachments to blob storage and records their metadata.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"
	"unicode"

	"github.com/vdavid/werkbank/internal/blob"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/models"
)

// ErrUnsupportedData is returned when Input.Data has a type Save cannot read.
var ErrUnsupportedData = errors.New("unsupported attachment data")

// Metadata records attachment rows.
type Metadata interface {
	FindAttachment(ctx context.Context, mailID, filename string, size int64) (*models.Attachment, error)
	InsertAttachment(ctx context.Context, attachment *models.Attachment) error
	ListAttachments(ctx context.Context, mailID string) ([]models.Attachment, error)
}

var _ Metadata = (*db.Store)(nil)

// Input describes one attachment to save. Data is a []byte, a string, an io.Reader (closed
// after reading when it is an io.Closer) or an iter.Seq2[[]byte, error] of chunks.
type Input struct {
	MailID      string
	Filename    string
	ContentType string
	CID         string
	Data        any
}

type Store struct {
	blobs    blob.Store
	metadata Metadata
}

func NewStore(blobs blob.Store, metadata Metadata) *Store {
	return &Store{blobs: blobs, metadata: metadata}
}

// Save stores the attachment unless the mail already has one with the same filename and size,
// in which case the existing row is returned.
func (s *Store) Save(ctx context.Context, in Input) (*models.Attachment, error) {
	if in.MailID == "" {
		return nil, errors.New("mail id is required")
	}
	data, err := readAll(in.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", in.Filename, err)
	}

	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		filename = "attachment"
	}
	size := int64(len(data))

	existing, err := s.metadata.FindAttachment(ctx, in.MailID, filename, size)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, db.ErrAttachmentNotFound) {
		return nil, err
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key, err := s.freeKey(ctx, in.MailID, filename, size)
	if err != nil {
		return nil, err
	}
	obj, err := s.blobs.Put(ctx, key, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store attachment %s: %w", filename, err)
	}

	attachment := &models.Attachment{
		MailID:   in.MailID,
		Filename: filename,
		Path:     obj.URL,
		Size:     obj.Size,
		MimeType: contentType,
		CID:      normalizeCID(in.CID),
	}
	if err := s.metadata.InsertAttachment(ctx, attachment); err != nil {
		return nil, err
	}
	return attachment, nil
}

// freeKey returns Key(mailID, filename) unless another attachment of the mail already lives
// there. Then it falls back to name-{size}.ext, name-{size}-2.ext and so on.
func (s *Store) freeKey(ctx context.Context, mailID, filename string, size int64) (string, error) {
	existing, err := s.metadata.ListAttachments(ctx, mailID)
	if err != nil {
		return "", fmt.Errorf("failed to list attachments of mail %s: %w", mailID, err)
	}
	taken := func(key string) bool {
		for _, a := range existing {
			if strings.HasSuffix(a.Path, "/"+key) {
				return true
			}
		}
		return false
	}

	key := Key(mailID, filename)
	if !taken(key) {
		return key, nil
	}
	ext := path.Ext(path.Base(key))
	base := strings.TrimSuffix(key, ext)
	candidate := fmt.Sprintf("%s-%d%s", base, size, ext)
	for n := 2; taken(candidate); n++ {
		candidate = fmt.Sprintf("%s-%d-%d%s", base, size, n, ext)
	}
	return candidate, nil
}

// Delete removes the attachment's payload from blob storage.
func (s *Store) Delete(ctx context.Context, attachment models.Attachment) error {
	if err := s.blobs.Delete(ctx, attachment.Path); err != nil {
		return fmt.Errorf("failed to delete attachment %s: %w", attachment.ID, err)
	}
	return nil
}

// Key returns the preferred blob key of an attachment: mail/{mailID}/{sanitized filename}.
func Key(mailID, filename string) string {
	return "mail/" + mailID + "/" + SanitizeFilename(filename)
}

// SanitizeFilename replaces every non-alphanumeric character of the base name with an
// underscore and keeps a simple extension.
func SanitizeFilename(filename string) string {
	filename = path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	ext := path.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	if !isAlnum(strings.TrimPrefix(ext, ".")) {
		base, ext = filename, ""
	}

	base = strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return '_'
	}, base)
	if strings.Trim(base, "_") == "" {
		base = "attachment"
	}
	return base + strings.ToLower(ext)
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func normalizeCID(cid string) string {
	cid = strings.TrimSpace(cid)
	cid = strings.TrimPrefix(cid, "<")
	return strings.TrimSuffix(cid, ">")
}

// readAll turns every supported data source into a single payload.
func readAll(data any) ([]byte, error) {
	switch d := data.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return d, nil
	case string:
		return []byte(d), nil
	case iter.Seq2[[]byte, error]:
		return collect(d)
	case func(yield func([]byte, error) bool):
		return collect(d)
	case io.Reader:
		if c, ok := d.(io.Closer); ok {
			defer c.Close()
		}
		return io.ReadAll(d)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedData, data)
	}
}

func collect(chunks iter.Seq2[[]byte, error]) ([]byte, error) {
	var buf bytes.Buffer
	for chunk, err := range chunks {
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}
