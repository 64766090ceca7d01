package attachments

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/werkbank/internal/blob"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/models"
)

type fakeMetadata struct {
	rows []*models.Attachment
}

func (f *fakeMetadata) FindAttachment(_ context.Context, mailID, filename string, size int64) (*models.Attachment, error) {
	for _, a := range f.rows {
		if a.MailID == mailID && a.Filename == filename && a.Size == size {
			return a, nil
		}
	}
	return nil, db.ErrAttachmentNotFound
}

func (f *fakeMetadata) ListAttachments(_ context.Context, mailID string) ([]models.Attachment, error) {
	var out []models.Attachment
	for _, a := range f.rows {
		if a.MailID == mailID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeMetadata) InsertAttachment(_ context.Context, attachment *models.Attachment) error {
	attachment.ID = "att-" + attachment.Filename
	f.rows = append(f.rows, attachment)
	return nil
}

type countingBlobs struct {
	blob.Store
	puts int
	err  error
}

func (c *countingBlobs) Put(ctx context.Context, key, contentType string, body []byte) (blob.Object, error) {
	c.puts++
	if c.err != nil {
		return blob.Object{}, c.err
	}
	return c.Store.Put(ctx, key, contentType, body)
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func newTestStore(t *testing.T) (*Store, *countingBlobs, *fakeMetadata) {
	t.Helper()
	fs, err := blob.NewFilesystemStore(t.TempDir(), "")
	require.NoError(t, err)
	blobs := &countingBlobs{Store: fs}
	meta := &fakeMetadata{}
	return NewStore(blobs, meta), blobs, meta
}

func TestSave(t *testing.T) {
	ctx := context.Background()

	t.Run("stores payload and metadata", func(t *testing.T) {
		store, blobs, meta := newTestStore(t)

		a, err := store.Save(ctx, Input{
			MailID:      "m1",
			Filename:    "Korpus Skizze.PDF",
			ContentType: "application/pdf",
			CID:         "<sketch@local>",
			Data:        []byte("%PDF-1.4"),
		})
		require.NoError(t, err)

		assert.Equal(t, "blob://local/mail/m1/Korpus_Skizze.pdf", a.Path)
		assert.Equal(t, int64(8), a.Size)
		assert.Equal(t, "sketch@local", a.CID)
		assert.Equal(t, 1, blobs.puts)
		assert.Len(t, meta.rows, 1)

		data, err := blobs.Get(ctx, a.Path)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4", string(data))
	})

	t.Run("deduplicates by filename and size", func(t *testing.T) {
		store, blobs, meta := newTestStore(t)
		in := Input{MailID: "m1", Filename: "hals.jpg", ContentType: "image/jpeg", Data: "jpeg-bytes"}

		first, err := store.Save(ctx, in)
		require.NoError(t, err)
		second, err := store.Save(ctx, in)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, blobs.puts, "duplicate must not reach blob storage")
		assert.Len(t, meta.rows, 1)
	})

	t.Run("keeps same-named attachments apart", func(t *testing.T) {
		store, blobs, meta := newTestStore(t)

		first, err := store.Save(ctx, Input{MailID: "m1", Filename: "image.jpg", Data: "FIRST-PHOTO"})
		require.NoError(t, err)
		second, err := store.Save(ctx, Input{MailID: "m1", Filename: "image.jpg", Data: "SECOND-PHOTO-LONGER"})
		require.NoError(t, err)

		assert.Equal(t, "blob://local/mail/m1/image.jpg", first.Path)
		assert.Equal(t, "blob://local/mail/m1/image-19.jpg", second.Path)
		assert.Len(t, meta.rows, 2)

		data, err := blobs.Get(ctx, first.Path)
		require.NoError(t, err)
		assert.Equal(t, "FIRST-PHOTO", string(data))
		data, err = blobs.Get(ctx, second.Path)
		require.NoError(t, err)
		assert.Equal(t, "SECOND-PHOTO-LONGER", string(data))
	})

	t.Run("keeps names that sanitize alike apart", func(t *testing.T) {
		store, _, _ := newTestStore(t)

		var paths []string
		for _, name := range []string{"a b.pdf", "a_b.pdf", "a+b.pdf"} {
			a, err := store.Save(ctx, Input{MailID: "m1", Filename: name, Data: "x"})
			require.NoError(t, err)
			paths = append(paths, a.Path)
		}

		assert.Equal(t, []string{
			"blob://local/mail/m1/a_b.pdf",
			"blob://local/mail/m1/a_b-1.pdf",
			"blob://local/mail/m1/a_b-1-2.pdf",
		}, paths)
	})

	t.Run("reads and closes readers", func(t *testing.T) {
		store, _, _ := newTestStore(t)
		reader := &closeTracker{Reader: strings.NewReader("streamed")}

		a, err := store.Save(ctx, Input{MailID: "m1", Filename: "a.txt", Data: reader})
		require.NoError(t, err)
		assert.Equal(t, int64(8), a.Size)
		assert.True(t, reader.closed)
		assert.Equal(t, "application/octet-stream", a.MimeType)
	})

	t.Run("collects chunked producers", func(t *testing.T) {
		store, _, _ := newTestStore(t)
		chunks := func(yield func([]byte, error) bool) {
			for _, c := range []string{"ab", "cd", "ef"} {
				if !yield([]byte(c), nil) {
					return
				}
			}
		}

		a, err := store.Save(ctx, Input{MailID: "m1", Filename: "a.bin", Data: iter.Seq2[[]byte, error](chunks)})
		require.NoError(t, err)
		assert.Equal(t, int64(6), a.Size)

		b, err := store.Save(ctx, Input{MailID: "m1", Filename: "b.bin", Data: chunks})
		require.NoError(t, err)
		assert.Equal(t, int64(6), b.Size)
	})

	t.Run("propagates producer errors", func(t *testing.T) {
		store, blobs, _ := newTestStore(t)
		broken := func(yield func([]byte, error) bool) {
			yield(nil, errors.New("stream reset"))
		}

		_, err := store.Save(ctx, Input{MailID: "m1", Filename: "a.bin", Data: broken})
		assert.Error(t, err)
		assert.Zero(t, blobs.puts)
	})

	t.Run("propagates blob errors", func(t *testing.T) {
		store, blobs, meta := newTestStore(t)
		blobs.err = errors.New("bucket unavailable")

		_, err := store.Save(ctx, Input{MailID: "m1", Filename: "a.bin", Data: "x"})
		assert.Error(t, err)
		assert.Empty(t, meta.rows)
	})

	t.Run("rejects unsupported data", func(t *testing.T) {
		store, _, _ := newTestStore(t)

		_, err := store.Save(ctx, Input{MailID: "m1", Filename: "a.bin", Data: 42})
		assert.ErrorIs(t, err, ErrUnsupportedData)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store, blobs, _ := newTestStore(t)

	a, err := store.Save(ctx, Input{MailID: "m1", Filename: "a.txt", Data: "x"})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, *a))

	_, err = blobs.Get(ctx, a.Path)
	assert.ErrorIs(t, err, blob.ErrObjectNotFound)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"Rechnung März 2025.pdf", "Rechnung_M_rz_2025.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\anna\scan.PNG`, "scan.png"},
		{"my file.tar.gz", "my_file_tar.gz"},
		{"", "attachment"},
		{"???.jpg", "attachment.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.in))
		})
	}
}
