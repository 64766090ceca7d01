package blob

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestFilesystemStore_PutGetDelete(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blobs")
	store, err := NewFilesystemStore(root, "")
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}

	ctx := context.Background()
	key := "mail/1/invoice.pdf"
	payload := []byte("hello")
	obj, err := store.Put(ctx, key, "application/pdf", payload)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.URL != "blob://local/mail/1/invoice.pdf" {
		t.Fatalf("unexpected url: %q", obj.URL)
	}
	if obj.Size != int64(len(payload)) {
		t.Fatalf("unexpected size: %d", obj.Size)
	}

	got, err := store.Get(ctx, obj.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("unexpected payload: %q", string(got))
	}

	if err := store.Delete(ctx, obj.URL); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = store.Get(ctx, obj.URL)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := store.Delete(ctx, obj.URL); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestFilesystemStore_KeepsKeysInsideRoot(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir(), "https://files.example.com/")
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}

	obj, err := store.Put(context.Background(), "../../etc/passwd", "text/plain", []byte("x"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.URL != "https://files.example.com/etc/passwd" {
		t.Fatalf("unexpected url: %q", obj.URL)
	}
}

func TestFilesystemStore_RejectsForeignURLs(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}

	err = store.Delete(context.Background(), "s3://bucket/mail/1/a.txt")
	if !errors.Is(err, ErrForeignURL) {
		t.Fatalf("expected ErrForeignURL, got %v", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	store, err := NewFromConfig(ctx, Config{FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if _, ok := store.(*FilesystemStore); !ok {
		t.Fatalf("expected filesystem store, got %T", store)
	}

	if _, err := NewFromConfig(ctx, Config{Backend: "s3"}); err == nil {
		t.Fatal("expected error for s3 without bucket")
	}
	if _, err := NewFromConfig(ctx, Config{Backend: "ftp"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
