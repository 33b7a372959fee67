package storage_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/site-analytics-import/internal/storage"
)

func TestLocalStore_SaveOpenRoundtrip(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	ctx := context.Background()

	content := "session_id,url_path\ns-1,/home\n"
	if err := store.Save(ctx, "imports/imp-1/export.csv", strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	r, err := store.Open(ctx, "imports/imp-1/export.csv")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(data, []byte(content)) {
		t.Errorf("read %q, want %q", data, content)
	}
}

func TestLocalStore_DeleteIsIdempotent(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, "imports/imp-1/export.csv", strings.NewReader("data"), 4); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Delete(ctx, "imports/imp-1/export.csv"); err != nil {
		t.Fatalf("first Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "imports/imp-1/export.csv"); err != nil {
		t.Errorf("second Delete must succeed on a missing file: %v", err)
	}
	if err := store.Delete(ctx, "never/existed.csv"); err != nil {
		t.Errorf("Delete of a never-stored key must succeed: %v", err)
	}
}

func TestLocalStore_OpenMissingFile(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	if _, err := store.Open(context.Background(), "missing.csv"); err == nil {
		t.Error("expected an error opening a missing file")
	}
}
