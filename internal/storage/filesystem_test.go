package storage

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static", "test-secret")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	return store
}

func TestPutWritesFile(t *testing.T) {
	store := newTestStore(t)
	key, err := store.Put(context.Background(), "voices/user-1/sample.mp3", []byte("audio"))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if key != "voices/user-1/sample.mp3" {
		t.Fatalf("unexpected key: %s", key)
	}
	data, err := os.ReadFile(filepath.Join(store.BasePath(), "voices", "user-1", "sample.mp3"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != "audio" {
		t.Fatalf("unexpected content: %s", data)
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Put(context.Background(), "../outside.txt", []byte("x")); err == nil {
		t.Fatal("expected error for traversal key")
	}
	if _, err := store.Put(context.Background(), "a/../../outside.txt", []byte("x")); err == nil {
		t.Fatal("expected error for nested traversal key")
	}
}

func TestPresignVerifyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	signed, err := store.Presign("results/out.mp3", time.Minute)
	if err != nil {
		t.Fatalf("Presign error: %v", err)
	}
	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse presigned url: %v", err)
	}
	key := strings.TrimPrefix(u.Path, "/static/")
	if key != "results/out.mp3" {
		t.Fatalf("unexpected key in url: %s", key)
	}
	if err := store.Verify(key, u.Query()); err != nil {
		t.Fatalf("Verify error: %v", err)
	}
}

func TestVerifyRejectsTamperedKey(t *testing.T) {
	store := newTestStore(t)
	signed, err := store.Presign("results/mine.mp3", time.Minute)
	if err != nil {
		t.Fatalf("Presign error: %v", err)
	}
	u, _ := url.Parse(signed)
	if err := store.Verify("results/other.mp3", u.Query()); err == nil {
		t.Fatal("expected error for key swapped after signing")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	store := newTestStore(t)
	base := time.Now()
	store.now = func() time.Time { return base }

	signed, err := store.Presign("results/out.mp3", time.Minute)
	if err != nil {
		t.Fatalf("Presign error: %v", err)
	}
	u, _ := url.Parse(signed)

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	if err := store.Verify("results/out.mp3", u.Query()); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestNewFileStoreRequiresSecret(t *testing.T) {
	if _, err := NewFileStore(t.TempDir(), "http://localhost", ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
