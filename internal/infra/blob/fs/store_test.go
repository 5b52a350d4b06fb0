package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"triagetree/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return store
}

func TestStorePutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "exports/a/paths.ndjson", strings.NewReader("hello"), core.PutOptions{ContentType: "text/plain", Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "exports/a/paths.ndjson" || info.Size != 5 || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "exports/a/paths.ndjson", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	head, err := store.Head(ctx, "exports/a/paths.ndjson")
	if err != nil || head.ETag != info.ETag || head.Metadata["k"] != "v" || head.ContentType != "text/plain" {
		t.Fatalf("unexpected head %+v err=%v", head, err)
	}
	_, rc, err := store.Get(ctx, "exports/a/paths.ndjson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "exports", "a", "paths.ndjson.meta")); err != nil {
		t.Fatalf("expected sidecar on disk: %v", err)
	}

	if ok, err := store.Delete(ctx, "exports/a/paths.ndjson"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if ok, err := store.Delete(ctx, "exports/a/paths.ndjson"); err != nil || ok {
		t.Fatalf("expected second delete to report false")
	}
	if _, err := store.Head(ctx, "exports/a/paths.ndjson"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "exports/a/paths.ndjson"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestStoreListSortsAndFilters(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"run-2/b.json", "run-1/b.json", "run-1/a.json", "other.txt"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "run-1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "run-1/a.json" || list[1].Key != "run-1/b.json" {
		t.Fatalf("unexpected listing %+v", list)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 4 || all[0].Key != "other.txt" {
		t.Fatalf("unexpected full listing %+v err=%v", all, err)
	}
}

func TestStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "../escape.txt", "/abs.txt", "a/../b", "x.meta"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStorePutCopyFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "bad.bin", errorReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected copy error")
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp files to be removed, found %d entries", len(entries))
	}
}

func TestStoreCorruptSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	data := filepath.Join(store.Root(), "bad.txt")
	if err := os.WriteFile(data, []byte("data"), 0o644); err != nil {
		t.Fatalf("write data: %v", err)
	}
	if err := os.WriteFile(data+metaSuffix, []byte("{"), 0o644); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list error on corrupt sidecar")
	}
	if _, err := store.Head(ctx, "bad.txt"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(file); err == nil {
		t.Fatalf("expected error for a root that is a file")
	}
}
