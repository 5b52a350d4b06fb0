package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"triagetree/internal/blob/core"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("expected memory driver")
	}
	md := map[string]string{"run": "1"}
	info, err := store.Put(ctx, "exports/run-1/paths.ndjson", strings.NewReader("{}\n"), core.PutOptions{ContentType: "application/x-ndjson", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	md["run"] = "changed"
	if info.Size != 3 || len(info.ETag) != 64 || info.Metadata["run"] != "1" {
		t.Fatalf("unexpected info %+v", info)
	}
	_, err = store.Put(ctx, "exports/run-1/paths.ndjson", strings.NewReader("x"), core.PutOptions{})
	if !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := store.Get(ctx, "exports/run-1/paths.ndjson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "{}\n" || got.ETag != info.ETag || got.ContentType != "application/x-ndjson" {
		t.Fatalf("unexpected get %+v %q", got, body)
	}
	got.Metadata["run"] = "mutated"
	head, err := store.Head(ctx, "exports/run-1/paths.ndjson")
	if err != nil || head.Metadata["run"] != "1" {
		t.Fatalf("expected stored metadata to be isolated, got %+v err=%v", head, err)
	}
}

func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := New()
	for _, key := range []string{"b/2", "a/1", "a/0", "c"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "a/")
	if err != nil || len(list) != 2 || list[0].Key != "a/0" || list[1].Key != "a/1" {
		t.Fatalf("unexpected prefix listing %+v err=%v", list, err)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 4 || all[3].Key != "c" {
		t.Fatalf("unexpected full listing %+v", all)
	}
	if ok, err := store.Delete(ctx, "a/0"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if ok, err := store.Delete(ctx, "a/0"); err != nil || ok {
		t.Fatalf("expected second delete to report false, ok=%v err=%v", ok, err)
	}
	if _, err := store.Head(ctx, "a/0"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "a/0"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStorePutFailures(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "bad", failingReader{}, core.PutOptions{}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected read error, got %v", err)
	}
	for _, key := range []string{"", "/abs", "a/../b", "a//b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.Put(cancelled, "late", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if list, _ := store.List(ctx, ""); len(list) != 0 {
		t.Fatalf("expected nothing stored, got %+v", list)
	}
}
