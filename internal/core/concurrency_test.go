package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"triagetree/pkg/domain"
)

func TestVersionIsChildCount(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	root := mustRoot(t, svc, "R")

	v, ok, err := svc.GetVersion(ctx, root)
	if err != nil || !ok || v.Version != 0 || v.ID != root {
		t.Fatalf("unexpected empty version %+v ok=%v err=%v", v, ok, err)
	}
	mustChild(t, svc, root, "A")
	mustChild(t, svc, root, "B")
	v, _, _ = svc.GetVersion(ctx, root)
	if v.Version != 2 {
		t.Fatalf("expected version 2, got %d", v.Version)
	}
	if _, ok, err := svc.GetVersion(ctx, 404); ok || err != nil {
		t.Fatalf("expected missing node to report ok=false, got ok=%v err=%v", ok, err)
	}

	match, current, err := svc.CheckVersionMatch(ctx, root, domain.IntPtr(2))
	if err != nil || !match || current != 2 {
		t.Fatalf("expected match at 2, got match=%v current=%d err=%v", match, current, err)
	}
	match, current, err = svc.CheckVersionMatch(ctx, root, domain.IntPtr(1))
	if err != nil || match || current != 2 {
		t.Fatalf("expected mismatch, got match=%v current=%d err=%v", match, current, err)
	}
	if match, _, err := svc.CheckVersionMatch(ctx, 404, nil); err != nil || !match {
		t.Fatalf("expected nil expectation to match a missing node, match=%v err=%v", match, err)
	}
	_, _, err = svc.CheckVersionMatch(ctx, 404, domain.IntPtr(0))
	requireCode(t, err, domain.ErrNodeNotFound)
}

func TestVersionConflictCarriesCurrentVersion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	root := mustRoot(t, svc, "R")
	child := mustChild(t, svc, root, "A")

	_, err := svc.DeleteSubtree(ctx, child, "ana", domain.IntPtr(3))
	var conflict *domain.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if conflict.NodeID != child || conflict.Expected != 3 || conflict.Current != 0 || conflict.Hint == "" {
		t.Fatalf("unexpected conflict %+v", conflict)
	}
}

func TestValidateConditionalHeader(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"3", 3, true},
		{" 0 ", 0, true},
		{`"4"`, 4, true},
		{"version:5", 5, true},
		{`W/"VERSION: 2"`, 2, true},
		{"", 0, false},
		{"-1", 0, false},
		{"version:", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		got, ok := ValidateConditionalHeader(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ValidateConditionalHeader(%q) = %d, %v; want %d, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestComputeAndMatchETag(t *testing.T) {
	a, err := ComputeETag(map[string]any{"b": 1, "a": []int{1, 2}})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	b, err := ComputeETag(struct {
		A []int `json:"a"`
		B int   `json:"b"`
	}{A: []int{1, 2}, B: 1})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if a != b || !strings.HasPrefix(a, `"`) || len(a) != 66 {
		t.Fatalf("expected equal quoted digests, got %s and %s", a, b)
	}
	c, _ := ComputeETag(map[string]any{"b": 2})
	if c == a {
		t.Fatalf("expected different payloads to differ")
	}
	if _, err := ComputeETag(make(chan int)); err == nil {
		t.Fatalf("expected unencodable payload to fail")
	}

	if !MatchETag("*", a) || !MatchETag(a, a) || !MatchETag(`"x", W/`+a, a) {
		t.Fatalf("expected header forms to match")
	}
	if MatchETag("", a) || MatchETag(c, a) || MatchETag("*", "") {
		t.Fatalf("expected non-matching headers to fail")
	}
}

type fakeETagCache struct {
	values      map[string]string
	invalidated []string
	gets        int
}

func newFakeETagCache() *fakeETagCache {
	return &fakeETagCache{values: make(map[string]string)}
}

func (f *fakeETagCache) Get(_ context.Context, key string) (string, bool, error) {
	f.gets++
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeETagCache) Set(_ context.Context, key, etag string) error {
	f.values[key] = etag
	return nil
}

func (f *fakeETagCache) Invalidate(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
		f.invalidated = append(f.invalidated, k)
	}
	return nil
}

func TestResourceETagCachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	cache := newFakeETagCache()
	svc := newTestService(t, WithETagCache(cache))
	root := mustRoot(t, svc, "R")

	loads := 0
	load := func(ctx context.Context) (any, error) {
		loads++
		return svc.ListChildren(ctx, root)
	}
	key := NodeETagKey(root)
	first, err := svc.ResourceETag(ctx, key, load)
	if err != nil {
		t.Fatalf("resource etag: %v", err)
	}
	second, err := svc.ResourceETag(ctx, key, load)
	if err != nil || second != first || loads != 1 {
		t.Fatalf("expected cached etag, got %s (loads=%d) err=%v", second, loads, err)
	}

	cache.invalidated = nil
	mustChild(t, svc, root, "A")
	if !equalStrings(cache.invalidated, []string{TreeETagKey, NodeETagKey(root), NodeETagKey(root + 1)}) {
		t.Fatalf("unexpected invalidated keys %v", cache.invalidated)
	}
	third, err := svc.ResourceETag(ctx, key, load)
	if err != nil || third == first || loads != 2 {
		t.Fatalf("expected a fresh etag after mutation, got %s (loads=%d) err=%v", third, loads, err)
	}

	_, err = svc.ResourceETag(ctx, "broken", func(context.Context) (any, error) {
		return nil, domain.NewError(domain.ErrNodeNotFound, "", nil)
	})
	requireCode(t, err, domain.ErrNodeNotFound)
	if _, ok := cache.values["broken"]; ok {
		t.Fatalf("expected failed load not to be cached")
	}
}
