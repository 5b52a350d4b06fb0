package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// TreeETagKey caches representations that span the whole tree (reports,
// exports). Every committed mutation invalidates it.
const TreeETagKey = "tree"

// NodeETagKey is the cache key for representations of a single node and its
// children.
func NodeETagKey(id int64) string { return "node:" + formatID(id) }

// ETagCache stores computed ETags by resource key.
type ETagCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, etag string) error
	Invalidate(ctx context.Context, keys ...string) error
}

// ComputeETag hashes a key-sorted JSON rendering of v and returns it as a
// quoted strong validator.
func ComputeETag(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode etag payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("normalize etag payload: %w", err)
	}
	// encoding/json writes map keys in sorted order.
	normalized, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("encode etag payload: %w", err)
	}
	sum := sha256.Sum256(normalized)
	return `"` + hex.EncodeToString(sum[:]) + `"`, nil
}

// MatchETag reports whether an If-Match or If-None-Match header value matches
// etag. It accepts "*", comma separated lists, and weak validators.
func MatchETag(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" || etag == "" {
		return false
	}
	if header == "*" {
		return true
	}
	want := opaqueTag(etag)
	for _, candidate := range strings.Split(header, ",") {
		if opaqueTag(candidate) == want {
			return true
		}
	}
	return false
}

func opaqueTag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}

// ResourceETag returns the ETag of the representation produced by load,
// served from the cache when one is configured and warm.
func (s *Service) ResourceETag(ctx context.Context, key string, load func(context.Context) (any, error)) (string, error) {
	var etag string
	err := s.run(ctx, "resource_etag", func(ctx context.Context) error {
		if s.etags != nil {
			cached, ok, err := s.etags.Get(ctx, key)
			if err != nil {
				s.logger.Warn("etag cache read failed", "key", key, "error", err)
			} else if ok {
				etag = cached
				return nil
			}
		}
		value, err := load(ctx)
		if err != nil {
			return err
		}
		computed, err := ComputeETag(value)
		if err != nil {
			return err
		}
		etag = computed
		if s.etags != nil {
			if err := s.etags.Set(ctx, key, computed); err != nil {
				s.logger.Warn("etag cache write failed", "key", key, "error", err)
			}
		}
		return nil
	})
	return etag, err
}
