package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTokenBucket(client, capacity, refill, time.Minute), mr
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 2, 1)
	frozen := time.UnixMilli(1_700_000_000_000)
	bucket.now = func() time.Time { return frozen }

	allowed, left, err := bucket.Allow(ctx, "alice")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	if left != 1 {
		t.Fatalf("expected 1 token left, got %v", left)
	}
	allowed, _, _ = bucket.Allow(ctx, "alice")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "alice")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// Buckets are per subject.
	if allowed, _, _ = bucket.Allow(ctx, "bob"); !allowed {
		t.Fatalf("expected another subject to have its own bucket")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 1, 2)
	clock := time.UnixMilli(1_700_000_000_000)
	bucket.now = func() time.Time { return clock }

	if allowed, _, _ := bucket.Allow(ctx, "alice"); !allowed {
		t.Fatalf("expected first token allowed")
	}
	if allowed, _, _ := bucket.Allow(ctx, "alice"); allowed {
		t.Fatalf("expected empty bucket")
	}

	// The script takes time from the caller, so advancing the clock refills.
	clock = clock.Add(250 * time.Millisecond)
	allowed, left, err := bucket.Allow(ctx, "alice")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatalf("half a token must not be enough, left=%v", left)
	}
	clock = clock.Add(250 * time.Millisecond)
	if allowed, _, _ := bucket.Allow(ctx, "alice"); !allowed {
		t.Fatalf("expected refilled token after 500ms at 2/s")
	}
}

func TestSubjectHidesToken(t *testing.T) {
	token := "eyJ0eXAiOiJKV1Qi-secret"
	s := Subject(token)
	if strings.Contains(s, "secret") || len(s) != 24 {
		t.Fatalf("unexpected subject %q", s)
	}
	if Subject(token) != s || Subject("other") == s {
		t.Fatalf("subject must be stable and distinct per token")
	}
}
