package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	locker, err := NewRedisLocker("redis://"+s.Addr(), nil)
	if err != nil {
		t.Fatalf("failed to create redis locker: %v", err)
	}
	t.Cleanup(func() { _ = locker.Close() })
	return locker, s
}

func TestNewRedisLockerBadURL(t *testing.T) {
	if _, err := NewRedisLocker("not a url", nil); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestRedisLockerExclusive(t *testing.T) {
	locker, s := setupTestRedis(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "merge:a:b", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !s.Exists("lock:merge:a:b") {
		t.Fatal("expected lock key in redis")
	}
	if ttl := s.TTL("lock:merge:a:b"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("unexpected ttl %v", ttl)
	}

	if _, err := locker.Acquire(ctx, "merge:a:b", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire error = %v, want ErrLocked", err)
	}
	other, err := locker.Acquire(ctx, "merge:a:c", time.Minute)
	if err != nil {
		t.Fatalf("Acquire on other key failed: %v", err)
	}
	other()

	release()
	if s.Exists("lock:merge:a:b") {
		t.Fatal("expected lock key to be released")
	}
	again, err := locker.Acquire(ctx, "merge:a:b", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	again()
}

func TestRedisLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	locker, s := setupTestRedis(t)
	ctx := context.Background()

	staleRelease, err := locker.Acquire(ctx, "merge:a:b", time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	release, err := locker.Acquire(ctx, "merge:a:b", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry failed: %v", err)
	}
	staleRelease()
	if !s.Exists("lock:merge:a:b") {
		t.Fatal("stale release removed the new holder's lock")
	}
	release()
}

func TestRedisLockerUnavailable(t *testing.T) {
	locker, s := setupTestRedis(t)
	s.Close()
	if _, err := locker.Acquire(context.Background(), "merge:a:b", time.Minute); err == nil || errors.Is(err, ErrLocked) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := locker.Acquire(ctx, "k", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire error = %v, want ErrLocked", err)
	}

	now = now.Add(2 * time.Minute)
	next, err := locker.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry failed: %v", err)
	}
	release()
	if _, err := locker.Acquire(ctx, "k", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatal("stale release freed the new holder's lock")
	}
	next()
	final, err := locker.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	final()
}
