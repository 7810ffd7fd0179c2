package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLockIsExclusiveAcrossOwners(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	key := client.PaymentSessionKey("ord-1")

	first, err := NewLock(client, key, time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewLock(client, key, time.Minute)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := first.Acquire(ctx); !ok {
		t.Fatalf("re-acquire by the owner must succeed")
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatalf("second owner must not acquire")
	}

	if err := second.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatalf("non-owner release must not free the lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestLockRefreshOnlyWhenHeld(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	lock, _ := NewLock(client, "k", 0)

	if err := lock.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(mock.expireCalls) != 0 {
		t.Fatalf("refresh without ownership must not touch redis")
	}
	if _, err := lock.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lock.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(mock.expireCalls) != 1 || mock.expireCalls[0].ttl != defaultLockTTL {
		t.Fatalf("unexpected expire calls %+v", mock.expireCalls)
	}
}

func TestNewLockValidates(t *testing.T) {
	if _, err := NewLock(nil, "k", time.Second); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := NewLock(&Client{}, "", time.Second); err == nil {
		t.Fatal("expected key error")
	}
}

func TestLockRefreshReportsLostLock(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	lock, _ := NewLock(client, "k", time.Minute)

	if ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	// the key expired and another instance took it
	mock.data["k"] = "someone-else"

	if err := lock.Refresh(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected ErrLockLost, got %v", err)
	}
	if ok, _ := lock.Acquire(ctx); ok {
		t.Fatalf("lost lock must be re-acquired through redis, not from local state")
	}
}
