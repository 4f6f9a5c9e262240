package session

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestSaveAndConsumeRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveRefreshSession(ctx, "hash-1", "prf_1", "org_1", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	rs, err := store.ConsumeRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("ConsumeRefreshSession failed: %v", err)
	}
	if rs.ProfileID != "prf_1" || rs.OrgID != "org_1" {
		t.Errorf("unexpected session %+v", rs)
	}
	if !rs.ExpiresAt.Equal(expiresAt.UTC()) {
		t.Errorf("expires = %v, want %v", rs.ExpiresAt, expiresAt)
	}

	if _, err := store.ConsumeRefreshSession(ctx, "hash-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second consume: expected sql.ErrNoRows, got %v", err)
	}
}

func TestConsumeRefreshSessionOnceUnderContention(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	if err := store.SaveRefreshSession(ctx, "hash-race", "prf_1", "org_1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeRefreshSession(ctx, "hash-race"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("refresh token consumed %d times, want 1", wins)
	}
}

func TestConsumeExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-2", "prf_2", "org_1", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	_, err := store.ConsumeRefreshSession(ctx, "hash-2")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-3", "prf_3", "org_1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := store.RevokeRefreshSession(ctx, "hash-3"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.ConsumeRefreshSession(ctx, "hash-3"); err == nil {
		t.Fatal("expected revoked session to be unusable")
	}
}

func TestRevokeAccessToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	revoked, err := store.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("revoked = %v, err = %v", revoked, err)
	}

	s.FastForward(2 * time.Minute)
	revoked, err = store.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("after expiry revoked = %v, err = %v", revoked, err)
	}

	// Already-expired tokens are not stored.
	if err := store.RevokeAccessToken(ctx, "jti-2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	if revoked, _ := store.IsAccessTokenRevoked(ctx, "jti-2"); revoked {
		t.Fatal("expired token should not be recorded")
	}
}
