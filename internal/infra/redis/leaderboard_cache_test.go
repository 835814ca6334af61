package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prarambh-quiz-service/internal/domain"
)

func newTestCache(t *testing.T, ttl time.Duration) (*LeaderboardCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLeaderboardCache(client, ttl), mr
}

func TestLeaderboardCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t, time.Minute)

	if _, ok := cache.Get(ctx); ok {
		t.Fatalf("expected miss on empty cache")
	}

	lb := domain.Leaderboard{
		Entries: []domain.LeaderboardEntry{
			{Rank: 1, UserID: 2, Username: "bob", Score: 15},
			{Rank: 2, UserID: 1, Username: "alice", Score: 12},
		},
		UpdatedAt: time.Now().UTC(),
	}
	cache.Set(ctx, lb)
	if !mr.Exists("leaderboard:public") {
		t.Fatalf("expected redis key to be set")
	}

	got, ok := cache.Get(ctx)
	if !ok {
		t.Fatalf("expected hit after set")
	}
	if len(got.Entries) != 2 || got.Entries[0].Username != "bob" {
		t.Fatalf("expected cached entries back, got %+v", got.Entries)
	}

	cache.Invalidate(ctx)
	if mr.Exists("leaderboard:public") {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestLeaderboardCacheExpires(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t, time.Minute)

	cache.Set(ctx, domain.Leaderboard{})
	// The jitter stays within 10% of the base TTL.
	mr.FastForward(time.Minute + time.Minute/10)

	if _, ok := cache.Get(ctx); ok {
		t.Fatalf("expected miss after TTL")
	}
}

func TestLeaderboardCacheIgnoresCorruptValue(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t, time.Minute)

	if err := mr.Set("leaderboard:public", "{not json"); err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}
	if _, ok := cache.Get(ctx); ok {
		t.Fatalf("expected corrupt value to be treated as miss")
	}
}
