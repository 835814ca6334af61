package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"prarambh-quiz-service/internal/domain"
)

const leaderboardKey = "leaderboard:public"

// LeaderboardCache stores the public leaderboard projection as a JSON value
// with a jittered TTL so rebuilds spread out instead of stampeding.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
	rnd    *rand.Rand
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *LeaderboardCache) Get(ctx context.Context) (domain.Leaderboard, bool) {
	raw, err := c.client.Get(ctx, leaderboardKey).Bytes()
	if err != nil {
		return domain.Leaderboard{}, false
	}
	var lb domain.Leaderboard
	if err := json.Unmarshal(raw, &lb); err != nil {
		return domain.Leaderboard{}, false
	}
	return lb, true
}

func (c *LeaderboardCache) Set(ctx context.Context, lb domain.Leaderboard) {
	raw, err := json.Marshal(lb)
	if err != nil {
		return
	}
	// best-effort cache write
	_ = c.client.Set(ctx, leaderboardKey, raw, c.ttlWithJitter()).Err()
}

func (c *LeaderboardCache) Invalidate(ctx context.Context) {
	_ = c.client.Del(ctx, leaderboardKey).Err()
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
