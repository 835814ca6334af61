package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"prarambh-quiz-service/internal/domain"
)

// LeaderboardCache stores the public (non-admin) projection between
// rebuilds. The redis implementation lives in internal/infra/redis.
type LeaderboardCache interface {
	Get(ctx context.Context) (domain.Leaderboard, bool)
	Set(ctx context.Context, lb domain.Leaderboard)
	Invalidate(ctx context.Context)
}

// LeaderboardView derives the ranked scoreboard from users and attempts.
// Non-admin viewers see only non-Round-3 contributions; admins see full
// totals plus qualification state. Only users with at least one attempt are
// listed. Ties keep ascending user ID order, the documented stable order.
type LeaderboardView struct {
	users    UserStore
	attempts AttemptStore
	cache    LeaderboardCache
	sf       singleflight.Group
	now      func() time.Time

	mu          sync.Mutex
	subscribers map[chan domain.Leaderboard]struct{}
}

func NewLeaderboardView(users UserStore, attempts AttemptStore, cache LeaderboardCache) *LeaderboardView {
	return &LeaderboardView{
		users:       users,
		attempts:    attempts,
		cache:       cache,
		now:         time.Now,
		subscribers: make(map[chan domain.Leaderboard]struct{}),
	}
}

// Build returns the projection appropriate for the viewer. Public rebuilds
// are deduplicated through singleflight and served from the cache when warm.
func (v *LeaderboardView) Build(ctx context.Context, viewer domain.User) (domain.Leaderboard, error) {
	if viewer.IsAdmin {
		return v.build(ctx, true)
	}
	if v.cache != nil {
		if lb, ok := v.cache.Get(ctx); ok {
			return lb, nil
		}
	}
	result, err, _ := v.sf.Do("public", func() (interface{}, error) {
		if v.cache != nil {
			if lb, ok := v.cache.Get(ctx); ok {
				return lb, nil
			}
		}
		lb, err := v.build(ctx, false)
		if err != nil {
			return domain.Leaderboard{}, err
		}
		if v.cache != nil {
			v.cache.Set(ctx, lb)
		}
		return lb, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

func (v *LeaderboardView) build(ctx context.Context, adminView bool) (domain.Leaderboard, error) {
	// Admins never rank publicly; the admin projection lists everyone.
	list := v.users.ListNonAdminUsers
	if adminView {
		list = v.users.ListUsers
	}
	users, err := list(ctx)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	attempts, err := v.attempts.ListAllAttempts(ctx)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	visible := make(map[int64]int)
	attempted := make(map[int64]bool)
	for _, a := range attempts {
		attempted[a.UserID] = true
		if a.RoundNumber != domain.Round3 {
			visible[a.UserID] += a.Score
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(users))
	for _, u := range users {
		if !attempted[u.ID] {
			continue
		}
		entry := domain.LeaderboardEntry{
			UserID:       u.ID,
			Username:     u.Username,
			EnrollmentNo: u.EnrollmentNo,
			CurrentRound: u.CurrentRound,
			Score:        visible[u.ID],
		}
		if adminView {
			entry.Score = u.TotalScore
			qualified := u.QualifiedForRound3
			entry.Qualified = &qualified
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return domain.Leaderboard{
		Entries:   entries,
		AdminView: adminView,
		UpdatedAt: v.now(),
	}, nil
}

// Subscribe hands out a channel of public leaderboard snapshots. The caller
// must invoke cancel to release the subscription.
func (v *LeaderboardView) Subscribe(ctx context.Context) (<-chan domain.Leaderboard, func(), error) {
	initial, err := v.Build(ctx, domain.User{})
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan domain.Leaderboard, 8)
	v.mu.Lock()
	v.subscribers[ch] = struct{}{}
	v.mu.Unlock()
	ch <- initial

	cancel := func() {
		v.mu.Lock()
		if _, ok := v.subscribers[ch]; ok {
			delete(v.subscribers, ch)
			close(ch)
		}
		v.mu.Unlock()
	}
	return ch, cancel, nil
}

// Publish drops the cached projection, rebuilds the public view and fans it
// out to subscribers. Slow subscribers get their stale frame replaced
// instead of blocking the broadcast.
func (v *LeaderboardView) Publish(ctx context.Context) {
	if v.cache != nil {
		v.cache.Invalidate(ctx)
	}
	lb, err := v.Build(ctx, domain.User{})
	if err != nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for ch := range v.subscribers {
		select {
		case ch <- lb:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}
