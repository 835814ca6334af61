package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"prarambh-quiz-service/internal/domain"
)

type attemptKey struct {
	userID   int64
	round    int
	language string
}

type submissionKey struct {
	userID      int64
	challengeID string
	track       domain.Track
}

// Repository is the in-memory implementation of app.Repository. It backs
// the test suites and the dev mode of the server when no postgres URL is
// configured. One mutex serializes everything, which also makes the
// qualification reservation trivially atomic.
type Repository struct {
	mu sync.RWMutex

	nextUserID       int64
	nextAttemptID    int64
	nextSubmissionID int64

	users       map[int64]domain.User
	attempts    map[attemptKey]domain.Attempt
	submissions map[submissionKey]domain.Submission
	gates       domain.RoundGates
	slots       []int64 // qualification slots in commit order
}

func NewRepository() *Repository {
	return &Repository{
		users:       make(map[int64]domain.User),
		attempts:    make(map[attemptKey]domain.Attempt),
		submissions: make(map[submissionKey]domain.Submission),
	}
}

// --- users ---

func (r *Repository) GetUser(_ context.Context, id int64) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *Repository) FindUserByEnrollment(_ context.Context, enrollmentNo string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.EnrollmentNo == enrollmentNo {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *Repository) FindUserByUsername(_ context.Context, username string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *Repository) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.EnrollmentNo == user.EnrollmentNo {
			return domain.User{}, domain.ErrEnrollmentTaken
		}
		if existing.Username == user.Username {
			return domain.User{}, domain.ErrUsernameTaken
		}
	}
	r.nextUserID++
	user.ID = r.nextUserID
	r.users[user.ID] = user
	return user, nil
}

func (r *Repository) SaveUser(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return domain.ErrUserNotFound
	}
	r.users[user.ID] = user
	return nil
}

func (r *Repository) ListUsers(_ context.Context) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedUsersLocked(false), nil
}

func (r *Repository) ListNonAdminUsers(_ context.Context) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedUsersLocked(true), nil
}

func (r *Repository) sortedUsersLocked(skipAdmins bool) []domain.User {
	users := make([]domain.User, 0, len(r.users))
	for _, user := range r.users {
		if skipAdmins && user.IsAdmin {
			continue
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// --- attempts ---

func (r *Repository) FindAttempt(_ context.Context, userID int64, round int, language string) (domain.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempt, ok := r.attempts[r.keyFor(userID, round, language)]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (r *Repository) ListAttempts(_ context.Context, userID int64) ([]domain.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var attempts []domain.Attempt
	for _, a := range r.attempts {
		if a.UserID == userID {
			attempts = append(attempts, a)
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].ID < attempts[j].ID })
	return attempts, nil
}

func (r *Repository) ListAllAttempts(_ context.Context) ([]domain.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts := make([]domain.Attempt, 0, len(r.attempts))
	for _, a := range r.attempts {
		attempts = append(attempts, a)
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].ID < attempts[j].ID })
	return attempts, nil
}

func (r *Repository) ListIncompleteAttempts(_ context.Context, round int) ([]domain.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var attempts []domain.Attempt
	for _, a := range r.attempts {
		if a.RoundNumber == round && !a.Completed {
			attempts = append(attempts, a)
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].ID < attempts[j].ID })
	return attempts, nil
}

func (r *Repository) SaveOpenAttempt(_ context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.keyFor(attempt.UserID, attempt.RoundNumber, attempt.Language)
	if existing, ok := r.attempts[key]; ok {
		if existing.Completed {
			return domain.Attempt{}, domain.ErrAlreadyAttempted
		}
		existing.Score = attempt.Score
		if attempt.TotalQuestions > 0 {
			existing.TotalQuestions = attempt.TotalQuestions
		}
		r.attempts[key] = existing
		return existing, nil
	}
	r.nextAttemptID++
	attempt.ID = r.nextAttemptID
	attempt.Completed = false
	r.attempts[key] = attempt
	return attempt, nil
}

func (r *Repository) FinalizeAttempt(_ context.Context, attempt domain.Attempt, unlockRound int) (domain.Attempt, domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[attempt.UserID]
	if !ok {
		return domain.Attempt{}, domain.User{}, domain.ErrUserNotFound
	}
	key := r.keyFor(attempt.UserID, attempt.RoundNumber, attempt.Language)
	if existing, ok := r.attempts[key]; ok {
		if existing.Completed {
			return domain.Attempt{}, domain.User{}, domain.ErrAlreadyAttempted
		}
		attempt.ID = existing.ID
	} else {
		r.nextAttemptID++
		attempt.ID = r.nextAttemptID
	}
	attempt.Completed = true
	r.attempts[key] = attempt

	// The fold reads the user under the write lock so concurrent finalizes
	// and submission scoring never lose an update.
	user.TotalScore += attempt.Score
	if unlockRound > user.CurrentRound {
		user.CurrentRound = unlockRound
	}
	r.users[user.ID] = user
	return attempt, user, nil
}

func (r *Repository) keyFor(userID int64, round int, language string) attemptKey {
	if round != domain.Round1 {
		language = ""
	}
	return attemptKey{userID: userID, round: round, language: language}
}

// --- gates ---

func (r *Repository) GetGates(_ context.Context) (domain.RoundGates, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gates, nil
}

func (r *Repository) SetGate(_ context.Context, round int, enabled bool, closedAt time.Time) (domain.RoundGates, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates = r.gates.WithRound(round, enabled)
	r.gates.Updated = closedAt

	closed := 0
	if !enabled {
		for key, a := range r.attempts {
			if a.RoundNumber != round || a.Completed {
				continue
			}
			a.Completed = true
			a.CompletedAt = closedAt
			r.attempts[key] = a
			if user, ok := r.users[a.UserID]; ok {
				user.TotalScore += a.Score
				r.users[user.ID] = user
			}
			closed++
		}
	}
	return r.gates, closed, nil
}

// --- qualification ---

func (r *Repository) ReserveQualificationSlot(_ context.Context, userID int64, cap int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return false, domain.ErrUserNotFound
	}
	if user.QualifiedForRound3 {
		return true, nil
	}
	if len(r.slots) >= cap {
		return false, nil
	}
	r.slots = append(r.slots, userID)
	user.QualifiedForRound3 = true
	user.CurrentRound = domain.Round3
	r.users[userID] = user
	return true, nil
}

// --- submissions ---

func (r *Repository) GetSubmission(_ context.Context, id int64) (domain.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.submissions {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.Submission{}, domain.ErrSubmissionNotFound
}

func (r *Repository) FindSubmission(_ context.Context, userID int64, challengeID string, track domain.Track) (domain.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.submissions[submissionKey{userID: userID, challengeID: challengeID, track: track}]
	if !ok {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return s, nil
}

func (r *Repository) CountSubmissions(_ context.Context, userID int64, track domain.Track) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.submissions {
		if s.UserID == userID && (track == domain.TrackNone || s.Track == track) {
			count++
		}
	}
	return count, nil
}

func (r *Repository) ListSubmissionsByUser(_ context.Context, userID int64, track domain.Track) ([]domain.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var subs []domain.Submission
	for _, s := range r.submissions {
		if s.UserID == userID && (track == domain.TrackNone || s.Track == track) {
			subs = append(subs, s)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (r *Repository) ListAllSubmissions(_ context.Context) ([]domain.SubmissionWithUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := make([]domain.SubmissionWithUser, 0, len(r.submissions))
	for _, s := range r.submissions {
		entry := domain.SubmissionWithUser{Submission: s}
		if user, ok := r.users[s.UserID]; ok {
			entry.Username = user.Username
		}
		subs = append(subs, entry)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (r *Repository) UpsertSubmission(_ context.Context, submission domain.Submission) (domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := submissionKey{userID: submission.UserID, challengeID: submission.ChallengeID, track: submission.Track}
	if existing, ok := r.submissions[key]; ok {
		submission.ID = existing.ID
	} else {
		r.nextSubmissionID++
		submission.ID = r.nextSubmissionID
	}
	submission.Scored = false
	submission.Score = 0
	r.submissions[key] = submission
	return submission, nil
}

func (r *Repository) ApplySubmissionScore(_ context.Context, submissionID int64, value int, scoredAt time.Time) (domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, s := range r.submissions {
		if s.ID != submissionID {
			continue
		}
		s.Scored = true
		s.Score = value
		r.submissions[key] = s

		user, ok := r.users[s.UserID]
		if !ok {
			return domain.Submission{}, domain.ErrUserNotFound
		}
		user.TotalScore += value
		r.users[user.ID] = user

		akey := r.keyFor(s.UserID, domain.Round3, "")
		aggregate, ok := r.attempts[akey]
		if !ok {
			r.nextAttemptID++
			aggregate = domain.Attempt{
				ID:          r.nextAttemptID,
				UserID:      s.UserID,
				RoundNumber: domain.Round3,
				Completed:   true,
			}
		}
		aggregate.Score += value
		if value > 0 {
			aggregate.TotalQuestions++
		}
		aggregate.CompletedAt = scoredAt
		r.attempts[akey] = aggregate
		return s, nil
	}
	return domain.Submission{}, domain.ErrSubmissionNotFound
}
