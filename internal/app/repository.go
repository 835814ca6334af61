package app

import (
	"context"
	"time"

	"prarambh-quiz-service/internal/domain"
)

// UserStore holds registered accounts.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (domain.User, error)
	FindUserByEnrollment(ctx context.Context, enrollmentNo string) (domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	SaveUser(ctx context.Context, user domain.User) error
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListNonAdminUsers(ctx context.Context) ([]domain.User, error)
}

// AttemptStore holds quiz attempts. Implementations must enforce the
// one-attempt-per-(user, round[, language]) key with a storage-level
// constraint; the services only pre-check it.
type AttemptStore interface {
	FindAttempt(ctx context.Context, userID int64, round int, language string) (domain.Attempt, error)
	ListAttempts(ctx context.Context, userID int64) ([]domain.Attempt, error)
	ListAllAttempts(ctx context.Context) ([]domain.Attempt, error)
	ListIncompleteAttempts(ctx context.Context, round int) ([]domain.Attempt, error)

	// SaveOpenAttempt creates or updates an in-progress attempt for the
	// attempt's key. A completed attempt under the same key yields
	// domain.ErrAlreadyAttempted.
	SaveOpenAttempt(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error)

	// FinalizeAttempt writes the completed attempt and, in the same
	// transaction, adds attempt.Score to the owner's stored total. The fold
	// is a relative update so concurrent finalizes against one user cannot
	// overwrite each other. A non-zero unlockRound raises the user's current
	// round to at least that round; it is never lowered. A previously
	// completed attempt under the same key yields domain.ErrAlreadyAttempted
	// and no state change. Returns the attempt and the user as persisted.
	FinalizeAttempt(ctx context.Context, attempt domain.Attempt, unlockRound int) (domain.Attempt, domain.User, error)
}

// GateStore holds the global per-round access gates.
type GateStore interface {
	GetGates(ctx context.Context) (domain.RoundGates, error)

	// SetGate toggles one round's gate. When disabling, every incomplete
	// attempt for that round is finalized in the same transaction, keeping
	// its partial score and folding it into the owner's total. Returns the
	// new gates and the number of attempts closed.
	SetGate(ctx context.Context, round int, enabled bool, closedAt time.Time) (domain.RoundGates, int, error)
}

// QualificationStore reserves the limited Round 3 qualifier slots.
type QualificationStore interface {
	// ReserveQualificationSlot atomically counts current qualifiers and, if
	// below cap, admits the user (setting QualifiedForRound3 and
	// CurrentRound=3 in the same unit). Exactly one of two racing callers
	// may take the final slot; the loser gets (false, nil).
	ReserveQualificationSlot(ctx context.Context, userID int64, cap int) (bool, error)
}

// SubmissionStore holds Round 3 submissions.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, id int64) (domain.Submission, error)
	FindSubmission(ctx context.Context, userID int64, challengeID string, track domain.Track) (domain.Submission, error)
	CountSubmissions(ctx context.Context, userID int64, track domain.Track) (int, error)
	ListSubmissionsByUser(ctx context.Context, userID int64, track domain.Track) ([]domain.Submission, error)
	ListAllSubmissions(ctx context.Context) ([]domain.SubmissionWithUser, error)

	// UpsertSubmission creates or replaces the submission under its
	// (user, challenge, track) key, resetting any earlier scoring.
	UpsertSubmission(ctx context.Context, submission domain.Submission) (domain.Submission, error)

	// ApplySubmissionScore marks the submission scored with value and, in
	// the same transaction, adds value to the owner's total score and folds
	// it into the single aggregate Round 3 attempt.
	ApplySubmissionScore(ctx context.Context, submissionID int64, value int, scoredAt time.Time) (domain.Submission, error)
}

// Repository is the full persistence contract; both the in-memory and the
// postgres implementations satisfy it. Services depend only on the narrow
// slices above.
type Repository interface {
	UserStore
	AttemptStore
	GateStore
	QualificationStore
	SubmissionStore
}

// QuestionStore serves quiz content from the file-backed question banks.
// The core never depends on the on-disk layout.
type QuestionStore interface {
	List(ctx context.Context, kind string) ([]domain.Question, error)
	Add(ctx context.Context, kind string, question domain.Question) (domain.Question, error)
	Exists(ctx context.Context, kind string, id int) (bool, error)
}
