package app

import (
	"context"
	"time"

	"prarambh-quiz-service/internal/domain"
)

// Review score values an admin may assign to a Round 3 submission.
const (
	ScoreAccepted = 4
	ScoreRejected = -1
)

// SubmissionLedger owns Round 3: track selection and locking, submission
// upserts, and the manual scoring path that feeds the aggregate Round 3
// attempt.
type SubmissionLedger struct {
	users UserStore
	subs  SubmissionStore
	now   func() time.Time
}

func NewSubmissionLedger(users UserStore, subs SubmissionStore) *SubmissionLedger {
	return &SubmissionLedger{users: users, subs: subs, now: time.Now}
}

// SetTrack selects or re-selects the user's Round 3 track. The choice is
// free until a submission exists under the previously chosen track; after
// that it is locked. Re-selecting the current track is a no-op.
func (l *SubmissionLedger) SetTrack(ctx context.Context, userID int64, track domain.Track) (domain.User, error) {
	if !track.Valid() {
		return domain.User{}, domain.ErrInvalidTrack
	}
	user, err := l.users.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !user.QualifiedForRound3 && !user.IsAdmin {
		return domain.User{}, domain.ErrNotQualified
	}
	if user.Round3Track == track {
		return user, nil
	}
	if user.Round3Track != domain.TrackNone {
		count, err := l.subs.CountSubmissions(ctx, userID, user.Round3Track)
		if err != nil {
			return domain.User{}, err
		}
		if count > 0 {
			return domain.User{}, domain.ErrTrackLocked
		}
	}
	user.Round3Track = track
	if err := l.users.SaveUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Submit upserts the user's artifact for a challenge. A resubmission, before
// or after review, replaces the payload and resets the scoring state for
// re-review.
func (l *SubmissionLedger) Submit(ctx context.Context, userID int64, challengeID string, track domain.Track, challengeName, payload, language string) (domain.Submission, error) {
	if !track.Valid() || challengeID == "" {
		return domain.Submission{}, domain.ErrInvalidSubmission
	}
	user, err := l.users.GetUser(ctx, userID)
	if err != nil {
		return domain.Submission{}, err
	}
	if !user.QualifiedForRound3 && !user.IsAdmin {
		return domain.Submission{}, domain.ErrNotQualified
	}
	if user.Round3Track != track {
		return domain.Submission{}, domain.ErrWrongTrack
	}
	if track != domain.TrackDSA {
		language = ""
	}

	return l.subs.UpsertSubmission(ctx, domain.Submission{
		UserID:        userID,
		ChallengeID:   challengeID,
		Track:         track,
		ChallengeName: challengeName,
		Payload:       payload,
		Language:      language,
		SubmittedAt:   l.now(),
	})
}

// Score applies an admin review verdict. The submission update, the user's
// total score and the aggregate Round 3 attempt move together in one
// transaction. Rescoring re-applies the delta: a resubmission, which resets
// the review state, is the path for correcting a verdict.
func (l *SubmissionLedger) Score(ctx context.Context, adminID, submissionID int64, value int) (domain.Submission, error) {
	admin, err := l.users.GetUser(ctx, adminID)
	if err != nil {
		return domain.Submission{}, err
	}
	if !admin.IsAdmin {
		return domain.Submission{}, domain.ErrNotAdmin
	}
	if value != ScoreAccepted && value != ScoreRejected {
		return domain.Submission{}, domain.ErrInvalidScoreValue
	}
	return l.subs.ApplySubmissionScore(ctx, submissionID, value, l.now())
}

// ListByUser returns the user's own submissions, optionally filtered by track.
func (l *SubmissionLedger) ListByUser(ctx context.Context, userID int64, track domain.Track) ([]domain.Submission, error) {
	if _, err := l.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return l.subs.ListSubmissionsByUser(ctx, userID, track)
}

// ListAll returns the full review queue with usernames, admin only.
func (l *SubmissionLedger) ListAll(ctx context.Context, adminID int64) ([]domain.SubmissionWithUser, error) {
	admin, err := l.users.GetUser(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if !admin.IsAdmin {
		return nil, domain.ErrNotAdmin
	}
	return l.subs.ListAllSubmissions(ctx)
}
