package app

import (
	"context"
	"errors"
	"time"

	"prarambh-quiz-service/internal/domain"
)

// PassRules carries the configurable per-round pass thresholds. Round 1 is
// fractional, Round 2 is an absolute score; the asymmetry is deliberate.
type PassRules struct {
	Round1PassPercent int
	Round2PassScore   int
}

// DefaultPassRules returns the competition defaults: 60% for Round 1 and an
// absolute 10 points for Round 2.
func DefaultPassRules() PassRules {
	return PassRules{Round1PassPercent: 60, Round2PassScore: 10}
}

// Passed applies the threshold for the given round. Integer math keeps the
// boundary exact: 12/20 meets a 60% threshold, 11/20 does not.
func (r PassRules) Passed(round, score, totalQuestions int) bool {
	switch round {
	case domain.Round1:
		return totalQuestions > 0 && score*100 >= totalQuestions*r.Round1PassPercent
	case domain.Round2:
		return score >= r.Round2PassScore
	}
	return false
}

// AttemptResult is what RecordAttempt hands back to the API layer.
type AttemptResult struct {
	Attempt   domain.Attempt `json:"attempt"`
	Passed    bool           `json:"passed"`
	Qualified bool           `json:"qualified"`
	User      domain.User    `json:"user"`
}

// Scorer validates, persists and scores quiz attempts for Rounds 1 and 2.
// Round 3 scoring runs through the SubmissionLedger accumulator instead.
type Scorer struct {
	users    UserStore
	attempts AttemptStore
	gates    GateStore
	qual     *QualificationEngine
	rules    PassRules
	now      func() time.Time
}

func NewScorer(users UserStore, attempts AttemptStore, gates GateStore, qual *QualificationEngine, rules PassRules) *Scorer {
	return &Scorer{
		users:    users,
		attempts: attempts,
		gates:    gates,
		qual:     qual,
		rules:    rules,
		now:      time.Now,
	}
}

// RecordAttempt finalizes a scored attempt. The attempt row, the score
// update and any round unlock are written as one storage transaction; a
// duplicate key leaves no state behind. A passing Round 2 attempt then runs
// the qualification reservation, which is its own atomic unit: a recorded
// pass that loses the slot race stays recorded, unqualified.
func (s *Scorer) RecordAttempt(ctx context.Context, userID int64, round int, language string, score, totalQuestions int) (AttemptResult, error) {
	if round != domain.Round1 && round != domain.Round2 {
		return AttemptResult{}, domain.ErrInvalidRound
	}
	if score < 0 || totalQuestions <= 0 || score > totalQuestions {
		return AttemptResult{}, domain.ErrInvalidAttempt
	}
	if round != domain.Round1 {
		// Language only keys Round 1 attempts.
		language = ""
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return AttemptResult{}, err
	}
	if err := s.checkAccess(ctx, user, round); err != nil {
		return AttemptResult{}, err
	}
	if err := s.checkDuplicate(ctx, userID, round, language); err != nil {
		return AttemptResult{}, err
	}

	passed := s.rules.Passed(round, score, totalQuestions)
	now := s.now()
	attempt := domain.Attempt{
		UserID:         userID,
		RoundNumber:    round,
		Language:       language,
		Score:          score,
		TotalQuestions: totalQuestions,
		Completed:      true,
		CompletedAt:    now,
	}

	unlockRound := 0
	if passed && round == domain.Round1 {
		unlockRound = domain.Round2
	}

	saved, updated, err := s.attempts.FinalizeAttempt(ctx, attempt, unlockRound)
	if err != nil {
		return AttemptResult{}, err
	}

	result := AttemptResult{Attempt: saved, Passed: passed, User: updated}
	if passed && round == domain.Round2 {
		qualified, err := s.qual.TryQualify(ctx, userID)
		if err != nil {
			return AttemptResult{}, err
		}
		result.Qualified = qualified
		if qualified {
			result.User.QualifiedForRound3 = true
			result.User.CurrentRound = domain.Round3
		}
	}
	return result, nil
}

// BeginAttempt opens an in-progress attempt with a zero score so that an
// admin gate close can finalize it later without losing partial work.
// Re-entering an open attempt resumes it; a completed one is a duplicate.
func (s *Scorer) BeginAttempt(ctx context.Context, userID int64, round int, language string, totalQuestions int) (domain.Attempt, error) {
	if round != domain.Round1 && round != domain.Round2 {
		return domain.Attempt{}, domain.ErrInvalidRound
	}
	if totalQuestions <= 0 {
		return domain.Attempt{}, domain.ErrInvalidAttempt
	}
	if round != domain.Round1 {
		language = ""
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if err := s.checkAccess(ctx, user, round); err != nil {
		return domain.Attempt{}, err
	}

	return s.attempts.SaveOpenAttempt(ctx, domain.Attempt{
		UserID:         userID,
		RoundNumber:    round,
		Language:       language,
		TotalQuestions: totalQuestions,
	})
}

// SaveProgress records the running score of an open attempt.
func (s *Scorer) SaveProgress(ctx context.Context, userID int64, round int, language string, score int) (domain.Attempt, error) {
	if round != domain.Round1 && round != domain.Round2 {
		return domain.Attempt{}, domain.ErrInvalidRound
	}
	if score < 0 {
		return domain.Attempt{}, domain.ErrInvalidAttempt
	}
	if round != domain.Round1 {
		language = ""
	}

	open, err := s.attempts.FindAttempt(ctx, userID, round, language)
	if err != nil {
		return domain.Attempt{}, err
	}
	if open.Completed {
		return domain.Attempt{}, domain.ErrAlreadyAttempted
	}
	open.Score = score
	return s.attempts.SaveOpenAttempt(ctx, open)
}

func (s *Scorer) checkAccess(ctx context.Context, user domain.User, round int) error {
	gates, err := s.gates.GetGates(ctx)
	if err != nil {
		return err
	}
	if !user.CanAccessRound(round, gates) {
		return domain.ErrRoundClosed
	}
	return nil
}

func (s *Scorer) checkDuplicate(ctx context.Context, userID int64, round int, language string) error {
	existing, err := s.attempts.FindAttempt(ctx, userID, round, language)
	switch {
	case err == nil:
		if existing.Completed {
			return domain.ErrAlreadyAttempted
		}
		return nil
	case errors.Is(err, domain.ErrAttemptNotFound):
		return nil
	default:
		return err
	}
}
