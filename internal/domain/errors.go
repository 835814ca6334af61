package domain

import "errors"

var (
	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrSubmissionNotFound is returned when a submission id is unknown.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrAttemptNotFound is returned by attempt lookups that miss.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAlreadyAttempted is returned when an attempt already exists for the
	// (user, round[, language]) key.
	ErrAlreadyAttempted = errors.New("round already attempted")
	// ErrRoundClosed is returned when the round's access gate is off for the user.
	ErrRoundClosed = errors.New("round access closed")
	// ErrNotAdmin is returned when a non-admin invokes an admin-only operation.
	ErrNotAdmin = errors.New("admin privileges required")
	// ErrNotQualified is returned when a user without Round 3 qualification
	// touches Round 3 operations.
	ErrNotQualified = errors.New("not qualified for round 3")
	// ErrWrongTrack is returned when a submission targets a track other than
	// the user's locked one.
	ErrWrongTrack = errors.New("submission track does not match selected track")
	// ErrTrackLocked is returned when a track switch is blocked by existing
	// submissions under the current track.
	ErrTrackLocked = errors.New("track locked by existing submissions")
	// ErrQualifierLimit is returned to a qualification race loser: the user
	// passed Round 2 but all qualifier slots were taken.
	ErrQualifierLimit = errors.New("qualifier limit reached")

	// ErrInvalidRound is returned for round numbers outside the competition.
	ErrInvalidRound = errors.New("invalid round number")
	// ErrInvalidTrack is returned for tracks outside {dsa, web}.
	ErrInvalidTrack = errors.New("invalid track")
	// ErrInvalidScoreValue is returned when a review score is not +4 or -1.
	ErrInvalidScoreValue = errors.New("score value must be +4 or -1")
	// ErrInvalidAttempt is returned for malformed attempt input.
	ErrInvalidAttempt = errors.New("invalid attempt data")
	// ErrInvalidSubmission is returned for malformed submission input.
	ErrInvalidSubmission = errors.New("invalid submission data")
	// ErrInvalidSignup is returned when signup fields are missing.
	ErrInvalidSignup = errors.New("enrollment number, username and password are required")

	// ErrEnrollmentTaken and ErrUsernameTaken guard signup uniqueness.
	ErrEnrollmentTaken = errors.New("enrollment number already exists")
	ErrUsernameTaken   = errors.New("username already exists")
	// ErrInvalidCredentials is returned on failed login.
	ErrInvalidCredentials = errors.New("invalid enrollment number or password")

	// ErrQuestionExists is returned when a question bank already holds the id.
	ErrQuestionExists = errors.New("question id already exists")
	// ErrInvalidQuestion is returned for malformed question bank entries.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrUnknownBank is returned for question bank kinds outside the
	// configured set.
	ErrUnknownBank = errors.New("unknown question bank")
)
