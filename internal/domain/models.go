package domain

import "time"

// Track is the Round 3 specialization a qualifier commits to.
type Track string

const (
	TrackNone Track = ""
	TrackDSA  Track = "dsa"
	TrackWeb  Track = "web"
)

// Valid reports whether the track is one of the two selectable tracks.
func (t Track) Valid() bool {
	return t == TrackDSA || t == TrackWeb
}

// Round numbers used throughout the competition.
const (
	Round1 = 1
	Round2 = 2
	Round3 = 3
)

// User is a registered competitor or administrator.
type User struct {
	ID                 int64     `json:"id"`
	EnrollmentNo       string    `json:"enrollment_no"`
	Username           string    `json:"username"`
	PasswordHash       string    `json:"-"`
	IsAdmin            bool      `json:"is_admin"`
	CurrentRound       int       `json:"current_round"`
	Round3Track        Track     `json:"round3_track"`
	QualifiedForRound3 bool      `json:"qualified_for_round3"`
	TotalScore         int       `json:"total_score"`
	RegisteredAt       time.Time `json:"registered_at"`
}

// CanAccessRound reports whether the user may enter the given round.
// Admins bypass the gates entirely.
func (u User) CanAccessRound(round int, gates RoundGates) bool {
	if u.IsAdmin {
		return true
	}
	return gates.Open(round)
}

// RoundGates are the global admin-controlled access switches, one per round.
// No per-user access is stored; a user's effective view of a round is
// derived on every check as admin-or-gate-open (see CanAccessRound).
// AllOpen is derived and informational only; nothing may gate on it.
type RoundGates struct {
	Round1  bool      `json:"round1"`
	Round2  bool      `json:"round2"`
	Round3  bool      `json:"round3"`
	AllOpen bool      `json:"all_open"`
	Updated time.Time `json:"updated_at"`
}

// Open reports the gate state for a round. Unknown rounds are closed.
func (g RoundGates) Open(round int) bool {
	switch round {
	case Round1:
		return g.Round1
	case Round2:
		return g.Round2
	case Round3:
		return g.Round3
	}
	return false
}

// WithRound returns a copy with the given round's gate set and the derived
// AllOpen flag recomputed.
func (g RoundGates) WithRound(round int, enabled bool) RoundGates {
	switch round {
	case Round1:
		g.Round1 = enabled
	case Round2:
		g.Round2 = enabled
	case Round3:
		g.Round3 = enabled
	}
	g.AllOpen = g.Round1 && g.Round2 && g.Round3
	return g
}

// Attempt is the scored record of a user taking one round's quiz.
// At most one attempt exists per (user, round), additionally keyed by
// language for Round 1. The Round 3 attempt is an accumulator fed by
// submission scoring rather than a one-shot record.
type Attempt struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	RoundNumber    int       `json:"round_number"`
	Language       string    `json:"language,omitempty"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"total_questions"`
	Completed      bool      `json:"completed"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Submission is a Round 3 code or web artifact awaiting manual review.
// Resubmitting under the same (user, challenge, track) key replaces the
// payload and resets any earlier scoring.
type Submission struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	ChallengeID   string    `json:"challenge_id"`
	Track         Track     `json:"track"`
	ChallengeName string    `json:"challenge_name"`
	Payload       string    `json:"payload"`
	Language      string    `json:"language,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Scored        bool      `json:"scored"`
	Score         int       `json:"score"`
}

// SubmissionWithUser pairs a submission with its owner's username for the
// admin review queue.
type SubmissionWithUser struct {
	Submission
	Username string `json:"username"`
}

// LeaderboardEntry is one ranked row of the scoreboard projection.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	EnrollmentNo string `json:"enrollment_no"`
	CurrentRound int    `json:"current_round"`
	Score        int    `json:"score"`
	Qualified    *bool  `json:"qualified_for_round3,omitempty"`
}

// Leaderboard is the ranked projection over users and their attempts.
type Leaderboard struct {
	Entries   []LeaderboardEntry `json:"entries"`
	AdminView bool               `json:"admin_view"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Question is an MCQ entry in the file-backed question bank. Image paths
// are only populated for Round 2 banks.
type Question struct {
	ID            int      `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	QuestionImage string   `json:"questionImage,omitempty"`
	OptionImages  []string `json:"optionImages,omitempty"`
}
