package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"prarambh-quiz-service/internal/domain"
)

const pgUniqueViolation = "23505"

// Repository is the postgres implementation of app.Repository. The attempt
// key, the qualification cap and the submission key are all enforced by
// constraints so concurrent request handlers cannot race past the
// application-level checks.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, enrollment_no, username, password_hash, is_admin, current_round, round3_track, qualified_round3, total_score, registered_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.EnrollmentNo, &u.Username, &u.PasswordHash, &u.IsAdmin,
		&u.CurrentRound, &u.Round3Track, &u.QualifiedForRound3, &u.TotalScore, &u.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *Repository) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (r *Repository) FindUserByEnrollment(ctx context.Context, enrollmentNo string) (domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE enrollment_no=$1`, enrollmentNo))
}

func (r *Repository) FindUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username))
}

func (r *Repository) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (enrollment_no, username, password_hash, is_admin, current_round, round3_track, qualified_round3, total_score, registered_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		user.EnrollmentNo, user.Username, user.PasswordHash, user.IsAdmin, user.CurrentRound,
		user.Round3Track, user.QualifiedForRound3, user.TotalScore, user.RegisteredAt,
	).Scan(&user.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			switch pgErr.ConstraintName {
			case "users_enrollment_no_key":
				return domain.User{}, domain.ErrEnrollmentTaken
			case "users_username_key":
				return domain.User{}, domain.ErrUsernameTaken
			}
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (r *Repository) SaveUser(ctx context.Context, user domain.User) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET current_round=$2, round3_track=$3, qualified_round3=$4, total_score=$5 WHERE id=$1`,
		user.ID, user.CurrentRound, user.Round3Track, user.QualifiedForRound3, user.TotalScore)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

func (r *Repository) ListNonAdminUsers(ctx context.Context) ([]domain.User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE NOT is_admin ORDER BY id`)
}

func (r *Repository) listUsers(ctx context.Context, query string) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const attemptColumns = `id, user_id, round_number, language, score, total_questions, completed, completed_at`

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var a domain.Attempt
	var completedAt *time.Time
	err := row.Scan(&a.ID, &a.UserID, &a.RoundNumber, &a.Language, &a.Score,
		&a.TotalQuestions, &a.Completed, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	if completedAt != nil {
		a.CompletedAt = *completedAt
	}
	return a, nil
}

func (r *Repository) FindAttempt(ctx context.Context, userID int64, round int, language string) (domain.Attempt, error) {
	if round == domain.Round1 {
		return scanAttempt(r.pool.QueryRow(ctx,
			`SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 AND round_number=$2 AND language=$3`,
			userID, round, language))
	}
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 AND round_number=$2`,
		userID, round))
}

func (r *Repository) ListAttempts(ctx context.Context, userID int64) ([]domain.Attempt, error) {
	return r.listAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 ORDER BY id`, userID)
}

func (r *Repository) ListAllAttempts(ctx context.Context) ([]domain.Attempt, error) {
	return r.listAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts ORDER BY id`)
}

func (r *Repository) ListIncompleteAttempts(ctx context.Context, round int) ([]domain.Attempt, error) {
	return r.listAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE round_number=$1 AND NOT completed ORDER BY id`, round)
}

func (r *Repository) listAttempts(ctx context.Context, query string, args ...interface{}) ([]domain.Attempt, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *Repository) SaveOpenAttempt(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Attempt{}, err
	}
	defer tx.Rollback(ctx)

	existing, err := r.lockAttempt(ctx, tx, attempt.UserID, attempt.RoundNumber, attempt.Language)
	switch {
	case err == nil:
		if existing.Completed {
			return domain.Attempt{}, domain.ErrAlreadyAttempted
		}
		existing.Score = attempt.Score
		if attempt.TotalQuestions > 0 {
			existing.TotalQuestions = attempt.TotalQuestions
		}
		if _, err := tx.Exec(ctx, `UPDATE attempts SET score=$2, total_questions=$3 WHERE id=$1`,
			existing.ID, existing.Score, existing.TotalQuestions); err != nil {
			return domain.Attempt{}, fmt.Errorf("update open attempt: %w", err)
		}
		attempt = existing
	case errors.Is(err, domain.ErrAttemptNotFound):
		attempt.Completed = false
		if err := tx.QueryRow(ctx,
			`INSERT INTO attempts (user_id, round_number, language, score, total_questions, completed)
			 VALUES ($1,$2,$3,$4,$5,FALSE) RETURNING id`,
			attempt.UserID, attempt.RoundNumber, attempt.Language, attempt.Score, attempt.TotalQuestions,
		).Scan(&attempt.ID); err != nil {
			return domain.Attempt{}, mapAttemptInsertErr(err)
		}
	default:
		return domain.Attempt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Attempt{}, err
	}
	return attempt, nil
}

func (r *Repository) FinalizeAttempt(ctx context.Context, attempt domain.Attempt, unlockRound int) (domain.Attempt, domain.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Attempt{}, domain.User{}, err
	}
	defer tx.Rollback(ctx)

	existing, err := r.lockAttempt(ctx, tx, attempt.UserID, attempt.RoundNumber, attempt.Language)
	switch {
	case err == nil:
		if existing.Completed {
			return domain.Attempt{}, domain.User{}, domain.ErrAlreadyAttempted
		}
		attempt.ID = existing.ID
		if _, err := tx.Exec(ctx,
			`UPDATE attempts SET score=$2, total_questions=$3, completed=TRUE, completed_at=$4 WHERE id=$1`,
			attempt.ID, attempt.Score, attempt.TotalQuestions, attempt.CompletedAt); err != nil {
			return domain.Attempt{}, domain.User{}, fmt.Errorf("finalize attempt: %w", err)
		}
	case errors.Is(err, domain.ErrAttemptNotFound):
		if err := tx.QueryRow(ctx,
			`INSERT INTO attempts (user_id, round_number, language, score, total_questions, completed, completed_at)
			 VALUES ($1,$2,$3,$4,$5,TRUE,$6) RETURNING id`,
			attempt.UserID, attempt.RoundNumber, attempt.Language, attempt.Score, attempt.TotalQuestions, attempt.CompletedAt,
		).Scan(&attempt.ID); err != nil {
			return domain.Attempt{}, domain.User{}, mapAttemptInsertErr(err)
		}
	default:
		return domain.Attempt{}, domain.User{}, err
	}

	// The score folds in relative to the stored total so a concurrent
	// finalize or submission scoring on the same user is never clobbered.
	user, err := scanUser(tx.QueryRow(ctx,
		`UPDATE users SET total_score = total_score + $2, current_round = GREATEST(current_round, $3)
		 WHERE id=$1 RETURNING `+userColumns,
		attempt.UserID, attempt.Score, unlockRound))
	if err != nil {
		return domain.Attempt{}, domain.User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Attempt{}, domain.User{}, err
	}
	attempt.Completed = true
	return attempt, user, nil
}

func (r *Repository) lockAttempt(ctx context.Context, tx pgx.Tx, userID int64, round int, language string) (domain.Attempt, error) {
	if round == domain.Round1 {
		return scanAttempt(tx.QueryRow(ctx,
			`SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 AND round_number=$2 AND language=$3 FOR UPDATE`,
			userID, round, language))
	}
	return scanAttempt(tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 AND round_number=$2 FOR UPDATE`,
		userID, round))
}

func mapAttemptInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.ErrAlreadyAttempted
	}
	return fmt.Errorf("insert attempt: %w", err)
}

func (r *Repository) GetGates(ctx context.Context) (domain.RoundGates, error) {
	var g domain.RoundGates
	err := r.pool.QueryRow(ctx,
		`SELECT round1, round2, round3, updated_at FROM round_gates WHERE id=1`,
	).Scan(&g.Round1, &g.Round2, &g.Round3, &g.Updated)
	if err != nil {
		return domain.RoundGates{}, fmt.Errorf("get gates: %w", err)
	}
	g.AllOpen = g.Round1 && g.Round2 && g.Round3
	return g, nil
}

func (r *Repository) SetGate(ctx context.Context, round int, enabled bool, closedAt time.Time) (domain.RoundGates, int, error) {
	var column string
	switch round {
	case domain.Round1:
		column = "round1"
	case domain.Round2:
		column = "round2"
	case domain.Round3:
		column = "round3"
	default:
		return domain.RoundGates{}, 0, domain.ErrInvalidRound
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.RoundGates{}, 0, err
	}
	defer tx.Rollback(ctx)

	var g domain.RoundGates
	if err := tx.QueryRow(ctx,
		`UPDATE round_gates SET `+column+`=$1, updated_at=$2 WHERE id=1 RETURNING round1, round2, round3, updated_at`,
		enabled, closedAt,
	).Scan(&g.Round1, &g.Round2, &g.Round3, &g.Updated); err != nil {
		return domain.RoundGates{}, 0, fmt.Errorf("set gate: %w", err)
	}
	g.AllOpen = g.Round1 && g.Round2 && g.Round3

	closed := 0
	if !enabled {
		// Fold partial scores into totals before marking the rows complete.
		if _, err := tx.Exec(ctx,
			`UPDATE users u SET total_score = u.total_score + a.score
			 FROM attempts a WHERE a.user_id = u.id AND a.round_number=$1 AND NOT a.completed`,
			round); err != nil {
			return domain.RoundGates{}, 0, fmt.Errorf("fold open attempts: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE attempts SET completed=TRUE, completed_at=$2 WHERE round_number=$1 AND NOT completed`,
			round, closedAt)
		if err != nil {
			return domain.RoundGates{}, 0, fmt.Errorf("close open attempts: %w", err)
		}
		closed = int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.RoundGates{}, 0, err
	}
	return g, closed, nil
}

// ReserveQualificationSlot admits the user if fewer than cap slots are
// taken. The slot number doubles as the commit-order position; a losing
// racer hits the slot primary key and retries against the fresh count.
func (r *Repository) ReserveQualificationSlot(ctx context.Context, userID int64, cap int) (bool, error) {
	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		admitted, retry, err := r.tryReserveSlot(ctx, userID, cap)
		if err != nil {
			return false, err
		}
		if !retry {
			return admitted, nil
		}
	}
	return false, fmt.Errorf("reserve qualification slot: retries exhausted")
}

func (r *Repository) tryReserveSlot(ctx context.Context, userID int64, cap int) (admitted, retry bool, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback(ctx)

	var qualified bool
	if err := tx.QueryRow(ctx, `SELECT qualified_round3 FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&qualified); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, domain.ErrUserNotFound
		}
		return false, false, fmt.Errorf("lock user: %w", err)
	}
	if qualified {
		return true, false, nil
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO qualification_slots (slot, user_id)
		 SELECT count(*) + 1, $1::bigint FROM qualification_slots HAVING count(*) < $2`,
		userID, cap)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, true, nil
		}
		return false, false, fmt.Errorf("reserve slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Cap reached; commit nothing.
		return false, false, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET qualified_round3=TRUE, current_round=$2 WHERE id=$1`,
		userID, domain.Round3); err != nil {
		return false, false, fmt.Errorf("mark qualified: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, false, err
	}
	return true, false, nil
}

const submissionColumns = `id, user_id, challenge_id, track, challenge_name, payload, language, submitted_at, scored, score`

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var s domain.Submission
	err := row.Scan(&s.ID, &s.UserID, &s.ChallengeID, &s.Track, &s.ChallengeName,
		&s.Payload, &s.Language, &s.SubmittedAt, &s.Scored, &s.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("scan submission: %w", err)
	}
	return s, nil
}

func (r *Repository) GetSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id))
}

func (r *Repository) FindSubmission(ctx context.Context, userID int64, challengeID string, track domain.Track) (domain.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE user_id=$1 AND challenge_id=$2 AND track=$3`,
		userID, challengeID, track))
}

func (r *Repository) CountSubmissions(ctx context.Context, userID int64, track domain.Track) (int, error) {
	var count int
	var err error
	if track == domain.TrackNone {
		err = r.pool.QueryRow(ctx, `SELECT count(*) FROM submissions WHERE user_id=$1`, userID).Scan(&count)
	} else {
		err = r.pool.QueryRow(ctx, `SELECT count(*) FROM submissions WHERE user_id=$1 AND track=$2`, userID, track).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}

func (r *Repository) ListSubmissionsByUser(ctx context.Context, userID int64, track domain.Track) ([]domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE user_id=$1 ORDER BY id`
	args := []interface{}{userID}
	if track != domain.TrackNone {
		query = `SELECT ` + submissionColumns + ` FROM submissions WHERE user_id=$1 AND track=$2 ORDER BY id`
		args = append(args, track)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *Repository) ListAllSubmissions(ctx context.Context) ([]domain.SubmissionWithUser, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.user_id, s.challenge_id, s.track, s.challenge_name, s.payload, s.language, s.submitted_at, s.scored, s.score, u.username
		 FROM submissions s JOIN users u ON u.id = s.user_id ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("list all submissions: %w", err)
	}
	defer rows.Close()

	var subs []domain.SubmissionWithUser
	for rows.Next() {
		var s domain.SubmissionWithUser
		if err := rows.Scan(&s.ID, &s.UserID, &s.ChallengeID, &s.Track, &s.ChallengeName,
			&s.Payload, &s.Language, &s.SubmittedAt, &s.Scored, &s.Score, &s.Username); err != nil {
			return nil, fmt.Errorf("scan submission row: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *Repository) UpsertSubmission(ctx context.Context, submission domain.Submission) (domain.Submission, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO submissions (user_id, challenge_id, track, challenge_name, payload, language, submitted_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (user_id, challenge_id, track) DO UPDATE SET
		   challenge_name=EXCLUDED.challenge_name, payload=EXCLUDED.payload, language=EXCLUDED.language,
		   submitted_at=EXCLUDED.submitted_at, scored=FALSE, score=0
		 RETURNING id`,
		submission.UserID, submission.ChallengeID, submission.Track, submission.ChallengeName,
		submission.Payload, submission.Language, submission.SubmittedAt,
	).Scan(&submission.ID)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("upsert submission: %w", err)
	}
	submission.Scored = false
	submission.Score = 0
	return submission, nil
}

func (r *Repository) ApplySubmissionScore(ctx context.Context, submissionID int64, value int, scoredAt time.Time) (domain.Submission, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback(ctx)

	submission, err := scanSubmission(tx.QueryRow(ctx,
		`UPDATE submissions SET scored=TRUE, score=$2 WHERE id=$1 RETURNING `+submissionColumns,
		submissionID, value))
	if err != nil {
		return domain.Submission{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET total_score = total_score + $2 WHERE id=$1`,
		submission.UserID, value); err != nil {
		return domain.Submission{}, fmt.Errorf("apply score to user: %w", err)
	}

	questionDelta := 0
	if value > 0 {
		questionDelta = 1
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO attempts (user_id, round_number, score, total_questions, completed, completed_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5)
		 ON CONFLICT (user_id, round_number) WHERE round_number <> 1 DO UPDATE SET
		   score = attempts.score + EXCLUDED.score,
		   total_questions = attempts.total_questions + EXCLUDED.total_questions,
		   completed = TRUE, completed_at = EXCLUDED.completed_at`,
		submission.UserID, domain.Round3, value, questionDelta, scoredAt); err != nil {
		return domain.Submission{}, fmt.Errorf("apply score to aggregate attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Submission{}, err
	}
	return submission, nil
}
