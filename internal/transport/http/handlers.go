package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"prarambh-quiz-service/internal/app"
	"prarambh-quiz-service/internal/domain"
)

// Handlers maps the REST API onto the core services.
type Handlers struct {
	auth        *app.AuthService
	scorer      *app.Scorer
	access      *app.RoundAccessController
	ledger      *app.SubmissionLedger
	leaderboard *app.LeaderboardView
	users       app.UserStore
	attempts    app.AttemptStore
	questions   app.QuestionStore
	rules       app.PassRules
	tokens      TokenParser
}

func NewHandlers(
	authSvc *app.AuthService,
	scorer *app.Scorer,
	access *app.RoundAccessController,
	ledger *app.SubmissionLedger,
	leaderboard *app.LeaderboardView,
	users app.UserStore,
	attempts app.AttemptStore,
	questions app.QuestionStore,
	rules app.PassRules,
	tokens TokenParser,
) *Handlers {
	return &Handlers{
		auth:        authSvc,
		scorer:      scorer,
		access:      access,
		ledger:      ledger,
		leaderboard: leaderboard,
		users:       users,
		attempts:    attempts,
		questions:   questions,
		rules:       rules,
		tokens:      tokens,
	}
}

// Routes wires every endpoint. Identity comes from the bearer token; admin
// routes additionally require the verified admin claim.
func (h *Handlers) Routes(ws *WSHandler) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Post("/api/signup", h.Signup)
	r.Post("/api/login", h.Login)
	r.Get("/ws/leaderboard", ws.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.tokens))

		r.Get("/api/user/{id}", h.GetUser)
		r.Get("/api/user/{id}/results", h.UserResults)
		r.Get("/api/round-access", h.GetRoundAccess)
		r.Get("/api/leaderboard", h.Leaderboard)
		r.Get("/api/questions/{kind}", h.ListQuestions)

		r.Post("/api/quiz/begin", h.BeginAttempt)
		r.Post("/api/quiz/progress", h.SaveProgress)
		r.Post("/api/quiz/result", h.RecordAttempt)

		r.Post("/api/user/round3-track", h.SetTrack)
		r.Post("/api/round3/submit", h.Submit)
		r.Get("/api/round3/submissions", h.MySubmissions)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/api/round-access", h.SetRoundAccess)
			r.Get("/api/admin/submissions", h.AllSubmissions)
			r.Post("/api/admin/submissions/{id}/score", h.ScoreSubmission)
			r.Post("/api/admin/questions/{kind}", h.AddQuestion)
		})
	})

	return r
}

type signupRequest struct {
	EnrollmentNo string `json:"enrollment_no"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	user, err := h.auth.Register(r.Context(), req.EnrollmentNo, req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"user": user})
}

type loginRequest struct {
	EnrollmentNo string `json:"enrollment_no"`
	Password     string `json:"password"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	user, token, err := h.auth.Login(r.Context(), req.EnrollmentNo, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user, "token": token})
}

func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "invalid user id")
		return
	}
	if id != claims.UserID && !claims.IsAdmin {
		writeErrorCode(w, http.StatusForbidden, "forbidden", "cannot view other users")
		return
	}
	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type attemptView struct {
	domain.Attempt
	Passed bool `json:"passed"`
}

func (h *Handlers) UserResults(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "invalid user id")
		return
	}
	if id != claims.UserID && !claims.IsAdmin {
		writeErrorCode(w, http.StatusForbidden, "forbidden", "cannot view other users")
		return
	}
	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	attempts, err := h.attempts.ListAttempts(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]attemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, attemptView{
			Attempt: a,
			Passed:  h.rules.Passed(a.RoundNumber, a.Score, a.TotalQuestions),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":       user.ID,
		"username":      user.Username,
		"current_round": user.CurrentRound,
		"results":       views,
	})
}

type beginAttemptRequest struct {
	RoundNumber    int    `json:"round_number"`
	Language       string `json:"language"`
	TotalQuestions int    `json:"total_questions"`
}

func (h *Handlers) BeginAttempt(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	var req beginAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	attempt, err := h.scorer.BeginAttempt(r.Context(), claims.UserID, req.RoundNumber, req.Language, req.TotalQuestions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attempt)
}

type progressRequest struct {
	RoundNumber int    `json:"round_number"`
	Language    string `json:"language"`
	Score       int    `json:"score"`
}

func (h *Handlers) SaveProgress(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	attempt, err := h.scorer.SaveProgress(r.Context(), claims.UserID, req.RoundNumber, req.Language, req.Score)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

type recordAttemptRequest struct {
	RoundNumber    int    `json:"round_number"`
	Language       string `json:"language"`
	Score          int    `json:"score"`
	TotalQuestions int    `json:"total_questions"`
}

func (h *Handlers) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	var req recordAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	result, err := h.scorer.RecordAttempt(r.Context(), claims.UserID, req.RoundNumber, req.Language, req.Score, req.TotalQuestions)
	if err != nil {
		writeError(w, err)
		return
	}
	h.leaderboard.Publish(r.Context())
	if result.Passed && req.RoundNumber == domain.Round2 && !result.Qualified {
		// The attempt is recorded; the conflict tells the caller every
		// qualification slot was already taken.
		writeError(w, domain.ErrQualifierLimit)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GetRoundAccess returns the global gates. There is no per-user access
// field; a caller's view of a round is admin-or-gate-open.
func (h *Handlers) GetRoundAccess(w http.ResponseWriter, r *http.Request) {
	gates, err := h.access.Gates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gates)
}

type setAccessRequest struct {
	RoundNumber int  `json:"round_number"`
	Enabled     bool `json:"enabled"`
}

func (h *Handlers) SetRoundAccess(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	var req setAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	gates, err := h.access.SetRoundAccess(r.Context(), claims.UserID, req.RoundNumber, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	h.leaderboard.Publish(r.Context())
	writeJSON(w, http.StatusOK, gates)
}

type setTrackRequest struct {
	Track domain.Track `json:"track"`
}

func (h *Handlers) SetTrack(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	var req setTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	user, err := h.ledger.SetTrack(r.Context(), claims.UserID, req.Track)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type submitRequest struct {
	ChallengeID   string       `json:"challenge_id"`
	Track         domain.Track `json:"track"`
	ChallengeName string       `json:"challenge_name"`
	Payload       string       `json:"payload"`
	Language      string       `json:"language"`
}

func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	submission, err := h.ledger.Submit(r.Context(), claims.UserID, req.ChallengeID, req.Track, req.ChallengeName, req.Payload, req.Language)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submission)
}

func (h *Handlers) MySubmissions(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	track := domain.Track(r.URL.Query().Get("track"))
	if track != domain.TrackNone && !track.Valid() {
		writeError(w, domain.ErrInvalidTrack)
		return
	}
	subs, err := h.ledger.ListByUser(r.Context(), claims.UserID, track)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handlers) AllSubmissions(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	subs, err := h.ledger.ListAll(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

type scoreRequest struct {
	Value int `json:"value"`
}

func (h *Handlers) ScoreSubmission(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "invalid submission id")
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	submission, err := h.ledger.Score(r.Context(), claims.UserID, id, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	h.leaderboard.Publish(r.Context())
	writeJSON(w, http.StatusOK, submission)
}

func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	claims, _ := callerClaims(r.Context())
	viewer, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	lb, err := h.leaderboard.Build(r.Context(), viewer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *Handlers) ListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.questions.List(r.Context(), chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handlers) AddQuestion(w http.ResponseWriter, r *http.Request) {
	var question domain.Question
	if err := json.NewDecoder(r.Body).Decode(&question); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	added, err := h.questions.Add(r.Context(), chi.URLParam(r, "kind"), question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}
