package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"prarambh-quiz-service/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorStatus maps each domain error to a stable status and code the
// frontend can branch on. The core never produces presentation text; this
// is the single place errors become user-visible.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrSubmissionNotFound),
		errors.Is(err, domain.ErrAttemptNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyAttempted):
		return http.StatusConflict, "already_attempted"
	case errors.Is(err, domain.ErrTrackLocked):
		return http.StatusConflict, "track_locked"
	case errors.Is(err, domain.ErrQualifierLimit):
		return http.StatusConflict, "qualifier_limit"
	case errors.Is(err, domain.ErrRoundClosed):
		return http.StatusForbidden, "round_closed"
	case errors.Is(err, domain.ErrNotQualified):
		return http.StatusForbidden, "not_qualified"
	case errors.Is(err, domain.ErrWrongTrack):
		return http.StatusForbidden, "wrong_track"
	case errors.Is(err, domain.ErrNotAdmin):
		return http.StatusUnauthorized, "not_admin"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, domain.ErrInvalidRound),
		errors.Is(err, domain.ErrInvalidTrack),
		errors.Is(err, domain.ErrInvalidScoreValue),
		errors.Is(err, domain.ErrInvalidAttempt),
		errors.Is(err, domain.ErrInvalidSubmission),
		errors.Is(err, domain.ErrInvalidSignup),
		errors.Is(err, domain.ErrEnrollmentTaken),
		errors.Is(err, domain.ErrUsernameTaken),
		errors.Is(err, domain.ErrQuestionExists),
		errors.Is(err, domain.ErrInvalidQuestion),
		errors.Is(err, domain.ErrUnknownBank):
		return http.StatusBadRequest, "validation_error"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeErrorCode(w, status, code, msg)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
