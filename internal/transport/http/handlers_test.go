package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prarambh-quiz-service/internal/app"
	"prarambh-quiz-service/internal/auth"
	"prarambh-quiz-service/internal/domain"
	"prarambh-quiz-service/internal/infra/memory"
	"prarambh-quiz-service/internal/infra/questionfile"
)

type testServer struct {
	*httptest.Server
	repo   *memory.Repository
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := memory.NewRepository()
	tokens, err := auth.NewTokenManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	creds := auth.NewBcryptVerifier()

	qual := app.NewQualificationEngine(repo, repo, app.DefaultQualifierCap)
	scorer := app.NewScorer(repo, repo, repo, qual, app.DefaultPassRules())
	access := app.NewRoundAccessController(repo, repo)
	ledger := app.NewSubmissionLedger(repo, repo)
	leaderboard := app.NewLeaderboardView(repo, repo, nil)
	authSvc := app.NewAuthService(repo, creds, tokens)
	questions := questionfile.NewStore(t.TempDir(), []string{"python", "c"})

	handlers := NewHandlers(authSvc, scorer, access, ledger, leaderboard, repo, repo, questions, app.DefaultPassRules(), tokens)
	server := httptest.NewServer(handlers.Routes(NewWSHandler(leaderboard)))
	t.Cleanup(server.Close)

	return &testServer{Server: server, repo: repo, tokens: tokens}
}

// seedUser writes the user straight into storage and returns it with a
// valid token, skipping the signup endpoint.
func (s *testServer) seedUser(t *testing.T, user domain.User) (domain.User, string) {
	t.Helper()
	created, err := s.repo.CreateUser(context.Background(), user)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token, err := s.tokens.Issue(created)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return created, token
}

func (s *testServer) openRounds(t *testing.T, rounds ...int) {
	t.Helper()
	for _, round := range rounds {
		if _, _, err := s.repo.SetGate(context.Background(), round, true, time.Now()); err != nil {
			t.Fatalf("open round %d: %v", round, err)
		}
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func TestSignupAndLogin(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/signup", "", map[string]any{
		"enrollment_no": "EN-100", "username": "alice", "password": "s3cret",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/signup", "", map[string]any{
		"enrollment_no": "EN-100", "username": "alice2", "password": "s3cret",
	})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "validation_error" {
		t.Fatalf("expected duplicate rejection, got %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/login", "", map[string]any{
		"enrollment_no": "EN-100", "password": "s3cret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", resp.StatusCode, body)
	}
	if token, _ := body["token"].(string); token == "" {
		t.Fatalf("expected token in login response, got %v", body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/login", "", map[string]any{
		"enrollment_no": "EN-100", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d %v", resp.StatusCode, body)
	}
}

func TestAuthGuards(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/api/leaderboard", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "unauthorized" {
		t.Fatalf("expected 401 without token, got %d %v", resp.StatusCode, body)
	}
	resp, _ = s.do(t, http.MethodGet, "/api/leaderboard", "garbage", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}

	_, token := s.seedUser(t, domain.User{EnrollmentNo: "EN-1", Username: "alice", CurrentRound: domain.Round1})
	resp, body = s.do(t, http.MethodPost, "/api/round-access", token, map[string]any{"round_number": 1, "enabled": true})
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "not_admin" {
		t.Fatalf("expected admin guard, got %d %v", resp.StatusCode, body)
	}
}

func TestUserVisibility(t *testing.T) {
	s := newTestServer(t)
	alice, aliceToken := s.seedUser(t, domain.User{EnrollmentNo: "EN-1", Username: "alice", CurrentRound: domain.Round1})
	bob, _ := s.seedUser(t, domain.User{EnrollmentNo: "EN-2", Username: "bob", CurrentRound: domain.Round1})
	_, adminToken := s.seedUser(t, domain.User{EnrollmentNo: "EN-A", Username: "admin", IsAdmin: true})

	resp, body := s.do(t, http.MethodGet, fmt.Sprintf("/api/user/%d", alice.ID), aliceToken, nil)
	if resp.StatusCode != http.StatusOK || body["username"] != "alice" {
		t.Fatalf("expected own profile, got %d %v", resp.StatusCode, body)
	}
	if _, ok := body["password_hash"]; ok {
		t.Fatalf("password hash leaked: %v", body)
	}

	resp, _ = s.do(t, http.MethodGet, fmt.Sprintf("/api/user/%d", bob.ID), aliceToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for other user, got %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, fmt.Sprintf("/api/user/%d", bob.ID), adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected admin access, got %d", resp.StatusCode)
	}
}

func TestQuizResultFlow(t *testing.T) {
	s := newTestServer(t)
	s.openRounds(t, domain.Round1)
	alice, token := s.seedUser(t, domain.User{EnrollmentNo: "EN-1", Username: "alice", CurrentRound: domain.Round1})

	resp, body := s.do(t, http.MethodPost, "/api/quiz/result", token, map[string]any{
		"round_number": 1, "language": "python", "score": 12, "total_questions": 20,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", resp.StatusCode, body)
	}
	if passed, _ := body["passed"].(bool); !passed {
		t.Fatalf("expected passing result, got %v", body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/quiz/result", token, map[string]any{
		"round_number": 1, "language": "python", "score": 20, "total_questions": 20,
	})
	if resp.StatusCode != http.StatusConflict || body["code"] != "already_attempted" {
		t.Fatalf("expected 409 already_attempted, got %d %v", resp.StatusCode, body)
	}

	// Closed round 2 turns the attempt away.
	resp, body = s.do(t, http.MethodPost, "/api/quiz/result", token, map[string]any{
		"round_number": 2, "score": 10, "total_questions": 20,
	})
	if resp.StatusCode != http.StatusForbidden || body["code"] != "round_closed" {
		t.Fatalf("expected 403 round_closed, got %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/user/%d/results", alice.ID), token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	results, _ := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected one result, got %v", body)
	}
}

func TestRecordAttemptReportsFullQualifierList(t *testing.T) {
	s := newTestServer(t)
	s.openRounds(t, domain.Round2)

	for i := 0; i < app.DefaultQualifierCap; i++ {
		winner, _ := s.seedUser(t, domain.User{
			EnrollmentNo: fmt.Sprintf("EN-%03d", i),
			Username:     fmt.Sprintf("user%03d", i),
			CurrentRound: domain.Round2,
		})
		if ok, err := s.repo.ReserveQualificationSlot(context.Background(), winner.ID, app.DefaultQualifierCap); err != nil || !ok {
			t.Fatalf("fill slot %d: ok=%v err=%v", i, ok, err)
		}
	}

	late, token := s.seedUser(t, domain.User{EnrollmentNo: "EN-LATE", Username: "late", CurrentRound: domain.Round2})
	resp, body := s.do(t, http.MethodPost, "/api/quiz/result", token, map[string]any{
		"round_number": 2, "score": 12, "total_questions": 20,
	})
	if resp.StatusCode != http.StatusConflict || body["code"] != "qualifier_limit" {
		t.Fatalf("expected 409 qualifier_limit, got %d %v", resp.StatusCode, body)
	}

	// The pass is recorded even though no slot was left.
	attempt, err := s.repo.FindAttempt(context.Background(), late.ID, domain.Round2, "")
	if err != nil || !attempt.Completed || attempt.Score != 12 {
		t.Fatalf("expected recorded attempt, got %+v err=%v", attempt, err)
	}
	user, _ := s.repo.GetUser(context.Background(), late.ID)
	if user.QualifiedForRound3 {
		t.Fatalf("expected user left unqualified, got %+v", user)
	}
}

func TestRoundAccessEndpoints(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.seedUser(t, domain.User{EnrollmentNo: "EN-A", Username: "admin", IsAdmin: true})
	_, userToken := s.seedUser(t, domain.User{EnrollmentNo: "EN-1", Username: "alice", CurrentRound: domain.Round1})

	resp, body := s.do(t, http.MethodPost, "/api/round-access", adminToken, map[string]any{"round_number": 2, "enabled": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", resp.StatusCode, body)
	}
	if round2, _ := body["round2"].(bool); !round2 {
		t.Fatalf("expected round 2 open, got %v", body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/round-access", userToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if round1, _ := body["round1"].(bool); round1 {
		t.Fatalf("expected round 1 closed, got %v", body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/round-access", adminToken, map[string]any{"round_number": 9, "enabled": true})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "validation_error" {
		t.Fatalf("expected 400 for unknown round, got %d %v", resp.StatusCode, body)
	}
}

func TestRound3Endpoints(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.seedUser(t, domain.User{EnrollmentNo: "EN-A", Username: "admin", IsAdmin: true})
	_, token := s.seedUser(t, domain.User{
		EnrollmentNo: "EN-1", Username: "alice",
		CurrentRound: domain.Round3, QualifiedForRound3: true,
	})

	resp, body := s.do(t, http.MethodPost, "/api/user/round3-track", token, map[string]any{"track": "dsa"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/round3/submit", token, map[string]any{
		"challenge_id": "two-sum", "track": "dsa", "challenge_name": "Two Sum",
		"payload": "def solve(): pass", "language": "python",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", resp.StatusCode, body)
	}
	subID := int64(body["id"].(float64))

	resp, body = s.do(t, http.MethodPost, "/api/round3/submit", token, map[string]any{
		"challenge_id": "portfolio", "track": "web", "payload": "<html></html>",
	})
	if resp.StatusCode != http.StatusForbidden || body["code"] != "wrong_track" {
		t.Fatalf("expected 403 wrong_track, got %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/round3/submissions?track=dsa", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, fmt.Sprintf("/api/admin/submissions/%d/score", subID), adminToken, map[string]any{"value": 7})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "validation_error" {
		t.Fatalf("expected 400 for invalid value, got %d %v", resp.StatusCode, body)
	}
	resp, body = s.do(t, http.MethodPost, fmt.Sprintf("/api/admin/submissions/%d/score", subID), adminToken, map[string]any{"value": 4})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", resp.StatusCode, body)
	}
	if scored, _ := body["scored"].(bool); !scored {
		t.Fatalf("expected scored submission, got %v", body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/admin/submissions", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", resp.StatusCode, body)
	}
}

func TestQuestionEndpoints(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.seedUser(t, domain.User{EnrollmentNo: "EN-A", Username: "admin", IsAdmin: true})
	_, userToken := s.seedUser(t, domain.User{EnrollmentNo: "EN-1", Username: "alice", CurrentRound: domain.Round1})

	question := map[string]any{
		"id": 1, "question": "What is 2 + 2?",
		"options": []string{"3", "4", "5", "6"}, "correctAnswer": 1,
	}
	resp, body := s.do(t, http.MethodPost, "/api/admin/questions/python", adminToken, question)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", resp.StatusCode, body)
	}
	resp, body = s.do(t, http.MethodPost, "/api/admin/questions/python", adminToken, question)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected duplicate rejection, got %d %v", resp.StatusCode, body)
	}
	resp, _ = s.do(t, http.MethodPost, "/api/admin/questions/python", userToken, question)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected admin guard on question upload, got %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, s.URL+"/api/questions/python", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	listResp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	defer listResp.Body.Close()
	var questions []domain.Question
	if err := json.NewDecoder(listResp.Body).Decode(&questions); err != nil {
		t.Fatalf("decode questions: %v", err)
	}
	if len(questions) != 1 || questions[0].Question != "What is 2 + 2?" {
		t.Fatalf("expected uploaded question back, got %+v", questions)
	}

	resp, body = s.do(t, http.MethodGet, "/api/questions/java", userToken, nil)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "validation_error" {
		t.Fatalf("expected 400 for unknown bank, got %d %v", resp.StatusCode, body)
	}
}

func TestLeaderboardByRole(t *testing.T) {
	s := newTestServer(t)
	s.openRounds(t, domain.Round1)
	_, adminToken := s.seedUser(t, domain.User{EnrollmentNo: "EN-A", Username: "admin", IsAdmin: true})
	_, token := s.seedUser(t, domain.User{EnrollmentNo: "EN-1", Username: "alice", CurrentRound: domain.Round1})

	resp, body := s.do(t, http.MethodPost, "/api/quiz/result", token, map[string]any{
		"round_number": 1, "language": "python", "score": 12, "total_questions": 20,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record attempt: %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/leaderboard", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if adminView, _ := body["admin_view"].(bool); adminView {
		t.Fatalf("expected public projection for participant, got %v", body)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %v", body)
	}
	row, _ := entries[0].(map[string]any)
	if _, ok := row["qualified_for_round3"]; ok {
		t.Fatalf("qualification leaked into public view: %v", row)
	}

	resp, body = s.do(t, http.MethodGet, "/api/leaderboard", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if adminView, _ := body["admin_view"].(bool); !adminView {
		t.Fatalf("expected admin projection, got %v", body)
	}
	entries, _ = body["entries"].([]any)
	row, _ = entries[0].(map[string]any)
	if _, ok := row["qualified_for_round3"]; !ok {
		t.Fatalf("expected qualification flag in admin view: %v", row)
	}
}
