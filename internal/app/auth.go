package app

import (
	"context"
	"errors"
	"time"

	"prarambh-quiz-service/internal/domain"
)

// CredentialVerifier hides the hashing library from the core.
type CredentialVerifier interface {
	Hash(raw string) (string, error)
	Verify(stored, provided string) bool
}

// TokenIssuer signs a session token for a logged-in user.
type TokenIssuer interface {
	Issue(user domain.User) (string, error)
}

// AuthService covers signup and login.
type AuthService struct {
	users  UserStore
	creds  CredentialVerifier
	tokens TokenIssuer
	now    func() time.Time
}

func NewAuthService(users UserStore, creds CredentialVerifier, tokens TokenIssuer) *AuthService {
	return &AuthService{users: users, creds: creds, tokens: tokens, now: time.Now}
}

// Register creates a participant account. Both identifiers must be unique;
// the storage constraint backs up the pre-checks here.
func (s *AuthService) Register(ctx context.Context, enrollmentNo, username, password string) (domain.User, error) {
	if enrollmentNo == "" || username == "" || password == "" {
		return domain.User{}, domain.ErrInvalidSignup
	}
	if _, err := s.users.FindUserByEnrollment(ctx, enrollmentNo); err == nil {
		return domain.User{}, domain.ErrEnrollmentTaken
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}
	if _, err := s.users.FindUserByUsername(ctx, username); err == nil {
		return domain.User{}, domain.ErrUsernameTaken
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}

	hash, err := s.creds.Hash(password)
	if err != nil {
		return domain.User{}, err
	}
	return s.users.CreateUser(ctx, domain.User{
		EnrollmentNo: enrollmentNo,
		Username:     username,
		PasswordHash: hash,
		CurrentRound: domain.Round1,
		RegisteredAt: s.now(),
	})
}

// Login verifies credentials and returns the user with a signed token.
func (s *AuthService) Login(ctx context.Context, enrollmentNo, password string) (domain.User, string, error) {
	user, err := s.users.FindUserByEnrollment(ctx, enrollmentNo)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.User{}, "", domain.ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}
	if !s.creds.Verify(user.PasswordHash, password) {
		return domain.User{}, "", domain.ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}
