package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/offlinehq/eventsync/internal/models"
	"github.com/offlinehq/eventsync/internal/remote"
	"github.com/offlinehq/eventsync/internal/repositories"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNoSession          = errors.New("no active session")
)

// LoginClient is the slice of the authority client the session service needs.
type LoginClient interface {
	Login(ctx context.Context, email, password string) (*remote.LoginResponse, error)
}

// SessionService owns the device's authenticated identity: establishing a real
// session against the authority, and the offline fallback identity backed by a
// queued account mutation.
type SessionService struct {
	sessions  repositories.SessionRepository
	mutations repositories.MutationRepository
	client    LoginClient
	log       *logrus.Entry
}

func NewSessionService(
	sessions repositories.SessionRepository,
	mutations repositories.MutationRepository,
	client LoginClient,
	log *logrus.Entry,
) *SessionService {
	return &SessionService{
		sessions:  sessions,
		mutations: mutations,
		client:    client,
		log:       log,
	}
}

func (s *SessionService) Current(ctx context.Context) (*models.Session, error) {
	session, err := s.sessions.Current(ctx)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// Token returns the current bearer token, or "" when the session is missing
// or offline-only. Shaped to plug into remote.TokenFunc.
func (s *SessionService) Token(ctx context.Context) string {
	session, err := s.Current(ctx)
	if err != nil {
		return ""
	}
	return session.Token
}

// Establish logs in against the authority and stores the resulting session.
// This is also the post-sync promotion path for accounts created offline.
func (s *SessionService) Establish(ctx context.Context, email, password string) (*models.Session, error) {
	resp, err := s.client.Login(ctx, email, password)
	if err != nil {
		var apiErr *remote.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == 401 || apiErr.Status == 403) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	expiresAt := resp.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = tokenExpiry(resp.Token)
	}

	session := &models.Session{
		Token:     resp.Token,
		AccountID: resp.AccountID,
		Email:     email,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.log.WithField("email", email).Info("session established")
	return session, nil
}

// OfflineLogin matches credentials against a queued offline account so the
// user has a working identity before sync runs. The stored password is clear
// text by design: it never leaves the device until upload, where the
// authority hashes it.
func (s *SessionService) OfflineLogin(ctx context.Context, email, password string) (*models.Session, error) {
	mutation, err := s.mutations.FindAccountByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up offline account: %w", err)
	}

	var payload models.AccountPayload
	if err := mutation.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode offline account: %w", err)
	}
	if payload.Password == "" || payload.Password != password {
		return nil, ErrInvalidCredentials
	}

	session := &models.Session{
		AccountID: mutation.LocalID,
		Email:     email,
		Offline:   true,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save offline session: %w", err)
	}

	s.log.WithField("email", email).Info("offline session established")
	return session, nil
}

func (s *SessionService) Clear(ctx context.Context) error {
	return s.sessions.Clear(ctx)
}

// tokenExpiry reads the exp claim without verifying the signature. The agent
// never holds the authority's signing secret; it only needs the expiry to
// bound how long the stored session is trusted.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
