package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/offlinehq/eventsync/internal/models"
	"github.com/offlinehq/eventsync/internal/remote"
	"github.com/offlinehq/eventsync/internal/repositories"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("component", "test")
}

type fakeLoginClient struct {
	resp      *remote.LoginResponse
	err       error
	lastEmail string
	lastPass  string
}

func (c *fakeLoginClient) Login(_ context.Context, email, password string) (*remote.LoginResponse, error) {
	c.lastEmail = email
	c.lastPass = password
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func newSessionService(client *fakeLoginClient) (*SessionService, *repositories.MemorySessionRepository, *repositories.MemoryMutationRepository) {
	sessions := repositories.NewMemorySessionRepository()
	mutations := repositories.NewMemoryMutationRepository()
	return NewSessionService(sessions, mutations, client, testLogger()), sessions, mutations
}

func signedTestToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "acc-1",
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestSessionService_Establish(t *testing.T) {
	client := &fakeLoginClient{resp: &remote.LoginResponse{
		Token:     "tok-1",
		AccountID: "acc-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	service, _, _ := newSessionService(client)
	ctx := context.Background()

	session, err := service.Establish(ctx, "ana@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ana@x.com", client.lastEmail)
	assert.Equal(t, "secret1", client.lastPass)
	assert.Equal(t, "tok-1", session.Token)
	assert.Equal(t, "acc-1", session.AccountID)
	assert.False(t, session.Offline)

	// The stored session backs Current and Token.
	current, err := service.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", current.AccountID)
	assert.Equal(t, "tok-1", service.Token(ctx))
}

func TestSessionService_EstablishExpiryFromToken(t *testing.T) {
	// The authority omitted expiresAt; it comes from the token's exp claim.
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	client := &fakeLoginClient{resp: &remote.LoginResponse{
		Token:     signedTestToken(t, exp),
		AccountID: "acc-1",
	}}
	service, _, _ := newSessionService(client)

	session, err := service.Establish(context.Background(), "ana@x.com", "secret1")
	require.NoError(t, err)
	assert.True(t, session.ExpiresAt.Equal(exp), "expected %v, got %v", exp, session.ExpiresAt)
}

func TestSessionService_EstablishRejectedCredentials(t *testing.T) {
	client := &fakeLoginClient{err: &remote.APIError{Status: 401, Message: "bad credentials"}}
	service, _, _ := newSessionService(client)

	_, err := service.Establish(context.Background(), "ana@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "", service.Token(context.Background()))
}

func TestSessionService_EstablishTransportFailureIsNotCredentialFailure(t *testing.T) {
	client := &fakeLoginClient{err: remote.ErrTransport}
	service, _, _ := newSessionService(client)

	_, err := service.Establish(context.Background(), "ana@x.com", "secret1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, remote.ErrTransport)
}

func TestSessionService_OfflineLogin(t *testing.T) {
	service, _, mutations := newSessionService(&fakeLoginClient{err: remote.ErrTransport})
	ctx := context.Background()

	localID, err := mutations.Enqueue(ctx, models.KindAccount, models.AccountPayload{
		Name:     "Ana",
		Email:    "ana@x.com",
		Password: "secret1",
	}, time.Now())
	require.NoError(t, err)

	session, err := service.OfflineLogin(ctx, "ana@x.com", "secret1")
	require.NoError(t, err)
	assert.True(t, session.Offline)
	assert.Equal(t, localID, session.AccountID, "offline identity is the queued account's local id")
	assert.Empty(t, session.Token)

	// Offline sessions carry no bearer token for the authority.
	assert.Equal(t, "", service.Token(ctx))
}

func TestSessionService_OfflineLoginWrongPassword(t *testing.T) {
	service, _, mutations := newSessionService(&fakeLoginClient{})
	ctx := context.Background()

	_, err := mutations.Enqueue(ctx, models.KindAccount, models.AccountPayload{
		Email:    "ana@x.com",
		Password: "secret1",
	}, time.Now())
	require.NoError(t, err)

	_, err = service.OfflineLogin(ctx, "ana@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.OfflineLogin(ctx, "nobody@x.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionService_Clear(t *testing.T) {
	client := &fakeLoginClient{resp: &remote.LoginResponse{Token: "tok-1", AccountID: "acc-1", ExpiresAt: time.Now().Add(time.Hour)}}
	service, _, _ := newSessionService(client)
	ctx := context.Background()

	_, err := service.Establish(ctx, "ana@x.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, service.Clear(ctx))
	_, err = service.Current(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}
