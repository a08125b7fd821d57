package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/offlinehq/eventsync/internal/connectivity"
	"github.com/offlinehq/eventsync/internal/models"
	"github.com/offlinehq/eventsync/internal/remote"
	"github.com/offlinehq/eventsync/internal/repositories"
	"github.com/offlinehq/eventsync/internal/services"
	"github.com/offlinehq/eventsync/internal/syncer"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("component", "test")
}

type stubRunner struct {
	report *models.SyncReport
	err    error
}

func (r *stubRunner) Run(context.Context) (*models.SyncReport, error) {
	return r.report, r.err
}

type stubCatalogClient struct {
	events        []models.Event
	registrations []models.Registration
}

func (c *stubCatalogClient) FetchEvents(context.Context) ([]models.Event, error) {
	return c.events, nil
}

func (c *stubCatalogClient) FetchRegistrations(context.Context) ([]models.Registration, error) {
	return c.registrations, nil
}

func (c *stubCatalogClient) FetchEvent(_ context.Context, id string) (*models.Event, error) {
	for i := range c.events {
		if c.events[i].ID == id {
			return &c.events[i], nil
		}
	}
	return nil, remote.ErrTransport
}

type stubLoginClient struct{}

func (stubLoginClient) Login(context.Context, string, string) (*remote.LoginResponse, error) {
	return nil, remote.ErrTransport
}

type testEnv struct {
	router    chi.Router
	mutations *repositories.MemoryMutationRepository
	monitor   *connectivity.Monitor
}

func newTestEnv(t *testing.T, runner syncer.Runner) *testEnv {
	t.Helper()

	mutations := repositories.NewMemoryMutationRepository()
	monitor, err := connectivity.NewMonitor(filepath.Join(t.TempDir(), "connectivity.json"), testLogger())
	require.NoError(t, err)

	coordinator := syncer.NewCoordinator(runner, mutations, time.Minute, testLogger())
	cache := repositories.NewMemoryCacheRepository(nil, time.Hour)
	catalog := services.NewCatalogService(cache, &stubCatalogClient{
		registrations: []models.Registration{{ID: "reg-1", EventID: "ev-1", EventTitle: "GopherCon"}},
	}, monitor.EffectivelyOnline, testLogger())
	sessions := services.NewSessionService(repositories.NewMemorySessionRepository(), mutations, stubLoginClient{}, testLogger())

	handler := NewHandler(mutations, coordinator, monitor, catalog, sessions, testLogger())
	router := chi.NewRouter()
	router.Group(handler.Routes)

	return &testEnv{router: router, mutations: mutations, monitor: monitor}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAccountQueuesLocally(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})

	rec := env.do(http.MethodPost, "/accounts", map[string]string{
		"name":     "Ana",
		"email":    "ana@x.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		LocalID    string    `json:"localId"`
		CapturedAt time.Time `json:"capturedAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, models.IsServerID(resp.LocalID), "queued writes get local ids")
	assert.False(t, resp.CapturedAt.IsZero())

	pending, err := env.mutations.ListPending(context.Background(), models.KindAccount)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, resp.LocalID, pending[0].LocalID)
}

func TestHandler_CreateAccountValidation(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})

	rec := env.do(http.MethodPost, "/accounts", map[string]string{"email": "ana@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/registrations", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/attendances", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_PersistenceFailureIsReported(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	env.mutations.FailNextEnqueue()

	rec := env.do(http.MethodPost, "/accounts", map[string]string{
		"name":     "Ana",
		"email":    "ana@x.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT saved")

	// And the action really is absent: no false success, no ghost entry.
	count, err := env.mutations.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHandler_StatusAndManualOffline(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})

	rec := env.do(http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		State         string `json:"state"`
		PendingCount  int    `json:"pendingCount"`
		Online        bool   `json:"online"`
		ManualOffline bool   `json:"manualOffline"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "idle", status.State)
	assert.True(t, status.Online)
	assert.False(t, status.ManualOffline)

	rec = env.do(http.MethodPut, "/connectivity/manual-offline", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/status", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Online, "manual override wins over reachability")
	assert.True(t, status.ManualOffline)
}

func TestHandler_TriggerSyncNotOnline(t *testing.T) {
	env := newTestEnv(t, &stubRunner{err: syncer.ErrNotOnline})

	rec := env.do(http.MethodPost, "/sync", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_TriggerSyncReturnsReport(t *testing.T) {
	env := newTestEnv(t, &stubRunner{report: &models.SyncReport{AccountsProcessed: 2, Message: "done"}})

	rec := env.do(http.MethodPost, "/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.SyncReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.AccountsProcessed)
}

func TestHandler_TriggerSyncTransportFailure(t *testing.T) {
	env := newTestEnv(t, &stubRunner{err: remote.ErrTransport})

	rec := env.do(http.MethodPost, "/sync", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// The coordinator is now backing off; an immediate retry is refused.
	rec = env.do(http.MethodPost, "/sync", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_EventsUnavailableOffline(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	require.NoError(t, env.monitor.SetManualOffline(true))

	rec := env.do(http.MethodGet, "/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(http.MethodGet, "/registrations", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "cold cache offline has nothing to serve")
}

func TestHandler_RegistrationsReadThrough(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})

	rec := env.do(http.MethodGet, "/registrations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var registrations []models.Registration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registrations))
	require.Len(t, registrations, 1)
	assert.Equal(t, "reg-1", registrations[0].ID)

	// The online read populated the per-user cache; going offline keeps the
	// list browsable.
	require.NoError(t, env.monitor.SetManualOffline(true))
	rec = env.do(http.MethodGet, "/registrations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registrations))
	assert.Len(t, registrations, 1)
}

func TestHandler_OfflineLoginFlow(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	require.NoError(t, env.monitor.SetManualOffline(true))

	// No session yet.
	rec := env.do(http.MethodGet, "/session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Queue an account, then log in against it while offline.
	rec = env.do(http.MethodPost, "/accounts", map[string]string{
		"name":     "Ana",
		"email":    "ana@x.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    "ana@x.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.True(t, session.Offline)
	assert.Equal(t, "ana@x.com", session.Email)

	rec = env.do(http.MethodGet, "/session", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_LoginWrongPassword(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	require.NoError(t, env.monitor.SetManualOffline(true))

	rec := env.do(http.MethodPost, "/accounts", map[string]string{
		"name":     "Ana",
		"email":    "ana@x.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    "ana@x.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
