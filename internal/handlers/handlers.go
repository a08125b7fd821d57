package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/offlinehq/eventsync/internal/connectivity"
	"github.com/offlinehq/eventsync/internal/models"
	"github.com/offlinehq/eventsync/internal/remote"
	"github.com/offlinehq/eventsync/internal/repositories"
	"github.com/offlinehq/eventsync/internal/services"
	"github.com/offlinehq/eventsync/internal/syncer"
	"github.com/sirupsen/logrus"
)

// Handler is the UI-facing local API. Creation endpoints always queue: the
// mutation store is the only record of the user's action, so a write that did
// not persist is reported as a failure, never a success.
type Handler struct {
	mutations   repositories.MutationRepository
	coordinator *syncer.Coordinator
	monitor     *connectivity.Monitor
	catalog     *services.CatalogService
	sessions    *services.SessionService
	log         *logrus.Entry
}

func NewHandler(
	mutations repositories.MutationRepository,
	coordinator *syncer.Coordinator,
	monitor *connectivity.Monitor,
	catalog *services.CatalogService,
	sessions *services.SessionService,
	log *logrus.Entry,
) *Handler {
	return &Handler{
		mutations:   mutations,
		coordinator: coordinator,
		monitor:     monitor,
		catalog:     catalog,
		sessions:    sessions,
		log:         log,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/accounts", h.createAccount)
	r.Post("/registrations", h.createRegistration)
	r.Post("/attendances", h.createAttendance)
	r.Get("/status", h.status)
	r.Put("/connectivity/manual-offline", h.setManualOffline)
	r.Post("/sync", h.triggerSync)
	r.Get("/events", h.listEvents)
	r.Get("/events/{id}", h.getEvent)
	r.Get("/registrations", h.listRegistrations)
	r.Post("/auth/login", h.login)
	r.Post("/auth/logout", h.logout)
	r.Get("/session", h.currentSession)
}

type enqueueResponse struct {
	LocalID    string    `json:"localId"`
	CapturedAt time.Time `json:"capturedAt"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var payload models.AccountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Name == "" || payload.Email == "" || payload.Password == "" {
		respondError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}
	h.enqueue(w, r, models.KindAccount, payload)
}

func (h *Handler) createRegistration(w http.ResponseWriter, r *http.Request) {
	var payload models.RegistrationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.EventID == "" {
		respondError(w, http.StatusBadRequest, "eventId is required")
		return
	}
	h.enqueue(w, r, models.KindRegistration, payload)
}

func (h *Handler) createAttendance(w http.ResponseWriter, r *http.Request) {
	var payload models.AttendancePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.RegistrationLocalID == "" {
		respondError(w, http.StatusBadRequest, "registrationLocalId is required")
		return
	}
	h.enqueue(w, r, models.KindAttendance, payload)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, kind models.Kind, payload any) {
	capturedAt := time.Now()
	localID, err := h.mutations.Enqueue(r.Context(), kind, payload, capturedAt)
	if errors.Is(err, repositories.ErrPersistence) {
		h.log.WithError(err).WithField("kind", kind).Error("enqueue failed")
		respondError(w, http.StatusInternalServerError, "failed to durably queue the action; it was NOT saved")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, enqueueResponse{LocalID: localID, CapturedAt: capturedAt})
}

type statusResponse struct {
	syncer.Status
	Online        bool `json:"online"`
	ManualOffline bool `json:"manualOffline"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.coordinator.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{
		Status:        status,
		Online:        h.monitor.EffectivelyOnline(),
		ManualOffline: h.monitor.ManualOffline(),
	})
}

func (h *Handler) setManualOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.monitor.SetManualOffline(body.Enabled); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{
		"manualOffline": body.Enabled,
		"online":        h.monitor.EffectivelyOnline(),
	})
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.coordinator.Trigger(r.Context()).Wait(r.Context())
	switch {
	case errors.Is(err, syncer.ErrNotOnline):
		respondError(w, http.StatusConflict, "not online; sync will run on the next connectivity event")
	case errors.Is(err, syncer.ErrBackingOff):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, remote.ErrTransport):
		respondError(w, http.StatusBadGateway, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusOK, report)
	}
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.catalog.Events(r.Context())
	if errors.Is(err, services.ErrUnavailable) {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.catalog.Event(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, services.ErrUnavailable) {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, event)
}

func (h *Handler) listRegistrations(w http.ResponseWriter, r *http.Request) {
	registrations, err := h.catalog.Registrations(r.Context())
	if errors.Is(err, services.ErrUnavailable) {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, registrations)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var session *models.Session
	var err error
	if h.monitor.EffectivelyOnline() {
		session, err = h.sessions.Establish(r.Context(), body.Email, body.Password)
		if err != nil && errors.Is(err, remote.ErrTransport) {
			// Authority flapped mid-login; fall back to the offline identity.
			session, err = h.sessions.OfflineLogin(r.Context(), body.Email, body.Password)
		}
	} else {
		session, err = h.sessions.OfflineLogin(r.Context(), body.Email, body.Password)
	}

	if errors.Is(err, services.ErrInvalidCredentials) {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Clear(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Current(r.Context())
	if errors.Is(err, services.ErrNoSession) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}
