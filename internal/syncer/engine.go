package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/offlinehq/eventsync/internal/models"
	"github.com/offlinehq/eventsync/internal/repositories"
	"github.com/sirupsen/logrus"
)

// ErrNotOnline is returned when a pass is requested while effectively offline.
// Nothing is read or written; the caller waits for a connectivity event.
var ErrNotOnline = errors.New("not effectively online")

// Authority is the upload slice of the remote client.
type Authority interface {
	UploadBatch(ctx context.Context, batch *models.SyncBatch) (*models.SyncResponse, error)
}

// SessionSource supplies the current session and can establish a new one,
// which the engine uses to promote an offline identity after its account
// mutation lands.
type SessionSource interface {
	Current(ctx context.Context) (*models.Session, error)
	Establish(ctx context.Context, email, password string) (*models.Session, error)
}

// Engine runs one reconciliation pass: collect pending mutations, order by
// dependency, build one batch that preserves business time, upload it, and
// mark the accepted envelopes. It keeps no identifier translation table: the
// authority is the single source of truth for the local-id to server-id
// mapping, and local ids are only ever resolved within a single batch.
//
// The engine is not safe for concurrent passes; the Coordinator serializes it.
type Engine struct {
	mutations  repositories.MutationRepository
	authority  Authority
	sessions   SessionSource
	online     func() bool
	isServerID func(string) bool
	log        *logrus.Entry
}

// NewEngine wires an engine. isServerID is the discriminator between
// server-shaped and locally minted identifiers; nil selects models.IsServerID.
func NewEngine(
	mutations repositories.MutationRepository,
	authority Authority,
	sessions SessionSource,
	online func() bool,
	isServerID func(string) bool,
	log *logrus.Entry,
) *Engine {
	if isServerID == nil {
		isServerID = models.IsServerID
	}
	return &Engine{
		mutations:  mutations,
		authority:  authority,
		sessions:   sessions,
		online:     online,
		isServerID: isServerID,
		log:        log,
	}
}

// Run executes one pass. It is idempotent with respect to already
// synchronized envelopes: they are never listed, so a second pass right after
// a successful one uploads nothing.
func (e *Engine) Run(ctx context.Context) (*models.SyncReport, error) {
	if !e.online() {
		return nil, ErrNotOnline
	}

	// Collect: each listing is a snapshot; anything enqueued from here on
	// belongs to the next pass.
	accounts, err := e.mutations.ListPending(ctx, models.KindAccount)
	if err != nil {
		return nil, err
	}
	registrations, err := e.mutations.ListPending(ctx, models.KindRegistration)
	if err != nil {
		return nil, err
	}
	attendances, err := e.mutations.ListPending(ctx, models.KindAttendance)
	if err != nil {
		return nil, err
	}

	report := &models.SyncReport{FinishedAt: time.Now()}
	if len(accounts)+len(registrations)+len(attendances) == 0 {
		report.Message = "nothing pending"
		return report, nil
	}

	session, sessErr := e.sessions.Current(ctx)
	hadSession := sessErr == nil && session != nil && !session.Offline

	var ownerFallback *string
	if hadSession && e.isServerID(session.AccountID) {
		ownerFallback = &session.AccountID
	}

	syncedAccounts, err := e.syncedRefs(ctx, models.KindAccount)
	if err != nil {
		return nil, err
	}
	syncedRegistrations, err := e.syncedRefs(ctx, models.KindRegistration)
	if err != nil {
		return nil, err
	}

	batch, included, skipped, stranded := e.buildBatch(accounts, registrations, attendances,
		ownerFallback, syncedAccounts, syncedRegistrations)
	report.Skipped = skipped
	report.Stranded = stranded

	if batch.Empty() {
		report.Message = "nothing uploadable"
		return report, nil
	}

	resp, err := e.authority.UploadBatch(ctx, batch)
	if err != nil {
		// Whole pass aborts; no envelope was marked, so the next trigger
		// retries the same set.
		return nil, fmt.Errorf("failed to upload batch: %w", err)
	}

	for kind, envelopes := range included {
		for _, envelope := range envelopes {
			if err := e.mutations.MarkSynchronized(ctx, kind, envelope.LocalID); err != nil {
				e.log.WithError(err).WithFields(logrus.Fields{
					"kind":    kind,
					"localId": envelope.LocalID,
				}).Error("failed to mark mutation synchronized")
			}
		}
	}

	report.AccountsProcessed = resp.AccountsProcessed
	report.RegistrationsProcessed = resp.RegistrationsProcessed
	report.AttendancesProcessed = resp.AttendancesProcessed
	report.AuthorityErrors = resp.Errors
	report.Message = resp.Message
	report.FinishedAt = time.Now()

	// Offline identity graduates to online identity as soon as a network
	// path exists, or the user cannot reach their own synced data.
	if len(batch.Accounts) > 0 && !hadSession {
		first := batch.Accounts[0]
		if _, err := e.sessions.Establish(ctx, first.Email, first.Password); err != nil {
			e.log.WithError(err).WithField("email", first.Email).
				Warn("failed to establish session after account sync")
		}
	}

	return report, nil
}

// syncedRefs collects the local identifiers of already-synchronized envelopes
// in one partition. A dependent that references one of them is stranded: the
// engine keeps no identifier translation table, so the mapping only existed
// inside the batch that carried the parent.
func (e *Engine) syncedRefs(ctx context.Context, kind models.Kind) (map[string]bool, error) {
	all, err := e.mutations.ListAll(ctx, kind)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool)
	for _, m := range all {
		if m.Synchronized {
			refs[m.LocalID] = true
		}
	}
	return refs, nil
}

// buildBatch validates the dependency graph and assembles the upload arrays in
// insertion order. Items that cannot be resolved stay pending and are counted,
// never dropped; references to parents synchronized in an earlier pass are
// counted as stranded instead of skipped.
func (e *Engine) buildBatch(
	accounts, registrations, attendances []models.PendingMutation,
	ownerFallback *string,
	syncedAccounts, syncedRegistrations map[string]bool,
) (*models.SyncBatch, map[models.Kind][]models.PendingMutation, int, int) {
	batch := &models.SyncBatch{}
	included := make(map[models.Kind][]models.PendingMutation)
	skipped := 0
	stranded := 0

	accountRefs := make(map[string]bool)
	for _, m := range accounts {
		var payload models.AccountPayload
		if err := m.DecodePayload(&payload); err != nil {
			e.log.WithError(err).WithField("localId", m.LocalID).Warn("undecodable account mutation, leaving pending")
			skipped++
			continue
		}
		if payload.Password == "" {
			// Without the password the authority could never authenticate
			// this user again; report it instead of uploading a dead account.
			e.log.WithField("localId", m.LocalID).Warn("account mutation has no password, skipping")
			skipped++
			continue
		}

		item := models.AccountSync{
			LocalRef:       m.LocalID,
			Name:           payload.Name,
			Email:          payload.Email,
			Password:       payload.Password,
			Phone:          payload.Phone,
			CreatedOffline: true,
			CapturedAt:     m.CapturedAt,
		}
		if e.isServerID(m.LocalID) {
			id := m.LocalID
			item.ID = &id
		}
		batch.Accounts = append(batch.Accounts, item)
		included[models.KindAccount] = append(included[models.KindAccount], m)
		accountRefs[m.LocalID] = true
	}

	registrationRefs := make(map[string]bool)
	for _, m := range registrations {
		var payload models.RegistrationPayload
		if err := m.DecodePayload(&payload); err != nil {
			e.log.WithError(err).WithField("localId", m.LocalID).Warn("undecodable registration mutation, leaving pending")
			skipped++
			continue
		}

		item := models.RegistrationSync{
			LocalRef:       m.LocalID,
			EventID:        payload.EventID,
			CreatedOffline: true,
			CapturedAt:     m.CapturedAt,
		}
		if e.isServerID(m.LocalID) {
			id := m.LocalID
			item.ID = &id
		}

		switch {
		case payload.OwnerLocalID == "":
			if ownerFallback == nil {
				e.log.WithField("localId", m.LocalID).Warn("registration has no owner and no session, skipping")
				skipped++
				continue
			}
			item.OwnerID = ownerFallback
		case e.isServerID(payload.OwnerLocalID):
			// Owner synced in an earlier pass; forward the real id unchanged.
			owner := payload.OwnerLocalID
			item.OwnerID = &owner
		case payload.OwnerLocalID == m.LocalID:
			e.log.WithField("localId", m.LocalID).Error("registration depends on itself, skipping")
			skipped++
			continue
		case accountRefs[payload.OwnerLocalID]:
			// Owner travels in this same batch; the authority maps both
			// atomically through the local ref.
			item.OwnerLocalRef = payload.OwnerLocalID
		case syncedAccounts[payload.OwnerLocalID]:
			// Owner synced in an earlier pass and its minted identifier is
			// gone; no retry resolves this.
			e.log.WithFields(logrus.Fields{
				"localId": m.LocalID,
				"ownerId": payload.OwnerLocalID,
			}).Error("registration owner already synchronized, mapping lost")
			stranded++
			continue
		default:
			e.log.WithFields(logrus.Fields{
				"localId": m.LocalID,
				"ownerId": payload.OwnerLocalID,
			}).Warn("registration owner unresolved, leaving pending")
			skipped++
			continue
		}

		batch.Registrations = append(batch.Registrations, item)
		included[models.KindRegistration] = append(included[models.KindRegistration], m)
		registrationRefs[m.LocalID] = true
	}

	for _, m := range attendances {
		var payload models.AttendancePayload
		if err := m.DecodePayload(&payload); err != nil {
			e.log.WithError(err).WithField("localId", m.LocalID).Warn("undecodable attendance mutation, leaving pending")
			skipped++
			continue
		}

		item := models.AttendanceSync{
			LocalRef:       m.LocalID,
			CreatedOffline: true,
			CapturedAt:     m.CapturedAt,
		}
		if e.isServerID(m.LocalID) {
			id := m.LocalID
			item.ID = &id
		}

		switch {
		case payload.RegistrationLocalID == "":
			e.log.WithField("localId", m.LocalID).Warn("attendance has no registration, skipping")
			skipped++
			continue
		case e.isServerID(payload.RegistrationLocalID):
			reg := payload.RegistrationLocalID
			item.RegistrationID = &reg
		case payload.RegistrationLocalID == m.LocalID:
			e.log.WithField("localId", m.LocalID).Error("attendance depends on itself, skipping")
			skipped++
			continue
		case registrationRefs[payload.RegistrationLocalID]:
			item.RegistrationLocalRef = payload.RegistrationLocalID
		case syncedRegistrations[payload.RegistrationLocalID]:
			e.log.WithFields(logrus.Fields{
				"localId":        m.LocalID,
				"registrationId": payload.RegistrationLocalID,
			}).Error("attendance registration already synchronized, mapping lost")
			stranded++
			continue
		default:
			e.log.WithFields(logrus.Fields{
				"localId":        m.LocalID,
				"registrationId": payload.RegistrationLocalID,
			}).Warn("attendance registration unresolved, leaving pending")
			skipped++
			continue
		}

		batch.Attendances = append(batch.Attendances, item)
		included[models.KindAttendance] = append(included[models.KindAttendance], m)
	}

	return batch, included, skipped, stranded
}
