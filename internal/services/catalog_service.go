package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/offlinehq/eventsync/internal/models"
	"github.com/offlinehq/eventsync/internal/repositories"
	"github.com/sirupsen/logrus"
)

const (
	// CacheKindCatalog is near-static event data; CacheKindUser is volatile
	// per-user data. They carry different TTLs.
	CacheKindCatalog = "events"
	CacheKindUser    = "registrations"

	// collectionKey is the sentinel secondary key for whole-collection reads.
	collectionKey = "all"
)

// ErrUnavailable means the authority could not serve the read and the cache
// had nothing fresh enough.
var ErrUnavailable = errors.New("data unavailable offline")

// CatalogClient is the read slice of the authority client.
type CatalogClient interface {
	FetchEvents(ctx context.Context) ([]models.Event, error)
	FetchEvent(ctx context.Context, id string) (*models.Event, error)
	FetchRegistrations(ctx context.Context) ([]models.Registration, error)
}

// OnlineFunc reports the effective connectivity state.
type OnlineFunc func() bool

// CatalogService serves display reads: from the authority when online
// (refreshing the cache on the way through), from the cache otherwise. It
// plays no part in the upload path.
type CatalogService struct {
	cache  repositories.CacheRepository
	client CatalogClient
	online OnlineFunc
	log    *logrus.Entry
}

func NewCatalogService(cache repositories.CacheRepository, client CatalogClient, online OnlineFunc, log *logrus.Entry) *CatalogService {
	return &CatalogService{cache: cache, client: client, online: online, log: log}
}

func (s *CatalogService) Events(ctx context.Context) ([]models.Event, error) {
	if s.online() {
		events, err := s.client.FetchEvents(ctx)
		if err == nil {
			if cacheErr := s.cache.Put(ctx, CacheKindCatalog, collectionKey, events); cacheErr != nil {
				s.log.WithError(cacheErr).Warn("failed to cache event catalog")
			}
			return events, nil
		}
		s.log.WithError(err).Warn("catalog fetch failed, falling back to cache")
	}

	data, err := s.cache.Get(ctx, CacheKindCatalog, collectionKey)
	if errors.Is(err, repositories.ErrCacheMiss) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, err
	}

	var events []models.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode cached catalog: %w", err)
	}
	return events, nil
}

func (s *CatalogService) Event(ctx context.Context, id string) (*models.Event, error) {
	if s.online() {
		event, err := s.client.FetchEvent(ctx, id)
		if err == nil {
			if cacheErr := s.cache.Put(ctx, CacheKindCatalog, id, event); cacheErr != nil {
				s.log.WithError(cacheErr).Warn("failed to cache event")
			}
			return event, nil
		}
		s.log.WithError(err).Warn("event fetch failed, falling back to cache")
	}

	data, err := s.cache.Get(ctx, CacheKindCatalog, id)
	if errors.Is(err, repositories.ErrCacheMiss) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, err
	}

	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode cached event: %w", err)
	}
	return &event, nil
}

// Registrations serves the user's own registrations the same way: authority
// first, cache fallback. This data is volatile, so it lives under the
// short-TTL per-user kind rather than the catalog kind.
func (s *CatalogService) Registrations(ctx context.Context) ([]models.Registration, error) {
	if s.online() {
		registrations, err := s.client.FetchRegistrations(ctx)
		if err == nil {
			if cacheErr := s.cache.Put(ctx, CacheKindUser, collectionKey, registrations); cacheErr != nil {
				s.log.WithError(cacheErr).Warn("failed to cache registrations")
			}
			return registrations, nil
		}
		s.log.WithError(err).Warn("registrations fetch failed, falling back to cache")
	}

	data, err := s.cache.Get(ctx, CacheKindUser, collectionKey)
	if errors.Is(err, repositories.ErrCacheMiss) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, err
	}

	var registrations []models.Registration
	if err := json.Unmarshal(data, &registrations); err != nil {
		return nil, fmt.Errorf("failed to decode cached registrations: %w", err)
	}
	return registrations, nil
}

// Warm prefetches the catalog into the cache so a later offline session has
// something to browse.
func (s *CatalogService) Warm(ctx context.Context) error {
	events, err := s.client.FetchEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to prefetch catalog: %w", err)
	}
	if err := s.cache.Put(ctx, CacheKindCatalog, collectionKey, events); err != nil {
		return err
	}
	for i := range events {
		if err := s.cache.Put(ctx, CacheKindCatalog, events[i].ID, &events[i]); err != nil {
			return err
		}
	}
	s.log.WithField("events", len(events)).Info("catalog cache warmed")
	return nil
}
