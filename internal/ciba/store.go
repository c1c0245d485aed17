package ciba

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khanghh/koidc/internal/common"
	"github.com/khanghh/koidc/internal/store"
	"github.com/khanghh/koidc/model"
	"github.com/khanghh/koidc/params"
)

// Store keeps CIBA requests in two places: the durable repository, which
// decides whether a request still exists, and the cache mirror, which decides
// whether it is still being awaited. The two may disagree for a while.
type Store struct {
	requestRepo RequestRepository
	cache       store.Store[CacheControl]
	cacheGrace  time.Duration
	retryDelay  time.Duration
	now         func() time.Time
}

func (s *Store) CacheKey(authReqID string) string {
	return params.CibaKeyPrefix + authReqID
}

// Register persists a PENDING request expiring expiresIn seconds from now and
// mirrors it into the cache for expiresIn plus the configured grace window.
func (s *Store) Register(ctx context.Context, req *CacheControl, expiresIn int) error {
	if expiresIn <= 0 {
		return ErrInvalidExpiresIn
	}
	if req.AuthReqID == "" {
		authReqID, err := common.GenerateSecret(params.AuthReqIDLength)
		if err != nil {
			return err
		}
		req.AuthReqID = authReqID
	}

	lifetime := time.Duration(expiresIn) * time.Second
	creationDate := s.now().Truncate(time.Second)
	expirationDate := creationDate.Add(lifetime)

	req.Status = string(StatusPending)
	req.ExpiresIn = int64(expiresIn)
	req.CreatedAt = creationDate.Unix()
	req.ExpiresAt = expirationDate.Unix()

	record := &model.CibaRequest{
		AuthReqID:      req.AuthReqID,
		ClientID:       req.ClientID,
		UserID:         req.UserID,
		Scope:          req.Scope,
		Status:         string(StatusPending),
		CreationDate:   creationDate,
		ExpirationDate: expirationDate,
	}
	if err := s.requestRepo.Create(ctx, record); err != nil {
		if common.IsDuplicateKeyError(err) {
			return ErrRequestExists
		}
		return fmt.Errorf("persist ciba request: %w", err)
	}

	if err := s.cache.Set(ctx, s.CacheKey(req.AuthReqID), *req, lifetime+s.cacheGrace); err != nil {
		if _, delErr := s.requestRepo.Delete(ctx, req.AuthReqID); delErr != nil {
			slog.Error("Failed to roll back ciba request", "authReqID", req.AuthReqID, "error", delErr)
		}
		return fmt.Errorf("cache ciba request: %w", err)
	}
	return nil
}

// Get reads the cache mirror, retrying once on a miss. It never falls back to
// the durable record.
func (s *Store) Get(ctx context.Context, authReqID string) (*CacheControl, error) {
	req, err := s.lookup(ctx, authReqID)
	if !errors.Is(err, ErrRequestNotFound) {
		return req, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.retryDelay):
	}
	return s.lookup(ctx, authReqID)
}

// lookup reads the cache mirror once.
func (s *Store) lookup(ctx context.Context, authReqID string) (*CacheControl, error) {
	req, err := s.cache.Get(ctx, s.CacheKey(authReqID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateStatus is best effort: failures are logged and never returned.
func (s *Store) UpdateStatus(ctx context.Context, req *model.CibaRequest, status Status) {
	if err := s.requestRepo.UpdateStatus(ctx, req.AuthReqID, status); err != nil {
		slog.Error("Failed to update ciba request status",
			"authReqID", req.AuthReqID,
			"status", status,
			"error", err,
		)
		return
	}
	req.Status = string(status)
}

// SetCacheStatus rewrites the mirror status keeping its remaining TTL.
func (s *Store) SetCacheStatus(ctx context.Context, authReqID string, status Status) error {
	key := s.CacheKey(authReqID)
	req, err := s.cache.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	req.Status = string(status)
	return s.cache.Save(ctx, key, req)
}

func (s *Store) Remove(ctx context.Context, authReqID string) error {
	_, err := s.requestRepo.Delete(ctx, authReqID)
	return err
}

func (s *Store) RemoveFromCache(ctx context.Context, cacheKey string) error {
	if err := s.cache.Delete(ctx, cacheKey); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// LoadExpiredByStatus returns up to limit durable requests in the given status
// whose expiration date has passed.
func (s *Store) LoadExpiredByStatus(ctx context.Context, status Status, limit int) ([]*model.CibaRequest, error) {
	return s.requestRepo.FindExpiredByStatus(ctx, status, s.now(), limit)
}

func NewStore(requestRepo RequestRepository, storage store.Storage, cacheGraceSeconds int) *Store {
	return &Store{
		requestRepo: requestRepo,
		cache:       store.New[CacheControl](storage, ""),
		cacheGrace:  time.Duration(cacheGraceSeconds) * time.Second,
		retryDelay:  params.CibaCacheRetryDelay,
		now:         time.Now,
	}
}
