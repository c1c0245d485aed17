package ciba

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/khanghh/koidc/internal/audit"
	"github.com/khanghh/koidc/internal/common"
	"github.com/khanghh/koidc/internal/config"
	"github.com/khanghh/koidc/model"
	"github.com/khanghh/koidc/params"
)

const (
	ErrorExpiredToken            = "expired_token"
	ErrorExpiredTokenDescription = "The auth_req_id has expired"
)

// CallbackSender delivers backchannel notifications to client endpoints.
type CallbackSender interface {
	SendPushError(ctx context.Context, authReqID, endpoint, notificationToken, errorCode, description string) error
	SendPingCallback(ctx context.Context, authReqID, endpoint, notificationToken string) error
}

type notifyFunc func(ctx context.Context, req *CacheControl) error

// Sweeper expires PENDING requests whose expiration date has passed. Each
// expired request gets one callback according to the client delivery mode and
// its durable record is removed.
type Sweeper struct {
	store              *Store
	sender             CallbackSender
	logger             *slog.Logger
	guard              Guard
	notifiers          map[model.DeliveryMode]notifyFunc
	tickInterval       time.Duration
	processingInterval time.Duration
	chunkSize          int
	lastFinished       time.Time // guarded by guard
	disabledOnce       sync.Once
	now                func() time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}
	doneCh chan struct{}
}

func (s *Sweeper) Disabled() bool {
	return s.processingInterval < 0
}

func (s *Sweeper) Start() {
	if s.Disabled() {
		s.logDisabled()
		close(s.doneCh)
		return
	}
	go s.run()
	s.logger.Info("ciba sweeper started",
		"tickInterval", s.tickInterval,
		"processingInterval", s.processingInterval,
		"chunkSize", s.chunkSize,
	)
}

// Stop waits for the running tick and every dispatched callback to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Wait()
	s.logger.Info("ciba sweeper stopped")
}

// Wait blocks until every dispatched callback has returned.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) logDisabled() {
	s.disabledOnce.Do(func() {
		s.logger.Info("ciba sweeper disabled", "processingInterval", s.processingInterval)
	})
}

// Tick runs one sweep unless another one is in progress on this process or
// the processing interval has not elapsed since the last completed sweep.
// It reports whether the sweep body ran.
func (s *Sweeper) Tick(ctx context.Context) (ran bool) {
	if s.Disabled() {
		s.logDisabled()
		return false
	}
	if !s.guard.TryAcquire() {
		s.logger.Debug("ciba sweep already running, skipping tick")
		return false
	}
	defer s.guard.Release()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("ciba sweep panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if !s.lastFinished.IsZero() && s.now().Sub(s.lastFinished) < s.processingInterval {
		return false
	}

	ran = true
	if err := s.sweep(ctx); err != nil {
		s.logger.Error("ciba sweep failed", "error", err)
		return ran
	}
	s.lastFinished = s.now()
	return ran
}

func (s *Sweeper) sweep(ctx context.Context) error {
	requests, err := s.store.LoadExpiredByStatus(ctx, StatusPending, s.chunkSize)
	if err != nil {
		return fmt.Errorf("load expired ciba requests: %w", err)
	}
	if len(requests) == 0 {
		return nil
	}

	for _, req := range requests {
		s.store.UpdateStatus(ctx, req, StatusInProcess)
	}

	// single read here, expire re-reads with retry
	for _, req := range requests {
		mirror, err := s.store.lookup(ctx, req.AuthReqID)
		switch {
		case err == nil:
			s.dispatch(ctx, mirror)
		case errors.Is(err, ErrRequestNotFound):
			s.logger.Debug("ciba request already left the cache", "authReqID", req.AuthReqID)
		default:
			s.logger.Warn("Failed to read ciba request from cache", "authReqID", req.AuthReqID, "error", err)
		}

		if err := s.store.Remove(ctx, req.AuthReqID); err != nil {
			s.logger.Error("Failed to remove ciba request", "authReqID", req.AuthReqID, "error", err)
		}
	}
	s.logger.Info("ciba requests expired", "count", len(requests))
	return nil
}

// dispatch runs the expiry notification in its own goroutine. The caller
// never waits for it.
func (s *Sweeper) dispatch(ctx context.Context, req *CacheControl) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("ciba callback panicked", "authReqID", req.AuthReqID, "panic", r)
			}
		}()
		s.expire(ctx, req)
	}()
}

func (s *Sweeper) expire(ctx context.Context, req *CacheControl) {
	current, err := s.store.Get(ctx, req.AuthReqID)
	if err != nil {
		s.logger.Debug("ciba request gone before callback", "authReqID", req.AuthReqID, "error", err)
		return
	}
	if status := current.CacheStatus(); status != StatusPending && status != StatusExpired {
		s.logger.Debug("ciba request settled before expiry", "authReqID", req.AuthReqID, "status", status)
		return
	}

	if err := s.store.RemoveFromCache(ctx, s.store.CacheKey(current.AuthReqID)); err != nil {
		s.logger.Warn("Failed to remove ciba request from cache", "authReqID", current.AuthReqID, "error", err)
	}

	notify, ok := s.notifiers[current.Mode()]
	if !ok {
		s.logger.Warn("Unknown backchannel delivery mode", "authReqID", current.AuthReqID, "mode", current.DeliveryMode)
		return
	}
	if err := notify(ctx, current); err != nil {
		s.logger.Warn("ciba expiry callback failed",
			"authReqID", current.AuthReqID,
			"mode", current.DeliveryMode,
			"endpoint", current.NotificationEndpoint,
			"error", err,
		)
	}
	err = audit.RecordCibaExpired(ctx, audit.CibaRecord{
		ClientID:  current.ClientID,
		UserID:    current.UserID,
		AuthReqID: current.AuthReqID,
		Reason:    current.DeliveryMode,
	})
	if err != nil {
		s.logger.Error("Failed to record ciba expiry audit event", "authReqID", current.AuthReqID, "error", err)
	}
}

func (s *Sweeper) notifyPushError(ctx context.Context, req *CacheControl) error {
	s.logger.Debug("sending ciba push error",
		"authReqID", req.AuthReqID,
		"token", common.MaskSecret(req.NotificationToken),
	)
	return s.sender.SendPushError(ctx, req.AuthReqID, req.NotificationEndpoint, req.NotificationToken,
		ErrorExpiredToken, ErrorExpiredTokenDescription)
}

func (s *Sweeper) notifyPing(ctx context.Context, req *CacheControl) error {
	s.logger.Debug("sending ciba ping",
		"authReqID", req.AuthReqID,
		"token", common.MaskSecret(req.NotificationToken),
	)
	return s.sender.SendPingCallback(ctx, req.AuthReqID, req.NotificationEndpoint, req.NotificationToken)
}

func notifyNone(ctx context.Context, req *CacheControl) error {
	return nil
}

func NewSweeper(cibaStore *Store, sender CallbackSender, cfg config.CibaConfig, logger *slog.Logger) *Sweeper {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = params.CibaDefaultChunkSize
	}
	tickInterval := cfg.TickDuration()
	if tickInterval <= 0 {
		tickInterval = params.CibaDefaultTickInterval
	}
	s := &Sweeper{
		store:              cibaStore,
		sender:             sender,
		logger:             logger,
		tickInterval:       tickInterval,
		processingInterval: cfg.ProcessingDuration(),
		chunkSize:          cfg.ChunkSize,
		now:                time.Now,
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
	s.notifiers = map[model.DeliveryMode]notifyFunc{
		model.DeliveryModePush: s.notifyPushError,
		model.DeliveryModePing: s.notifyPing,
		model.DeliveryModePoll: notifyNone,
	}
	return s
}
