package grants

import (
	"context"
	"log/slog"
	"time"

	"github.com/khanghh/koidc/params"
)

// Housekeeper periodically removes expired tokens that are flagged deletable.
type Housekeeper struct {
	tokenService *TokenService
	logger       *slog.Logger
	interval     time.Duration
	batchSize    int

	stopCh chan struct{}
	doneCh chan struct{}
}

func (h *Housekeeper) Start() {
	go h.run()
	h.logger.Info("token housekeeper started", "interval", h.interval, "batchSize", h.batchSize)
}

// Stop blocks until an in-progress cleanup has finished.
func (h *Housekeeper) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.logger.Info("token housekeeper stopped")
}

func (h *Housekeeper) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Cleanup(context.Background())
	for {
		select {
		case <-ticker.C:
			h.Cleanup(context.Background())
		case <-h.stopCh:
			return
		}
	}
}

// Cleanup deletes expired tokens batch by batch until a batch comes back short.
func (h *Housekeeper) Cleanup(ctx context.Context) int64 {
	var total int64
	for {
		deleted, err := h.tokenService.DeleteExpired(ctx, h.batchSize)
		if err != nil {
			h.logger.Error("failed to delete expired tokens", "error", err)
			break
		}
		total += deleted
		if deleted < int64(h.batchSize) {
			break
		}
	}
	if total > 0 {
		h.logger.Info("expired tokens removed", "count", total)
	}
	return total
}

func NewHousekeeper(tokenService *TokenService, logger *slog.Logger, interval time.Duration, batchSize int) *Housekeeper {
	if interval <= 0 {
		interval = params.TokenCleanupInterval
	}
	if batchSize <= 0 {
		batchSize = params.TokenCleanupBatchSize
	}
	return &Housekeeper{
		tokenService: tokenService,
		logger:       logger,
		interval:     interval,
		batchSize:    batchSize,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}
