package ciba

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/khanghh/koidc/internal/config"
	"github.com/khanghh/koidc/internal/store"
	"github.com/khanghh/koidc/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memoryRequestRepository struct {
	mu       sync.Mutex
	requests map[string]*model.CibaRequest
	updates  map[string][]Status

	findErr   error
	updateErr error
	findPanic bool
	findHook  func()
}

var _ RequestRepository = (*memoryRequestRepository)(nil)

func newMemoryRequestRepository() *memoryRequestRepository {
	return &memoryRequestRepository{
		requests: make(map[string]*model.CibaRequest),
		updates:  make(map[string][]Status),
	}
}

func (r *memoryRequestRepository) Create(ctx context.Context, req *model.CibaRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[req.AuthReqID]; ok {
		return gorm.ErrDuplicatedKey
	}
	copied := *req
	r.requests[req.AuthReqID] = &copied
	return nil
}

func (r *memoryRequestRepository) First(ctx context.Context, authReqID string) (*model.CibaRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[authReqID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *req
	return &copied, nil
}

func (r *memoryRequestRepository) UpdateStatus(ctx context.Context, authReqID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates[authReqID] = append(r.updates[authReqID], status)
	if req, ok := r.requests[authReqID]; ok {
		req.Status = string(status)
	}
	return nil
}

func (r *memoryRequestRepository) Delete(ctx context.Context, authReqID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[authReqID]; !ok {
		return 0, nil
	}
	delete(r.requests, authReqID)
	return 1, nil
}

func (r *memoryRequestRepository) FindExpiredByStatus(ctx context.Context, status Status, before time.Time, limit int) ([]*model.CibaRequest, error) {
	if r.findHook != nil {
		r.findHook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findPanic {
		panic("find exploded")
	}
	if r.findErr != nil {
		return nil, r.findErr
	}
	var result []*model.CibaRequest
	for _, req := range r.requests {
		if req.Status == string(status) && !req.ExpirationDate.After(before) {
			copied := *req
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpirationDate.Before(result[j].ExpirationDate)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memoryRequestRepository) has(authReqID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.requests[authReqID]
	return ok
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	repo  *memoryRequestRepository
	mr    *miniredis.Miniredis
	store *Store
	clock *fakeClock
}

func newTestEnv(t *testing.T, cacheGraceSeconds int) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := newMemoryRequestRepository()
	clock := newFakeClock()
	cibaStore := NewStore(repo, store.NewRedisStorage(rdb), cacheGraceSeconds)
	cibaStore.now = clock.Now
	cibaStore.retryDelay = time.Millisecond
	return &testEnv{repo: repo, mr: mr, store: cibaStore, clock: clock}
}

func defaultCibaConfig(t *testing.T) config.CibaConfig {
	t.Helper()
	var cfg config.Config
	require.NoError(t, cfg.Sanitize())
	return cfg.Ciba
}

// newSweeperEnv builds an environment with the grace window a sanitized
// configuration would use.
func newSweeperEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnv(t, defaultCibaConfig(t).CacheGraceSeconds)
}

// advance moves the store clock and the redis clock together so cache TTLs
// elapse along with request lifetimes.
func (e *testEnv) advance(d time.Duration) {
	e.clock.Advance(d)
	e.mr.FastForward(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(clientID string, mode model.DeliveryMode) *model.Client {
	client := &model.Client{ClientID: clientID, BackchannelDeliveryMode: mode}
	if mode != model.DeliveryModePoll {
		client.BackchannelNotificationEndpoint = "https://" + clientID + ".example.com/cb"
	}
	return client
}
