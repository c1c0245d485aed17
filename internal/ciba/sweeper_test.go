package ciba

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/khanghh/koidc/internal/audit"
	"github.com/khanghh/koidc/internal/config"
	"github.com/khanghh/koidc/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callback struct {
	kind              string
	authReqID         string
	endpoint          string
	notificationToken string
	errorCode         string
}

type recordingSender struct {
	mu        sync.Mutex
	callbacks []callback
	block     chan struct{}
	err       error
}

var _ CallbackSender = (*recordingSender)(nil)

func (s *recordingSender) wait() {
	if s.block != nil {
		<-s.block
	}
}

func (s *recordingSender) SendPushError(ctx context.Context, authReqID, endpoint, notificationToken, errorCode, description string) error {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback{"push", authReqID, endpoint, notificationToken, errorCode})
	return s.err
}

func (s *recordingSender) SendPingCallback(ctx context.Context, authReqID, endpoint, notificationToken string) error {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback{"ping", authReqID, endpoint, notificationToken, ""})
	return s.err
}

func (s *recordingSender) recorded() []callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]callback(nil), s.callbacks...)
}

func newTestSweeper(env *testEnv, sender CallbackSender, cfg config.CibaConfig) *Sweeper {
	sweeper := NewSweeper(env.store, sender, cfg, discardLogger())
	sweeper.now = env.clock.Now
	return sweeper
}

func register(t *testing.T, env *testEnv, authReqID string, mode model.DeliveryMode, expiresIn int) {
	t.Helper()
	req := NewCacheControl(testClient("C1", mode), "u1", "openid", "token-"+authReqID)
	req.AuthReqID = authReqID
	require.NoError(t, env.store.Register(context.Background(), req, expiresIn))
}

func TestSweeperPingScenario(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{ChunkSize: 1})
	ctx := context.Background()

	register(t, env, "abc123", model.DeliveryModePing, 5)
	env.advance(6 * time.Second)

	require.True(t, sweeper.Tick(ctx))
	sweeper.Wait()

	calls := sender.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "ping", calls[0].kind)
	assert.Equal(t, "abc123", calls[0].authReqID)
	assert.Equal(t, "https://C1.example.com/cb", calls[0].endpoint)
	assert.Equal(t, "token-abc123", calls[0].notificationToken)

	_, err := env.store.Get(ctx, "abc123")
	require.ErrorIs(t, err, ErrRequestNotFound)
	assert.False(t, env.repo.has("abc123"))
}

func TestSweeperCallbackPerDeliveryMode(t *testing.T) {
	tests := []struct {
		mode  model.DeliveryMode
		calls []string
	}{
		{model.DeliveryModePush, []string{"push"}},
		{model.DeliveryModePing, []string{"ping"}},
		{model.DeliveryModePoll, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			env := newSweeperEnv(t)
			sender := &recordingSender{}
			sweeper := newTestSweeper(env, sender, config.CibaConfig{})
			ctx := context.Background()

			register(t, env, "req", tt.mode, 5)
			env.advance(5 * time.Second)

			require.True(t, sweeper.Tick(ctx))
			sweeper.Wait()

			var kinds []string
			for _, call := range sender.recorded() {
				kinds = append(kinds, call.kind)
				if call.kind == "push" {
					assert.Equal(t, ErrorExpiredToken, call.errorCode)
				}
			}
			assert.Equal(t, tt.calls, kinds)
			assert.False(t, env.repo.has("req"))
			_, err := env.store.Get(ctx, "req")
			require.ErrorIs(t, err, ErrRequestNotFound)
		})
	}
}

func TestSweeperSkipsUnexpiredRequests(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})

	register(t, env, "fresh", model.DeliveryModePing, 60)
	env.advance(30 * time.Second)

	require.True(t, sweeper.Tick(context.Background()))
	sweeper.Wait()
	assert.Empty(t, sender.recorded())
	assert.True(t, env.repo.has("fresh"))
}

func TestSweeperMarksInProcess(t *testing.T) {
	env := newSweeperEnv(t)
	sweeper := newTestSweeper(env, &recordingSender{}, config.CibaConfig{})

	register(t, env, "r1", model.DeliveryModePoll, 5)
	register(t, env, "r2", model.DeliveryModePoll, 5)
	env.advance(time.Minute)

	require.True(t, sweeper.Tick(context.Background()))
	sweeper.Wait()
	assert.Equal(t, []Status{StatusInProcess}, env.repo.updates["r1"])
	assert.Equal(t, []Status{StatusInProcess}, env.repo.updates["r2"])
}

func TestSweeperChunkSize(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{ChunkSize: 2})
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		register(t, env, id, model.DeliveryModePing, 5)
	}
	env.advance(time.Minute)

	require.True(t, sweeper.Tick(ctx))
	sweeper.Wait()
	assert.Len(t, sender.recorded(), 2)

	require.True(t, sweeper.Tick(ctx))
	sweeper.Wait()
	assert.Len(t, sender.recorded(), 3)
}

func TestSweeperMissingMirror(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})
	ctx := context.Background()

	register(t, env, "gone", model.DeliveryModePush, 5)
	require.NoError(t, env.store.RemoveFromCache(ctx, env.store.CacheKey("gone")))
	env.advance(time.Minute)

	require.True(t, sweeper.Tick(ctx))
	sweeper.Wait()
	assert.Empty(t, sender.recorded())
	assert.False(t, env.repo.has("gone"))
}

func TestSweeperMissingMirrorsDoNotWaitForRetry(t *testing.T) {
	env := newSweeperEnv(t)
	env.store.retryDelay = time.Hour
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		register(t, env, id, model.DeliveryModePing, 5)
		require.NoError(t, env.store.RemoveFromCache(ctx, env.store.CacheKey(id)))
	}
	env.advance(time.Minute)

	done := make(chan bool)
	go func() { done <- sweeper.Tick(ctx) }()
	select {
	case ran := <-done:
		assert.True(t, ran)
	case <-time.After(5 * time.Second):
		t.Fatal("sweep waited on cache retries")
	}
	sweeper.Wait()
	assert.Empty(t, sender.recorded())
	assert.False(t, env.repo.has("r1"))
}

func TestSweeperGraceKeepsMirror(t *testing.T) {
	env := newTestEnv(t, 30)
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})
	ctx := context.Background()

	register(t, env, "r1", model.DeliveryModePing, 5)
	env.advance(20 * time.Second)

	require.True(t, sweeper.Tick(ctx))
	sweeper.Wait()
	require.Len(t, sender.recorded(), 1)
}

func TestSweeperMirrorGoneWithoutGrace(t *testing.T) {
	env := newTestEnv(t, 0)
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})

	register(t, env, "r1", model.DeliveryModePing, 5)
	env.advance(6 * time.Second)

	require.True(t, sweeper.Tick(context.Background()))
	sweeper.Wait()
	assert.Empty(t, sender.recorded())
	assert.False(t, env.repo.has("r1"))
}

func TestSweeperSkipsSettledRequests(t *testing.T) {
	for _, status := range []Status{StatusAccepted, StatusDenied} {
		t.Run(string(status), func(t *testing.T) {
			env := newSweeperEnv(t)
			sender := &recordingSender{}
			sweeper := newTestSweeper(env, sender, config.CibaConfig{})
			ctx := context.Background()

			register(t, env, "r1", model.DeliveryModePush, 5)
			require.NoError(t, env.store.SetCacheStatus(ctx, "r1", status))
			env.advance(time.Minute)

			require.True(t, sweeper.Tick(ctx))
			sweeper.Wait()
			assert.Empty(t, sender.recorded())
			assert.False(t, env.repo.has("r1"))

			mirror, err := env.store.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, status, mirror.CacheStatus())
		})
	}
}

func TestSweeperExpiredMirrorStatus(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})
	ctx := context.Background()

	register(t, env, "r1", model.DeliveryModePing, 5)
	require.NoError(t, env.store.SetCacheStatus(ctx, "r1", StatusExpired))
	env.advance(time.Minute)

	require.True(t, sweeper.Tick(ctx))
	sweeper.Wait()
	assert.Len(t, sender.recorded(), 1)
}

func TestSweeperRemovalDoesNotWaitForCallback(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &recordingSender{block: make(chan struct{})}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})
	ctx := context.Background()

	register(t, env, "slow", model.DeliveryModePush, 5)
	register(t, env, "other", model.DeliveryModePing, 5)
	env.advance(time.Minute)

	done := make(chan bool)
	go func() { done <- sweeper.Tick(ctx) }()

	select {
	case ran := <-done:
		assert.True(t, ran)
	case <-time.After(5 * time.Second):
		t.Fatal("sweep blocked on callback delivery")
	}
	assert.False(t, env.repo.has("slow"))
	assert.False(t, env.repo.has("other"))
	assert.Empty(t, sender.recorded())

	close(sender.block)
	sweeper.Wait()
	assert.Len(t, sender.recorded(), 2)
}

func TestSweeperCallbackFailureIsolated(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &recordingSender{err: errors.New("connection refused")}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})
	ctx := context.Background()

	register(t, env, "r1", model.DeliveryModePush, 5)
	register(t, env, "r2", model.DeliveryModePing, 5)
	env.advance(time.Minute)

	require.True(t, sweeper.Tick(ctx))
	sweeper.Wait()
	assert.Len(t, sender.recorded(), 2)
	assert.False(t, env.repo.has("r1"))
	assert.False(t, env.repo.has("r2"))
}

type panickingSender struct {
	calls atomic.Int32
}

func (s *panickingSender) SendPushError(ctx context.Context, authReqID, endpoint, notificationToken, errorCode, description string) error {
	s.calls.Add(1)
	panic("sender exploded")
}

func (s *panickingSender) SendPingCallback(ctx context.Context, authReqID, endpoint, notificationToken string) error {
	s.calls.Add(1)
	return nil
}

func TestSweeperCallbackPanicIsolated(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &panickingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})

	register(t, env, "r1", model.DeliveryModePush, 5)
	register(t, env, "r2", model.DeliveryModePing, 5)
	env.advance(time.Minute)

	require.True(t, sweeper.Tick(context.Background()))
	sweeper.Wait()
	assert.Equal(t, int32(2), sender.calls.Load())
	assert.False(t, env.repo.has("r1"))
	assert.False(t, env.repo.has("r2"))
}

type failingAuditRepository struct{}

func (failingAuditRepository) RecordEvent(ctx context.Context, event *model.AuditEvent) error {
	return errors.New("audit table locked")
}

func TestSweeperLogsAuditFailure(t *testing.T) {
	audit.Initialize(failingAuditRepository{})
	t.Cleanup(func() { audit.Initialize(nil) })

	env := newSweeperEnv(t)
	sender := &recordingSender{}
	var logs bytes.Buffer
	sweeper := NewSweeper(env.store, sender, config.CibaConfig{}, slog.New(slog.NewTextHandler(&logs, nil)))
	sweeper.now = env.clock.Now

	register(t, env, "r1", model.DeliveryModePing, 5)
	env.advance(6 * time.Second)

	require.True(t, sweeper.Tick(context.Background()))
	sweeper.Wait()
	assert.Len(t, sender.recorded(), 1)
	assert.Contains(t, logs.String(), "Failed to record ciba expiry audit event")
	assert.Contains(t, logs.String(), "audit table locked")
}

func TestSweeperSingleFlight(t *testing.T) {
	env := newSweeperEnv(t)
	sweeper := newTestSweeper(env, &recordingSender{}, config.CibaConfig{})

	require.True(t, sweeper.guard.TryAcquire())
	assert.False(t, sweeper.Tick(context.Background()))
	sweeper.guard.Release()
	assert.True(t, sweeper.Tick(context.Background()))
}

func TestSweeperConcurrentTicks(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})
	ctx := context.Background()

	register(t, env, "r1", model.DeliveryModePing, 5)
	env.advance(time.Minute)

	entered := make(chan struct{})
	release := make(chan struct{})
	env.repo.findHook = func() {
		close(entered)
		<-release
	}

	first := make(chan bool)
	go func() { first <- sweeper.Tick(ctx) }()
	<-entered

	assert.False(t, sweeper.Tick(ctx))
	close(release)
	assert.True(t, <-first)

	sweeper.Wait()
	assert.Len(t, sender.recorded(), 1)
}

func TestSweeperProcessingInterval(t *testing.T) {
	env := newSweeperEnv(t)
	sweeper := newTestSweeper(env, &recordingSender{}, config.CibaConfig{ProcessingInterval: 60})
	ctx := context.Background()

	assert.True(t, sweeper.Tick(ctx))
	env.advance(30 * time.Second)
	assert.False(t, sweeper.Tick(ctx))
	env.advance(30 * time.Second)
	assert.True(t, sweeper.Tick(ctx))
}

func TestSweeperFailedSweepDoesNotAdvanceGate(t *testing.T) {
	env := newSweeperEnv(t)
	sweeper := newTestSweeper(env, &recordingSender{}, config.CibaConfig{ProcessingInterval: 60})
	ctx := context.Background()

	env.repo.findErr = errors.New("too many connections")
	assert.True(t, sweeper.Tick(ctx))
	env.repo.findErr = nil
	assert.True(t, sweeper.Tick(ctx))
	assert.False(t, sweeper.Tick(ctx))
}

func TestSweeperRecoversFromPanic(t *testing.T) {
	env := newSweeperEnv(t)
	sweeper := newTestSweeper(env, &recordingSender{}, config.CibaConfig{})
	ctx := context.Background()

	env.repo.findPanic = true
	assert.NotPanics(t, func() { sweeper.Tick(ctx) })

	// the guard was released
	require.True(t, sweeper.guard.TryAcquire())
	sweeper.guard.Release()

	env.repo.findPanic = false
	assert.True(t, sweeper.Tick(ctx))
}

func TestSweeperDisabled(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{ProcessingInterval: -1})

	register(t, env, "r1", model.DeliveryModePing, 5)
	env.advance(time.Minute)

	assert.True(t, sweeper.Disabled())
	assert.False(t, sweeper.Tick(context.Background()))
	assert.False(t, sweeper.Tick(context.Background()))
	assert.True(t, env.repo.has("r1"))

	sweeper.Start()
	sweeper.Stop()
	assert.Empty(t, sender.recorded())
}

func TestSweeperStartStop(t *testing.T) {
	env := newSweeperEnv(t)
	sender := &recordingSender{}
	sweeper := newTestSweeper(env, sender, config.CibaConfig{})
	sweeper.tickInterval = 10 * time.Millisecond

	register(t, env, "r1", model.DeliveryModePing, 5)
	env.advance(time.Minute)

	sweeper.Start()
	require.Eventually(t, func() bool { return !env.repo.has("r1") }, 2*time.Second, 10*time.Millisecond)
	sweeper.Stop()
	assert.Len(t, sender.recorded(), 1)
}

func TestGuard(t *testing.T) {
	var guard Guard
	require.True(t, guard.TryAcquire())
	assert.False(t, guard.TryAcquire())
	guard.Release()
	assert.True(t, guard.TryAcquire())
}

func TestGuardConcurrentAcquire(t *testing.T) {
	var guard Guard
	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if guard.TryAcquire() {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), acquired.Load())
}
