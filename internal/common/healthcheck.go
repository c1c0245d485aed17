package common

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ReadinessCheck reports whether a backing service is reachable.
type ReadinessCheck func(ctx context.Context) error

func PingDatabase(db *gorm.DB) ReadinessCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func PingRedis(rdb redis.UniversalClient) ReadinessCheck {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

func NewHealthCheckHandler(checks map[string]ReadinessCheck) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				slog.Warn("Readiness check failed", "check", name, "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func StartHealthCheckServer(ctx context.Context, done chan struct{}, addr string, checks map[string]ReadinessCheck) {
	server := &http.Server{
		Addr:    addr,
		Handler: NewHealthCheckHandler(checks),
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		close(done)
	case err := <-serverErr:
		slog.Error("Health check server stopped", "error", err)
		close(done)
	}
}
