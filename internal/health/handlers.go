package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-refunds/internal/orderitem"
)

// ErrDisabled marks an optional dependency that is not configured.
var ErrDisabled = errors.New("disabled")

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingItems(ctx context.Context) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Deps probes the item store and the optional Redis client.
type Deps struct {
	Store *orderitem.Store
	Redis *redis.Client
}

// PingItems fails until the order items have loaded.
func (d Deps) PingItems(context.Context) error {
	if d.Store == nil || !d.Store.Loaded() {
		return orderitem.ErrNotLoaded
	}
	return nil
}

// PingRedis returns ErrDisabled when no client is configured.
func (d Deps) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips readiness; it is cleared when shutdown begins.
func SetReady(v bool) { ready.Store(v) }

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	itemsStatus := "ok"
	if err := h.Checker.PingItems(ctx); err != nil {
		itemsStatus = err.Error()
	}
	redisStatus := "ok"
	if err := h.Checker.PingRedis(ctx, h.redisTimeout()); err != nil {
		redisStatus = err.Error()
	}
	status := map[string]string{
		"items": itemsStatus,
		"redis": redisStatus,
	}
	healthy := itemsStatus == "ok" && (redisStatus == "ok" || redisStatus == ErrDisabled.Error())
	if !ready.Load() {
		status["shutdown"] = "in progress"
		healthy = false
	}
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
