package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/henryperkins/agentic-rag/internal/config"
	"github.com/henryperkins/agentic-rag/internal/logging"
)

// RedisMirror is an advisory write-behind Mirror backed by Redis, letting a
// second process warm its local cache from a recently-written value. It is
// never consulted on Get and a failed Set is logged, not surfaced.
type RedisMirror[V any] struct {
	client redis.UniversalClient
	prefix string
	log    logging.Logger
}

// NewRedisMirror constructs a mirror when cfg.Enabled, else returns nil so
// callers can skip WithMirror entirely.
func NewRedisMirror[V any](cfg config.RedisConfig, prefix string, log logging.Logger) *RedisMirror[V] {
	if !cfg.Enabled {
		return nil
	}
	if log == nil {
		log = logging.Noop{}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return &RedisMirror[V]{client: client, prefix: prefix, log: log}
}

// Set mirrors a value to Redis in a best-effort, fire-and-forget goroutine.
func (m *RedisMirror[V]) Set(key string, value V, ttl time.Duration) {
	if m == nil || m.client == nil {
		return
	}
	go func() {
		data, err := json.Marshal(value)
		if err != nil {
			m.log.Error("cache_mirror_encode_failed", map[string]any{"key": key, "error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.client.Set(ctx, m.prefix+key, data, ttl).Err(); err != nil {
			m.log.Error("cache_mirror_write_failed", map[string]any{"key": key, "error": err.Error()})
		}
	}()
}
