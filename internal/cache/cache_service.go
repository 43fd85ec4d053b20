// Package cache provides Redis-backed state mirroring with graceful
// degradation: when Redis is down the bot keeps running on in-memory
// state and the circuit breaker retries in the background.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"otc-signal-bot/internal/logging"
)

// RedisConfig holds the connection settings for the cache layer.
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Key layouts.
const (
	prefixSnapshot = "bot:snapshot:%s"
	prefixPrice    = "bot:price:%s"

	SnapshotTTL = 7 * 24 * time.Hour
	PriceTTL    = 5 * time.Minute
)

// CacheService wraps a Redis client behind a small circuit breaker.
type CacheService struct {
	client *redis.Client

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration

	logger *logging.Logger
}

// NewCacheService connects to Redis. A failed initial connection
// returns the service in degraded mode rather than an error, so the
// bot still boots without Redis.
func NewCacheService(cfg RedisConfig, logger *logging.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:        client,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
		logger:        logger.WithComponent("cache"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.Warn("Initial Redis connection failed, running degraded", "error", err)
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	cs.logger.Info("Redis connected", "addr", cfg.Address)
	return cs, nil
}

// IsHealthy reports whether Redis is currently usable.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn("Circuit breaker open, Redis marked unhealthy", "failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.healthy {
		cs.logger.Info("Circuit breaker closed, Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth retries a downed connection in the background, at most
// once per check interval.
func (cs *CacheService) checkHealth() {
	cs.mu.RLock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	cs.mu.RUnlock()
	if !shouldCheck {
		return
	}

	cs.mu.Lock()
	cs.lastCheck = time.Now()
	cs.mu.Unlock()

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

// Set stores a value with a TTL.
func (cs *CacheService) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}
	if err := cs.client.Set(ctx, key, value, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// Get retrieves a value. A cache miss returns redis.Nil.
func (cs *CacheService) Get(ctx context.Context, key string) ([]byte, error) {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return nil, fmt.Errorf("redis unavailable (circuit breaker open)")
	}
	data, err := cs.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, err
		}
		cs.recordFailure()
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	cs.recordSuccess()
	return data, nil
}

// SetLatestPrice mirrors a symbol's last tick price.
func (cs *CacheService) SetLatestPrice(ctx context.Context, symbol string, price float64, epoch int64) error {
	payload, err := json.Marshal(map[string]interface{}{"price": price, "epoch": epoch})
	if err != nil {
		return err
	}
	return cs.Set(ctx, fmt.Sprintf(prefixPrice, symbol), payload, PriceTTL)
}

// GetLatestPrice reads a mirrored price. ok is false on a miss.
func (cs *CacheService) GetLatestPrice(ctx context.Context, symbol string) (price float64, epoch int64, ok bool) {
	data, err := cs.Get(ctx, fmt.Sprintf(prefixPrice, symbol))
	if err != nil {
		return 0, 0, false
	}
	var payload struct {
		Price float64 `json:"price"`
		Epoch int64   `json:"epoch"`
	}
	if json.Unmarshal(data, &payload) != nil {
		return 0, 0, false
	}
	return payload.Price, payload.Epoch, true
}

// Ping checks connectivity directly.
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Close releases the client.
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Stats is a monitoring snapshot of the cache layer.
type Stats struct {
	Healthy      bool `json:"healthy"`
	FailureCount int  `json:"failure_count"`
}

// GetStats returns current cache statistics.
func (cs *CacheService) GetStats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return Stats{Healthy: cs.healthy, FailureCount: cs.failureCount}
}

// SnapshotKey builds the Redis key for a named learner snapshot.
func SnapshotKey(name string) string {
	return fmt.Sprintf(prefixSnapshot, name)
}
