// Package cache keeps aggregated detection statistics in Redis.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"wbcscan/internal/config"
	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
)

const pingTimeout = 2 * time.Second

// StatsCache stores class counts per project. Entries are keyed by a per-project
// version so that bumping the version invalidates every cached query at once.
// A StatsCache without a Redis client is disabled and always misses.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewStatsCache connects to Redis when REDIS_ADDR is set. An unreachable server
// disables the cache instead of failing startup.
func NewStatsCache(cfg *config.Config, logger *logger.Logger) *StatsCache {
	c := &StatsCache{ttl: cfg.StatsCacheTTL, logger: logger}
	if cfg.RedisAddr == "" {
		logger.Info("Stats cache disabled: no Redis address configured")
		return c
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warning("Stats cache disabled: Redis at %s unreachable: %v", cfg.RedisAddr, err)
		client.Close()
		return c
	}

	logger.Info("Stats cache connected to Redis at %s", cfg.RedisAddr)
	c.client = client
	return c
}

// Enabled reports whether a Redis connection is in use.
func (c *StatsCache) Enabled() bool {
	return c != nil && c.client != nil
}

func versionKey(projectID int64) string {
	return fmt.Sprintf("stats:version:%d", projectID)
}

// QueryKey returns a stable digest of a stats query. Batch order and class name
// case do not change the digest.
func QueryKey(query dto.StatsQuery) string {
	batches := append([]int64(nil), query.BatchIDs...)
	sort.Slice(batches, func(i, j int) bool { return batches[i] < batches[j] })

	classes := make([]string, len(query.ClassNames))
	for i, name := range query.ClassNames {
		classes[i] = strings.ToLower(name)
	}
	sort.Strings(classes)

	data, _ := json.Marshal(struct {
		Batches []int64  `json:"b"`
		Classes []string `json:"c"`
	}{batches, classes})
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Slot is where the rows of one query live under the project version read at
// lookup. Storing into a Slot taken before an invalidation writes to the old
// version, which no later lookup reads.
type Slot struct {
	key string
}

func (c *StatsCache) slot(ctx context.Context, query dto.StatsQuery) (Slot, error) {
	version, err := c.client.Get(ctx, versionKey(query.ProjectID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Slot{}, err
	}
	return Slot{key: fmt.Sprintf("stats:%d:v%d:%s", query.ProjectID, version, QueryKey(query))}, nil
}

// Get returns cached rows for a query and the slot a miss should be filled
// through. Any Redis failure is treated as a miss.
func (c *StatsCache) Get(ctx context.Context, query dto.StatsQuery) ([]dto.ClassCount, Slot, bool) {
	if !c.Enabled() {
		return nil, Slot{}, false
	}

	slot, err := c.slot(ctx, query)
	if err != nil {
		c.logger.Warning("Stats cache lookup failed: %v", err)
		return nil, Slot{}, false
	}

	data, err := c.client.Get(ctx, slot.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warning("Stats cache lookup failed: %v", err)
		}
		return nil, slot, false
	}

	var rows []dto.ClassCount
	if err := json.Unmarshal(data, &rows); err != nil {
		c.logger.Warning("Stats cache entry %s is corrupt: %v", slot.key, err)
		return nil, slot, false
	}
	return rows, slot, true
}

// Set stores rows into a slot returned by Get.
func (c *StatsCache) Set(ctx context.Context, slot Slot, rows []dto.ClassCount) {
	if !c.Enabled() || slot.key == "" {
		return
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, slot.key, data, c.ttl).Err(); err != nil {
		c.logger.Warning("Stats cache store failed: %v", err)
	}
}

// Invalidate drops every cached query of a project.
func (c *StatsCache) Invalidate(ctx context.Context, projectID int64) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Incr(ctx, versionKey(projectID)).Err(); err != nil {
		c.logger.Warning("Stats cache invalidation for project %d failed: %v", projectID, err)
	}
}

// Close releases the Redis connection.
func (c *StatsCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
