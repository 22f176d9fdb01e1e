package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "rates:version"
	bumpChannel     = "rates.bump"
)

// RuleCache keeps rule sets in Redis under a global version so administrative
// edits can invalidate every entry with one increment.
type RuleCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRuleCache instantiates the cache. A nil client disables caching.
func NewRuleCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RuleCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleCache{client: client, ttl: ttl, logger: logger}
}

// Version returns the current cache version, initialising when missing.
func (c *RuleCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX keeps a concurrent Bump from being overwritten.
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key composes the versioned key of a (company, scope) rule set.
func (c *RuleCache) Key(ctx context.Context, companyID uuid.UUID, scope Scope) (string, error) {
	base := strings.Join([]string{"rates", "rules", companyID.String(), string(scope)}, ":")
	if c == nil || c.client == nil {
		return base, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", base, ver), nil
}

// FetchRules returns the cached rule set at key or fills it from loader.
// Redis failures are logged and served from loader.
func (c *RuleCache) FetchRules(ctx context.Context, key string, loader func(context.Context) ([]Rule, error)) ([]Rule, error) {
	if loader == nil {
		return nil, errors.New("rates: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var rules []Rule
		if err := json.Unmarshal(payload, &rules); err == nil {
			return rules, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("rate cache unavailable", slog.String("key", key), slog.Any("error", err))
		return loader(ctx)
	}
	rules, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("rate cache store failed", slog.String("key", key), slog.Any("error", err))
	}
	return rules, nil
}

// Bump invalidates every cached rule set and announces the new version.
func (c *RuleCache) Bump(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return 0, err
	}
	if err := c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err(); err != nil {
		return ver, err
	}
	return ver, nil
}
