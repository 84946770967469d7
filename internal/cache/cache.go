package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/licensegate/pkg/models"
	"github.com/redis/go-redis/v9"
)

// StatusSnapshot is the cached part of a license that status checks read.
// The derived active flag is recomputed on every read because it depends on
// the current time.
type StatusSnapshot struct {
	Status    models.LicenseStatus `json:"status"`
	Reason    *string              `json:"reason,omitempty"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
}

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
//
// Every license has a generation counter that InvalidateLicense bumps. A
// reader takes the generation before loading from storage and passes it to
// SetLicenseStatus, which stores the snapshot only if no invalidation
// happened in between.
type Cache interface {
	Ping(ctx context.Context) error
	GetLicenseStatus(ctx context.Context, licenseKey string) (*StatusSnapshot, bool, error)
	LicenseGeneration(ctx context.Context, licenseKey string) (int64, error)
	SetLicenseStatus(ctx context.Context, licenseKey string, gen int64, snap *StatusSnapshot, ttl time.Duration) (bool, error)
	InvalidateLicense(ctx context.Context, licenseKey string) error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetLicenseStatus(ctx context.Context, licenseKey string) (*StatusSnapshot, bool, error) {
	val, err := c.client.Get(ctx, LicenseStatusKey(licenseKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap StatusSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, false, fmt.Errorf("decode status snapshot: %w", err)
	}
	return &snap, true, nil
}

// LicenseGeneration returns the current generation; an unset counter is 0.
func (c *RedisCache) LicenseGeneration(ctx context.Context, licenseKey string) (int64, error) {
	gen, err := c.client.Get(ctx, LicenseGenerationKey(licenseKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetLicenseStatus stores snap only while the generation still equals gen.
// It reports false when the snapshot was dropped as stale.
func (c *RedisCache) SetLicenseStatus(ctx context.Context, licenseKey string, gen int64, snap *StatusSnapshot, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("encode status snapshot: %w", err)
	}

	genKey := LicenseGenerationKey(licenseKey)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, LicenseStatusKey(licenseKey), b, ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		// The generation moved between WATCH and EXEC.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored, nil
}

// InvalidateLicense bumps the generation and drops the snapshot in one transaction.
func (c *RedisCache) InvalidateLicense(ctx context.Context, licenseKey string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, LicenseGenerationKey(licenseKey))
		pipe.Del(ctx, LicenseStatusKey(licenseKey))
		return nil
	})
	return err
}

var _ Cache = (*RedisCache)(nil)
