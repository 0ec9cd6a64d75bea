package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"appauth-service/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	requestTokenPrefix = "request_token:"
	accessBearerPrefix = "access_bearer:"
	noncePrefix        = "authentication_nonce:"
)

// ErrExists signals that a store hit an already-used key. Issuance treats it
// as the collision signal and regenerates.
var ErrExists = errors.New("cache: value already exists")

// Retention is how long an ephemeral record is kept. It is twice the logical
// lifetime so a lookup shortly after expiration still finds the record and
// can report the temporal error instead of not-found.
func Retention(ttl time.Duration) time.Duration {
	return 2 * ttl
}

// Cache handles Redis operations for the ephemeral protocol state: request
// tokens, access bearers and authentication nonces.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCache creates a new cache instance
func NewCache(redisURL string, logger *zap.Logger) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	// Test the connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Cache{
		client: client,
		logger: logger,
	}, nil
}

// NewCacheWithClient wraps an existing client. Used by tests.
func NewCacheWithClient(client *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) putNX(ctx context.Context, key string, value interface{}, retention time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ok, err := c.client.SetNX(ctx, key, data, retention).Result()
	if err != nil {
		c.logger.Error("Failed to store record", zap.String("key", key), zap.Error(err))
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// getJSON reads a record into dest, reporting absence as (false, nil).
func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.logger.Error("Failed to get record", zap.String("key", key), zap.Error(err))
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		c.logger.Error("Failed to unmarshal record", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return true, nil
}

// StoreRequestToken stores a request token, failing with ErrExists if the
// token value is already taken.
func (c *Cache) StoreRequestToken(ctx context.Context, token *models.RequestToken, retention time.Duration) error {
	return c.putNX(ctx, requestTokenPrefix+token.Token, token, retention)
}

// GetRequestToken retrieves a request token, nil if absent.
func (c *Cache) GetRequestToken(ctx context.Context, token string) (*models.RequestToken, error) {
	var record models.RequestToken
	found, err := c.getJSON(ctx, requestTokenPrefix+token, &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// DeleteRequestToken removes a request token.
func (c *Cache) DeleteRequestToken(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, requestTokenPrefix+token).Err(); err != nil {
		c.logger.Error("Failed to delete request token", zap.Error(err))
		return err
	}
	return nil
}

// StoreAccessBearer stores an access bearer, failing with ErrExists if the
// bearer value is already taken.
func (c *Cache) StoreAccessBearer(ctx context.Context, bearer *models.AccessBearer, retention time.Duration) error {
	return c.putNX(ctx, accessBearerPrefix+bearer.Bearer, bearer, retention)
}

// GetAccessBearer retrieves an access bearer, nil if absent.
func (c *Cache) GetAccessBearer(ctx context.Context, bearer string) (*models.AccessBearer, error) {
	var record models.AccessBearer
	found, err := c.getJSON(ctx, accessBearerPrefix+bearer, &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// DeleteAccessBearer removes an access bearer.
func (c *Cache) DeleteAccessBearer(ctx context.Context, bearer string) error {
	if err := c.client.Del(ctx, accessBearerPrefix+bearer).Err(); err != nil {
		c.logger.Error("Failed to delete access bearer", zap.Error(err))
		return err
	}
	return nil
}

// StoreNonce stores an authentication nonce, failing with ErrExists if the
// nonce value is already taken.
func (c *Cache) StoreNonce(ctx context.Context, nonce *models.AuthenticationNonce, retention time.Duration) error {
	return c.putNX(ctx, noncePrefix+nonce.Nonce, nonce, retention)
}

// GetNonce retrieves an authentication nonce, nil if absent.
func (c *Cache) GetNonce(ctx context.Context, nonce string) (*models.AuthenticationNonce, error) {
	var record models.AuthenticationNonce
	found, err := c.getJSON(ctx, noncePrefix+nonce, &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// UpdateNonce overwrites a stored nonce, keeping its remaining retention.
func (c *Cache) UpdateNonce(ctx context.Context, nonce *models.AuthenticationNonce) error {
	data, err := json.Marshal(nonce)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, noncePrefix+nonce.Nonce, data, redis.KeepTTL).Err(); err != nil {
		c.logger.Error("Failed to update nonce", zap.Error(err))
		return err
	}
	return nil
}
