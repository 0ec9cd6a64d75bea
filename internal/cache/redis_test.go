package cache_test

import (
	"context"
	"testing"
	"time"

	"appauth-service/internal/cache"
	"appauth-service/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewCacheWithClient(client, zap.NewNop()), mr
}

func TestStoreRequestToken_Conflict(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	token := &models.RequestToken{
		Token:         "tok-1",
		ApplicationID: 1000000000000001,
		Created:       time.Now().UTC(),
		Expiration:    time.Now().UTC().Add(10 * time.Minute),
	}
	assert.NoError(t, c.StoreRequestToken(ctx, token, time.Minute))

	err := c.StoreRequestToken(ctx, token, time.Minute)
	assert.ErrorIs(t, err, cache.ErrExists)
}

func TestGetRequestToken_Missing(t *testing.T) {
	c, _ := newTestCache(t)

	record, err := c.GetRequestToken(context.Background(), "does-not-exist")
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestRequestToken_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Second)
	token := &models.RequestToken{
		Token:         "tok-2",
		ApplicationID: 1000000000000002,
		Created:       created,
		Expiration:    created.Add(10 * time.Minute),
	}
	assert.NoError(t, c.StoreRequestToken(ctx, token, time.Minute))

	record, err := c.GetRequestToken(ctx, "tok-2")
	assert.NoError(t, err)
	assert.Equal(t, token.ApplicationID, record.ApplicationID)
	assert.True(t, token.Expiration.Equal(record.Expiration))
}

func TestDeleteAccessBearer(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	bearer := &models.AccessBearer{
		Bearer:        "bearer-1",
		RequestToken:  "tok-3",
		UserID:        42,
		ApplicationID: 1000000000000003,
		Created:       time.Now().UTC(),
		Expiration:    time.Now().UTC().Add(5 * time.Minute),
	}
	assert.NoError(t, c.StoreAccessBearer(ctx, bearer, time.Minute))
	assert.NoError(t, c.DeleteAccessBearer(ctx, "bearer-1"))

	record, err := c.GetAccessBearer(ctx, "bearer-1")
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestRetention_DoublesLogicalTTL(t *testing.T) {
	assert.Equal(t, 10*time.Minute, cache.Retention(5*time.Minute))
}

func TestRecordOutlivesLogicalExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	ttl := 5 * time.Minute
	now := time.Now().UTC()
	token := &models.RequestToken{
		Token:         "tok-4",
		ApplicationID: 1000000000000004,
		Created:       now,
		Expiration:    now.Add(ttl),
	}
	assert.NoError(t, c.StoreRequestToken(ctx, token, cache.Retention(ttl)))

	// Just past the logical expiry the record is still retrievable, so a
	// lookup can report expiration instead of not-found.
	mr.FastForward(ttl + time.Second)

	record, err := c.GetRequestToken(ctx, "tok-4")
	assert.NoError(t, err)
	assert.NotNil(t, record)
	assert.True(t, record.Expiration.Before(time.Now().Add(ttl)))
}

func TestUpdateNonce_KeepsTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	now := time.Now().UTC()
	nonce := &models.AuthenticationNonce{
		Nonce:         "nonce-1",
		ApplicationID: 1000000000000005,
		Created:       now,
		Expiration:    now.Add(5 * time.Minute),
		State:         models.NonceStateGenerated,
	}
	assert.NoError(t, c.StoreNonce(ctx, nonce, 10*time.Minute))

	mr.FastForward(4 * time.Minute)

	nonce.State = models.NonceStateUsed
	assert.NoError(t, c.UpdateNonce(ctx, nonce))

	// The overwrite must not reset the retention window.
	remaining := mr.TTL("authentication_nonce:nonce-1")
	assert.LessOrEqual(t, remaining, 6*time.Minute)
	assert.Greater(t, remaining, time.Duration(0))

	record, err := c.GetNonce(ctx, "nonce-1")
	assert.NoError(t, err)
	assert.Equal(t, models.NonceStateUsed, record.State)
}

func TestStoreNonce_Conflict(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	nonce := &models.AuthenticationNonce{
		Nonce:         "nonce-2",
		ApplicationID: 1000000000000006,
		Created:       time.Now().UTC(),
		Expiration:    time.Now().UTC().Add(5 * time.Minute),
		State:         models.NonceStateGenerated,
	}
	assert.NoError(t, c.StoreNonce(ctx, nonce, time.Minute))
	assert.ErrorIs(t, c.StoreNonce(ctx, nonce, time.Minute), cache.ErrExists)
}
