package nonce_test

import (
	"context"
	"testing"
	"time"

	"appauth-service/internal/cache"
	"appauth-service/internal/models"
	"appauth-service/internal/nonce"
	apierrors "appauth-service/pkg/errors"
	"appauth-service/test/mocks"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

const appID int64 = 1000000000000001

func authenticatingApplication() *models.Application {
	return &models.Application{
		ApplicationID: appID,
		Title:         "Companion App",
		Permissions:   []string{models.PermissionAuthentication},
	}
}

func newStateMachine(t *testing.T, mockRepo *mocks.MockRepository) (*nonce.StateMachine, *cache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewCacheWithClient(client, zap.NewNop())
	return nonce.New(mockRepo, c, 5*time.Minute, zap.NewNop()), c
}

// seedExpiredNonce stores a generated nonce whose logical lifetime has
// passed but which is still inside the retention window.
func seedExpiredNonce(t *testing.T, c *cache.Cache, value string) {
	t.Helper()
	now := time.Now().UTC()
	record := &models.AuthenticationNonce{
		Nonce:         value,
		ApplicationID: appID,
		Created:       now.Add(-10 * time.Minute),
		Expiration:    now.Add(-5 * time.Minute),
		State:         models.NonceStateGenerated,
	}
	assert.NoError(t, c.StoreNonce(context.Background(), record, cache.Retention(5*time.Minute)))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, nonce.CanTransition(models.NonceStateGenerated, models.NonceStateUsed))
	assert.True(t, nonce.CanTransition(models.NonceStateGenerated, models.NonceStateDeclined))
	assert.False(t, nonce.CanTransition(models.NonceStateGenerated, models.NonceStateGenerated))
	assert.False(t, nonce.CanTransition(models.NonceStateUsed, models.NonceStateDeclined))
	assert.False(t, nonce.CanTransition(models.NonceStateDeclined, models.NonceStateUsed))
}

func TestCreate_RequiresPermission(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, _ := newStateMachine(t, mockRepo)

	app := authenticatingApplication()
	app.Permissions = []string{}
	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(app, nil)

	_, err := sm.Create(context.Background(), appID)
	assert.ErrorIs(t, err, apierrors.ErrNoPermission)
}

func TestCreate_UnknownApplication(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, _ := newStateMachine(t, mockRepo)

	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(nil, nil)

	_, err := sm.Create(context.Background(), appID)
	assert.ErrorIs(t, err, apierrors.ErrApplicationUnknown)
}

func TestCreate_IssuesGeneratedNonce(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, _ := newStateMachine(t, mockRepo)

	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(authenticatingApplication(), nil)

	record, err := sm.Create(context.Background(), appID)
	assert.NoError(t, err)
	assert.Len(t, record.Nonce, 64)
	assert.Equal(t, models.NonceStateGenerated, record.State)
	assert.Equal(t, appID, record.ApplicationID)
	assert.True(t, record.Expiration.After(time.Now()))
}

func TestGet_Unknown(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, _ := newStateMachine(t, mockRepo)

	_, err := sm.Get(context.Background(), "no-such-nonce", true)
	assert.ErrorIs(t, err, apierrors.ErrNonceUnknown)
}

func TestGet_Expired(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, c := newStateMachine(t, mockRepo)

	seedExpiredNonce(t, c, "stale-nonce")

	_, err := sm.Get(context.Background(), "stale-nonce", true)
	assert.ErrorIs(t, err, apierrors.ErrNonceExpired)

	// Without the expiry check the record is still served.
	got, err := sm.Get(context.Background(), "stale-nonce", false)
	assert.NoError(t, err)
	assert.Equal(t, "stale-nonce", got.Nonce)
}

func TestValidate_Success(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, _ := newStateMachine(t, mockRepo)

	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(authenticatingApplication(), nil)

	record, err := sm.Create(context.Background(), appID)
	assert.NoError(t, err)

	got, err := sm.Validate(context.Background(), appID, record.Nonce, models.NonceStateGenerated)
	assert.NoError(t, err)
	assert.Equal(t, record.Nonce, got.Nonce)
}

func TestValidate_ApplicationMismatch(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, _ := newStateMachine(t, mockRepo)

	otherID := int64(1000000000000002)
	other := &models.Application{ApplicationID: otherID, Permissions: []string{models.PermissionAuthentication}}
	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(authenticatingApplication(), nil)
	mockRepo.On("GetApplicationByID", mock.Anything, otherID).Return(other, nil)

	record, err := sm.Create(context.Background(), appID)
	assert.NoError(t, err)

	_, err = sm.Validate(context.Background(), otherID, record.Nonce, models.NonceStateGenerated)
	assert.ErrorIs(t, err, apierrors.ErrNonceMismatch)
}

func TestValidate_AfterUse(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, _ := newStateMachine(t, mockRepo)

	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(authenticatingApplication(), nil)

	record, err := sm.Create(context.Background(), appID)
	assert.NoError(t, err)

	_, err = sm.Update(context.Background(), record.Nonce, models.NonceStateUsed, nil)
	assert.NoError(t, err)

	_, err = sm.Validate(context.Background(), appID, record.Nonce, models.NonceStateGenerated)
	assert.ErrorIs(t, err, apierrors.ErrNonceUsed)
}

func TestUpdate_MergesExtraFields(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, _ := newStateMachine(t, mockRepo)

	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(authenticatingApplication(), nil)

	record, err := sm.Create(context.Background(), appID)
	assert.NoError(t, err)

	updated, err := sm.Update(context.Background(), record.Nonce, models.NonceStateUsed, map[string]string{
		"type":   "device",
		"device": "living-room-tv",
	})
	assert.NoError(t, err)
	assert.Equal(t, models.NonceStateUsed, updated.State)
	assert.Equal(t, "device", updated.Type)
	assert.Equal(t, "living-room-tv", updated.Extra["device"])

	// The merge was persisted.
	got, err := sm.Get(context.Background(), record.Nonce, false)
	assert.NoError(t, err)
	assert.Equal(t, models.NonceStateUsed, got.State)
	assert.Equal(t, "device", got.Type)
}

func TestUpdate_TerminalStateIsFinal(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, _ := newStateMachine(t, mockRepo)

	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(authenticatingApplication(), nil)

	record, err := sm.Create(context.Background(), appID)
	assert.NoError(t, err)

	_, err = sm.Update(context.Background(), record.Nonce, models.NonceStateDeclined, nil)
	assert.NoError(t, err)

	_, err = sm.Update(context.Background(), record.Nonce, models.NonceStateUsed, nil)
	assert.ErrorIs(t, err, apierrors.ErrNonceUsed)
}

func TestUpdate_AllowedPastExpiry(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	sm, c := newStateMachine(t, mockRepo)

	seedExpiredNonce(t, c, "stale-nonce")

	// A nonce validated earlier in the flow may still be transitioned after
	// it went stale mid-flight.
	updated, err := sm.Update(context.Background(), "stale-nonce", models.NonceStateUsed, nil)
	assert.NoError(t, err)
	assert.Equal(t, models.NonceStateUsed, updated.State)
}
