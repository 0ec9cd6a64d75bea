package nonce

import (
	"context"
	"errors"
	"time"

	"appauth-service/internal/cache"
	"appauth-service/internal/database"
	"appauth-service/internal/issuer"
	"appauth-service/internal/models"
	apierrors "appauth-service/pkg/errors"

	"go.uber.org/zap"
)

// CanTransition reports whether a nonce may move between the two states.
// A nonce starts in the generated state and may move exactly once to any
// other state; every non-generated state is terminal.
func CanTransition(from, to models.NonceState) bool {
	return from == models.NonceStateGenerated && to != models.NonceStateGenerated
}

// StateMachine drives the short-lived, single-use nonces backing the
// device-pairing authentication flow.
type StateMachine struct {
	repo   database.Repository
	cache  *cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a new nonce state machine.
func New(repo database.Repository, c *cache.Cache, ttl time.Duration, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		repo:   repo,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

func isCacheConflict(err error) bool {
	return errors.Is(err, cache.ErrExists)
}

// Create issues a fresh nonce in the generated state. The application must
// exist and hold the authentication permission.
func (m *StateMachine) Create(ctx context.Context, applicationID int64) (*models.AuthenticationNonce, error) {
	app, err := m.repo.GetApplicationByID(ctx, applicationID)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if app == nil {
		return nil, apierrors.ErrApplicationUnknown
	}
	if !app.HasPermission(models.PermissionAuthentication) {
		return nil, apierrors.ErrNoPermission
	}

	var record *models.AuthenticationNonce
	err = issuer.Attempt(issuer.DefaultMaxAttempts, isCacheConflict, func() error {
		value, err := issuer.Generate(issuer.AuthenticationNonceSize)
		if err != nil {
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		now := time.Now().UTC()
		candidate := &models.AuthenticationNonce{
			Nonce:         value,
			ApplicationID: app.ApplicationID,
			Created:       now,
			Expiration:    now.Add(m.ttl),
			State:         models.NonceStateGenerated,
		}
		if err := m.cache.StoreNonce(ctx, candidate, cache.Retention(m.ttl)); err != nil {
			if isCacheConflict(err) {
				return err
			}
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		record = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Trimmed view: callers only see the identifying fields and state.
	return &models.AuthenticationNonce{
		Nonce:         record.Nonce,
		ApplicationID: record.ApplicationID,
		Created:       record.Created,
		Expiration:    record.Expiration,
		State:         record.State,
	}, nil
}

// Get resolves a nonce, optionally rejecting expired ones. Expiry uses the
// stored timestamp; a nonce is expired the instant its expiration passes.
func (m *StateMachine) Get(ctx context.Context, value string, checkExpiration bool) (*models.AuthenticationNonce, error) {
	record, err := m.cache.GetNonce(ctx, value)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if record == nil {
		return nil, apierrors.ErrNonceUnknown
	}
	if checkExpiration && !record.Expiration.After(time.Now()) {
		return nil, apierrors.ErrNonceExpired
	}
	return record, nil
}

// Validate checks that the nonce belongs to the application, is unexpired
// and sits in the required state.
func (m *StateMachine) Validate(ctx context.Context, applicationID int64, value string, requiredState models.NonceState) (*models.AuthenticationNonce, error) {
	app, err := m.repo.GetApplicationByID(ctx, applicationID)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if app == nil {
		return nil, apierrors.ErrApplicationUnknown
	}
	record, err := m.Get(ctx, value, true)
	if err != nil {
		return nil, err
	}
	if record.ApplicationID != app.ApplicationID {
		return nil, apierrors.ErrNonceMismatch
	}
	if record.State != requiredState {
		return nil, apierrors.ErrNonceUsed
	}
	return record, nil
}

// Update transitions a nonce to a terminal state, merging any extra fields
// into the stored record. Expiration is deliberately not re-checked: a nonce
// validated earlier in the flow may still be transitioned after it went
// stale mid-flight.
func (m *StateMachine) Update(ctx context.Context, value string, newState models.NonceState, extra map[string]string) (*models.AuthenticationNonce, error) {
	record, err := m.Get(ctx, value, false)
	if err != nil {
		return nil, err
	}
	if !CanTransition(record.State, newState) {
		return nil, apierrors.ErrNonceUsed
	}

	record.State = newState
	for key, val := range extra {
		if key == "type" {
			record.Type = val
			continue
		}
		if record.Extra == nil {
			record.Extra = make(map[string]string)
		}
		record.Extra[key] = val
	}

	if err := m.cache.UpdateNonce(ctx, record); err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	m.logger.Info("Transitioned authentication nonce",
		zap.Int64("application_id", record.ApplicationID),
		zap.String("state", string(newState)))
	return record, nil
}
