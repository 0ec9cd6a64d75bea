package exchange

import (
	"context"
	"errors"
	"time"

	"appauth-service/internal/cache"
	"appauth-service/internal/database"
	"appauth-service/internal/grants"
	"appauth-service/internal/issuer"
	"appauth-service/internal/metrics"
	"appauth-service/internal/models"
	apierrors "appauth-service/pkg/errors"

	"go.uber.org/zap"
)

// Protocol orchestrates the three-legged flow: request token issuance,
// access-bearer issuance bound to a user, and exchange of a verified bearer
// for a durable grant.
type Protocol struct {
	repo            database.Repository
	cache           *cache.Cache
	grants          *grants.Store
	requestTokenTTL time.Duration
	accessBearerTTL time.Duration
	logger          *zap.Logger
}

// New creates a new token exchange protocol.
func New(repo database.Repository, c *cache.Cache, g *grants.Store, requestTokenTTL, accessBearerTTL time.Duration, logger *zap.Logger) *Protocol {
	return &Protocol{
		repo:            repo,
		cache:           c,
		grants:          g,
		requestTokenTTL: requestTokenTTL,
		accessBearerTTL: accessBearerTTL,
		logger:          logger,
	}
}

// RequestValidation is the result of validating a request token.
type RequestValidation struct {
	RequestToken *models.RequestToken `json:"request_token"`
	Application  *models.Application  `json:"application"`
}

func isCacheConflict(err error) bool {
	return errors.Is(err, cache.ErrExists)
}

// BeginRequest starts the exchange: the (id, key) pair must identify a live
// application, which then receives a fresh request token.
func (p *Protocol) BeginRequest(ctx context.Context, applicationID int64, applicationKey string) (*models.RequestToken, error) {
	app, err := p.repo.GetApplicationByKey(ctx, applicationID, applicationKey)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if app == nil {
		metrics.ExchangeSteps.WithLabelValues("begin", "unknown_application").Inc()
		return nil, apierrors.ErrApplicationUnknown
	}

	var token *models.RequestToken
	err = issuer.Attempt(issuer.DefaultMaxAttempts, isCacheConflict, func() error {
		value, err := issuer.Generate(issuer.RequestTokenLength)
		if err != nil {
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		now := time.Now().UTC()
		candidate := &models.RequestToken{
			Token:         value,
			ApplicationID: app.ApplicationID,
			Created:       now,
			Expiration:    now.Add(p.requestTokenTTL),
		}
		if err := p.cache.StoreRequestToken(ctx, candidate, cache.Retention(p.requestTokenTTL)); err != nil {
			if isCacheConflict(err) {
				return err
			}
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		token = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := p.repo.IncrementRequestCount(ctx, app.ApplicationID); err != nil {
		p.logger.Warn("Failed to update request statistics", zap.Int64("application_id", app.ApplicationID), zap.Error(err))
	}
	metrics.ExchangeSteps.WithLabelValues("begin", "ok").Inc()
	return token, nil
}

// ValidateRequest resolves a request token and its application. Expiration
// is checked against the stored timestamp; expired records are rejected but
// never eagerly deleted.
func (p *Protocol) ValidateRequest(ctx context.Context, requestToken string) (*RequestValidation, error) {
	record, err := p.cache.GetRequestToken(ctx, requestToken)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if record == nil {
		return nil, apierrors.ErrRequestTokenInvalid
	}
	if record.Expiration.Before(time.Now()) {
		return nil, apierrors.ErrRequestTokenExpired
	}
	app, err := p.repo.GetApplicationByID(ctx, record.ApplicationID)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if app == nil {
		return nil, apierrors.ErrApplicationUnknown
	}
	return &RequestValidation{RequestToken: record, Application: app}, nil
}

// CompleteRequest issues an access bearer for a validated request token,
// binding the pending authorization attempt to the authenticated user.
func (p *Protocol) CompleteRequest(ctx context.Context, requestToken string, userID int64) (*models.AccessBearer, error) {
	validation, err := p.ValidateRequest(ctx, requestToken)
	if err != nil {
		return nil, err
	}

	var bearer *models.AccessBearer
	err = issuer.Attempt(issuer.DefaultMaxAttempts, isCacheConflict, func() error {
		value, err := issuer.Generate(issuer.AccessBearerLength)
		if err != nil {
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		now := time.Now().UTC()
		candidate := &models.AccessBearer{
			Bearer:        value,
			RequestToken:  requestToken,
			UserID:        userID,
			ApplicationID: validation.Application.ApplicationID,
			Created:       now,
			Expiration:    now.Add(p.accessBearerTTL),
		}
		if err := p.cache.StoreAccessBearer(ctx, candidate, cache.Retention(p.accessBearerTTL)); err != nil {
			if isCacheConflict(err) {
				return err
			}
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		bearer = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ExchangeSteps.WithLabelValues("complete", "ok").Inc()
	return bearer, nil
}

// Exchange turns a verified access bearer into a durable grant. The full
// (id, key, secret) triple must identify the application and the bearer must
// belong to it. The consumed bearer and its originating request token are
// removed best-effort: their deletion never fails the exchange.
func (p *Protocol) Exchange(ctx context.Context, applicationID int64, applicationKey, applicationSecret, accessBearer string) (*models.OAuthGrant, error) {
	app, err := p.repo.GetApplicationByCredentials(ctx, applicationID, applicationKey, applicationSecret)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if app == nil {
		metrics.ExchangeSteps.WithLabelValues("exchange", "unknown_application").Inc()
		return nil, apierrors.ErrApplicationUnknown
	}

	record, err := p.cache.GetAccessBearer(ctx, accessBearer)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if record == nil || record.ApplicationID != app.ApplicationID {
		metrics.ExchangeSteps.WithLabelValues("exchange", "invalid_bearer").Inc()
		return nil, apierrors.ErrBearerInvalid
	}
	if record.Expiration.Before(time.Now()) {
		metrics.ExchangeSteps.WithLabelValues("exchange", "expired_bearer").Inc()
		return nil, apierrors.ErrBearerExpired
	}

	if err := p.cache.DeleteAccessBearer(ctx, accessBearer); err != nil {
		p.logger.Warn("Failed to clean up consumed bearer", zap.Error(err))
	}
	if err := p.cache.DeleteRequestToken(ctx, record.RequestToken); err != nil {
		p.logger.Warn("Failed to clean up consumed request token", zap.Error(err))
	}

	grant, err := p.grants.Grant(ctx, app.ApplicationID, record.UserID, false)
	if err != nil {
		return nil, err
	}
	metrics.ExchangeSteps.WithLabelValues("exchange", "ok").Inc()
	return grant, nil
}
