package grants

import (
	"context"
	"errors"
	"time"

	"appauth-service/internal/database"
	"appauth-service/internal/issuer"
	"appauth-service/internal/models"
	apierrors "appauth-service/pkg/errors"

	"go.uber.org/zap"
)

// Store owns the per-(application, user) access grant.
type Store struct {
	repo   database.Repository
	logger *zap.Logger
}

// New creates a new grant store.
func New(repo database.Repository, logger *zap.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger,
	}
}

// Check returns the grant for the pair, failing with NO_ACCESS if none
// exists. The application is resolved first so an unknown application is
// reported as such rather than as missing access.
func (s *Store) Check(ctx context.Context, applicationID, userID int64) (*models.OAuthGrant, error) {
	app, err := s.repo.GetApplicationByID(ctx, applicationID)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if app == nil {
		return nil, apierrors.ErrApplicationUnknown
	}
	grant, err := s.repo.GetGrant(ctx, app.ApplicationID, userID)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if grant == nil {
		return nil, apierrors.ErrNoAccess
	}
	return grant, nil
}

// Grant issues delegated access for the pair. Idempotent by default: an
// existing grant is returned unchanged unless alreadyGrantedIsError.
func (s *Store) Grant(ctx context.Context, applicationID, userID int64, alreadyGrantedIsError bool) (*models.OAuthGrant, error) {
	existing, err := s.Check(ctx, applicationID, userID)
	if err == nil {
		if alreadyGrantedIsError {
			return nil, apierrors.ErrAlreadyAccess
		}
		return existing, nil
	}
	if !errors.Is(err, apierrors.ErrNoAccess) {
		return nil, err
	}

	var grant *models.OAuthGrant
	err = issuer.Attempt(issuer.DefaultMaxAttempts, database.IsDuplicate, func() error {
		token, err := issuer.Generate(issuer.AccessTokenLength)
		if err != nil {
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		secret, err := issuer.Generate(issuer.AccessTokenLength)
		if err != nil {
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		candidate := &models.OAuthGrant{
			ApplicationID: applicationID,
			UserID:        userID,
			AccessToken:   token,
			AccessSecret:  secret,
			Created:       time.Now().UTC(),
		}
		if err := s.repo.InsertGrant(ctx, candidate); err != nil {
			if errors.Is(err, database.ErrDuplicateGrant) {
				// A concurrent grant for the same pair won the insert;
				// return its record to keep the operation idempotent.
				winner, gerr := s.repo.GetGrant(ctx, applicationID, userID)
				if gerr == nil && winner != nil {
					grant = winner
					return nil
				}
				return apierrors.Wrap(err, apierrors.ErrGeneric)
			}
			if database.IsDuplicate(err) {
				return err
			}
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		grant = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Granted application access",
		zap.Int64("application_id", applicationID),
		zap.Int64("userid", userID))
	return grant, nil
}

// Revoke deletes the grant for the pair. A missing grant succeeds silently
// unless alreadyRevokedIsError.
func (s *Store) Revoke(ctx context.Context, applicationID, userID int64, alreadyRevokedIsError bool) error {
	if _, err := s.Check(ctx, applicationID, userID); err != nil {
		if alreadyRevokedIsError {
			return apierrors.ErrAlreadyRevoked
		}
		return nil
	}
	if err := s.repo.DeleteGrant(ctx, applicationID, userID); err != nil {
		return apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	s.logger.Info("Revoked application access",
		zap.Int64("application_id", applicationID),
		zap.Int64("userid", userID))
	return nil
}
