package registry

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"appauth-service/internal/database"
	"appauth-service/internal/issuer"
	"appauth-service/internal/models"
	apierrors "appauth-service/pkg/errors"

	"go.uber.org/zap"
)

// Registry owns the Application entity: registration, lookup, update, key
// rotation and deletion.
type Registry struct {
	repo   database.Repository
	logger *zap.Logger
}

// New creates a new application registry.
func New(repo database.Repository, logger *zap.Logger) *Registry {
	return &Registry{
		repo:   repo,
		logger: logger,
	}
}

// UpdateFields carries the optional fields of an update. Nil pointers mean
// "leave unchanged"; a nil Permissions slice means the permissions were not
// part of the request.
type UpdateFields struct {
	Title       *string
	Description *string
	Website     *string
	CallbackURL *string
	Permissions []string
}

func validateTitle(title string) error {
	if len(title) < 4 || len(title) > 20 ||
		strings.HasPrefix(title, " ") || strings.HasSuffix(title, " ") {
		return apierrors.ErrTitleInvalid
	}
	return nil
}

func validateDescription(description string) error {
	if len(description) < 4 || len(description) > 400 ||
		strings.HasPrefix(description, " ") || strings.HasSuffix(description, " ") {
		return apierrors.ErrDescriptionInvalid
	}
	return nil
}

func validateAbsoluteURL(raw string, onError *apierrors.ServiceError) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return onError
	}
	return nil
}

// newApplication builds a fresh record from fixed defaults overlaid with the
// caller-supplied fields.
func newApplication(applicationID int64, title, description, website, callbackURL string, ownerID int64, key, secret string) *models.Application {
	return &models.Application{
		ApplicationID:     applicationID,
		Title:             title,
		Description:       description,
		Website:           website,
		CallbackURL:       callbackURL,
		UserID:            ownerID,
		Created:           time.Now().UTC(),
		ApplicationKey:    key,
		ApplicationSecret: secret,
		Status:            0,
		Permissions:       []string{},
		Statistics:        models.ApplicationStatistics{},
	}
}

// Register validates the caller-supplied fields, issues a unique application
// id plus key pair and persists the record with zeroed statistics.
func (r *Registry) Register(ctx context.Context, title, description, website, callbackURL string, ownerID int64) (*models.Application, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}
	inUse, err := r.repo.TitleInUse(ctx, title)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if inUse {
		return nil, apierrors.ErrTitleInUse
	}

	var app *models.Application
	err = issuer.Attempt(issuer.DefaultMaxAttempts, database.IsDuplicate, func() error {
		applicationID, err := issuer.NumericID(issuer.ApplicationIDDigits)
		if err != nil {
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		key, err := issuer.Generate(issuer.ApplicationKeyLength)
		if err != nil {
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		secret, err := issuer.Generate(issuer.ApplicationKeyLength)
		if err != nil {
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		candidate := newApplication(applicationID, title, description, website, callbackURL, ownerID, key, secret)
		if err := r.repo.InsertApplication(ctx, candidate); err != nil {
			// A title collision slipped past the pre-check; new random
			// credentials cannot resolve it, so fail immediately.
			if errors.Is(err, database.ErrDuplicateTitle) {
				return apierrors.ErrTitleInUse
			}
			if database.IsDuplicate(err) {
				return err
			}
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		app = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Registered application",
		zap.Int64("application_id", app.ApplicationID),
		zap.String("title", app.Title))
	return app, nil
}

// Get retrieves an application, optionally resolving its owner's public
// profile.
func (r *Registry) Get(ctx context.Context, applicationID int64, appendOwner bool) (*models.Application, error) {
	app, err := r.repo.GetApplicationByID(ctx, applicationID)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if app == nil {
		return nil, apierrors.ErrApplicationUnknown
	}
	if appendOwner {
		profile, err := r.repo.GetUserByID(ctx, app.UserID)
		if err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		if profile == nil {
			return nil, apierrors.ErrOwnerDeleted
		}
		app.Owner = profile
	}
	return app, nil
}

// Update validates and applies any subset of the mutable fields. A
// permissions change revokes every existing grant before the update is
// persisted: prior consent does not cover the new permission set.
func (r *Registry) Update(ctx context.Context, applicationID int64, fields UpdateFields) (*models.Application, error) {
	app, err := r.Get(ctx, applicationID, false)
	if err != nil {
		return nil, err
	}

	if fields.Title != nil {
		if err := validateTitle(*fields.Title); err != nil {
			return nil, err
		}
		inUse, err := r.repo.TitleInUse(ctx, *fields.Title)
		if err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		if inUse {
			return nil, apierrors.ErrTitleInUse
		}
	}
	if fields.Description != nil {
		if err := validateDescription(*fields.Description); err != nil {
			return nil, err
		}
	}
	if fields.Website != nil {
		if err := validateAbsoluteURL(*fields.Website, apierrors.ErrWebsiteInvalid); err != nil {
			return nil, err
		}
	}
	if fields.CallbackURL != nil {
		if err := validateAbsoluteURL(*fields.CallbackURL, apierrors.ErrCallbackInvalid); err != nil {
			return nil, err
		}
	}

	if fields.Permissions != nil {
		if err := r.repo.DeleteGrantsForApplication(ctx, applicationID); err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		app.Permissions = fields.Permissions
	}
	if fields.Title != nil {
		app.Title = *fields.Title
	}
	if fields.Description != nil {
		app.Description = *fields.Description
	}
	if fields.Website != nil {
		app.Website = *fields.Website
	}
	if fields.CallbackURL != nil {
		app.CallbackURL = *fields.CallbackURL
	}

	if err := r.repo.UpdateApplication(ctx, app); err != nil {
		if errors.Is(err, database.ErrDuplicateTitle) {
			return nil, apierrors.ErrTitleInUse
		}
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	return r.Get(ctx, applicationID, true)
}

// RotateKeys issues a fresh key pair. Every grant of the application is
// deleted before the new keys are persisted, so credentials computed from
// the old pair stop verifying the moment rotation starts.
func (r *Registry) RotateKeys(ctx context.Context, applicationID int64) (*models.Application, error) {
	if _, err := r.Get(ctx, applicationID, false); err != nil {
		return nil, err
	}

	if err := r.repo.DeleteGrantsForApplication(ctx, applicationID); err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}

	err := issuer.Attempt(issuer.DefaultMaxAttempts, database.IsDuplicate, func() error {
		key, err := issuer.Generate(issuer.ApplicationKeyLength)
		if err != nil {
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		secret, err := issuer.Generate(issuer.ApplicationKeyLength)
		if err != nil {
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		if err := r.repo.UpdateApplicationKeys(ctx, applicationID, key, secret); err != nil {
			if database.IsDuplicate(err) {
				return err
			}
			return apierrors.Wrap(err, apierrors.ErrGeneric)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Rotated application keys", zap.Int64("application_id", applicationID))
	return r.Get(ctx, applicationID, true)
}

// ListOwnedBy returns all applications owned by the user. With appendOwner,
// entries whose owner profile cannot be resolved are dropped rather than
// failing the listing.
func (r *Registry) ListOwnedBy(ctx context.Context, userID int64, appendOwner bool) ([]models.Application, error) {
	apps, err := r.repo.ListApplicationsByOwner(ctx, userID)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if !appendOwner {
		return apps, nil
	}

	resolved := make([]models.Application, 0, len(apps))
	for i := range apps {
		app, err := r.Get(ctx, apps[i].ApplicationID, true)
		if err != nil {
			r.logger.Warn("Dropping application from listing",
				zap.Int64("application_id", apps[i].ApplicationID),
				zap.Error(err))
			continue
		}
		resolved = append(resolved, *app)
	}
	return resolved, nil
}

// Delete removes an application together with all its grants.
func (r *Registry) Delete(ctx context.Context, applicationID int64) error {
	if _, err := r.Get(ctx, applicationID, false); err != nil {
		return err
	}
	if err := r.repo.DeleteGrantsForApplication(ctx, applicationID); err != nil {
		return apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	if err := r.repo.DeleteApplication(ctx, applicationID); err != nil {
		return apierrors.Wrap(err, apierrors.ErrGeneric)
	}
	r.logger.Info("Deleted application", zap.Int64("application_id", applicationID))
	return nil
}
