package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"appauth-service/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gocloud.dev/postgres"
	_ "gocloud.dev/postgres/awspostgres"
	_ "gocloud.dev/postgres/gcppostgres"
)

// Duplicate-insert signals. The unique indexes in the schema are the sole
// collision authority for issued credentials; callers regenerate and retry
// when an insert reports one of these.
var (
	// ErrDuplicateID means the generated application id collided.
	ErrDuplicateID = errors.New("database: duplicate application id")
	// ErrDuplicateKey means a generated credential string collided
	// (application key or grant access token).
	ErrDuplicateKey = errors.New("database: duplicate credential")
	// ErrDuplicateTitle means the title unique index rejected the insert.
	ErrDuplicateTitle = errors.New("database: duplicate title")
	// ErrDuplicateGrant means a grant for the (application, user) pair
	// already exists.
	ErrDuplicateGrant = errors.New("database: duplicate grant")
)

// IsDuplicate reports whether err is a credential collision worth retrying
// with freshly generated values. Title and grant-pair conflicts are not
// retryable: new random values cannot resolve them.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateID) || errors.Is(err, ErrDuplicateKey)
}

// Repository defines the interface for database operations
type Repository interface {
	Close() error

	// Applications
	InsertApplication(ctx context.Context, app *models.Application) error
	GetApplicationByID(ctx context.Context, applicationID int64) (*models.Application, error)
	GetApplicationByKey(ctx context.Context, applicationID int64, key string) (*models.Application, error)
	GetApplicationByCredentials(ctx context.Context, applicationID int64, key, secret string) (*models.Application, error)
	TitleInUse(ctx context.Context, title string) (bool, error)
	UpdateApplication(ctx context.Context, app *models.Application) error
	UpdateApplicationKeys(ctx context.Context, applicationID int64, key, secret string) error
	DeleteApplication(ctx context.Context, applicationID int64) error
	ListApplicationsByOwner(ctx context.Context, userID int64) ([]models.Application, error)
	IncrementRequestCount(ctx context.Context, applicationID int64) error
	IncrementAuthenticationCount(ctx context.Context, applicationID int64) error

	// Grants
	InsertGrant(ctx context.Context, grant *models.OAuthGrant) error
	GetGrant(ctx context.Context, applicationID, userID int64) (*models.OAuthGrant, error)
	GetGrantByTokens(ctx context.Context, applicationID int64, accessToken, accessSecret string) (*models.OAuthGrant, error)
	DeleteGrant(ctx context.Context, applicationID, userID int64) error
	DeleteGrantsForApplication(ctx context.Context, applicationID int64) error

	// Accounts (read-only public profiles)
	GetUserByID(ctx context.Context, userID int64) (*models.PublicUserProfile, error)
}

// PostgresRepository handles database operations
type PostgresRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRepository creates a new repository instance
func NewRepository(ctx context.Context, databaseURL string, logger *zap.Logger) (Repository, error) {
	// Retry connection with exponential backoff
	var db *sql.DB
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		db, err = postgres.Open(ctx, databaseURL)
		if err == nil {
			// Test the connection
			if err = db.PingContext(ctx); err == nil {
				break
			}
			db.Close()
		}
		if i < maxRetries-1 {
			waitTime := time.Duration(i+1) * time.Second
			logger.Warn("Failed to connect to database, retrying...", zap.Int("attempt", i+1), zap.Duration("wait", waitTime), zap.Error(err))
			time.Sleep(waitTime)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	return &PostgresRepository{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// duplicateError maps a unique-violation to the typed duplicate signal for
// its constraint, or returns err unchanged.
func duplicateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case "applications_pkey":
		return ErrDuplicateID
	case "applications_title_lower_key":
		return ErrDuplicateTitle
	case "applications_application_key_key", "oauth_grants_access_token_key":
		return ErrDuplicateKey
	case "oauth_grants_pkey":
		return ErrDuplicateGrant
	}
	return err
}

const applicationColumns = `application_id, title, description, website, callback_url,
	owner_id, created, application_key, application_secret, status, permissions,
	authentication_count, request_count`

func (r *PostgresRepository) scanApplication(row *sql.Row) (*models.Application, error) {
	var app models.Application
	err := row.Scan(
		&app.ApplicationID,
		&app.Title,
		&app.Description,
		&app.Website,
		&app.CallbackURL,
		&app.UserID,
		&app.Created,
		&app.ApplicationKey,
		&app.ApplicationSecret,
		&app.Status,
		pq.Array(&app.Permissions),
		&app.Statistics.AuthenticationCount,
		&app.Statistics.RequestCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// InsertApplication persists a freshly issued application record.
func (r *PostgresRepository) InsertApplication(ctx context.Context, app *models.Application) error {
	query := `
		INSERT INTO applications (` + applicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		app.ApplicationID,
		app.Title,
		app.Description,
		app.Website,
		app.CallbackURL,
		app.UserID,
		app.Created,
		app.ApplicationKey,
		app.ApplicationSecret,
		app.Status,
		pq.Array(app.Permissions),
		app.Statistics.AuthenticationCount,
		app.Statistics.RequestCount,
	)
	if err != nil {
		if dup := duplicateError(err); dup != err {
			return dup
		}
		r.logger.Error("Failed to insert application", zap.Int64("application_id", app.ApplicationID), zap.Error(err))
		return err
	}
	return nil
}

// GetApplicationByID retrieves an application by its numeric id.
func (r *PostgresRepository) GetApplicationByID(ctx context.Context, applicationID int64) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE application_id = $1`
	app, err := r.scanApplication(r.db.QueryRowContext(ctx, query, applicationID))
	if err != nil {
		r.logger.Error("Failed to get application by id", zap.Int64("application_id", applicationID), zap.Error(err))
		return nil, err
	}
	return app, nil
}

// GetApplicationByKey retrieves an application by (id, key).
func (r *PostgresRepository) GetApplicationByKey(ctx context.Context, applicationID int64, key string) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE application_id = $1 AND application_key = $2`
	app, err := r.scanApplication(r.db.QueryRowContext(ctx, query, applicationID, key))
	if err != nil {
		r.logger.Error("Failed to get application by key", zap.Int64("application_id", applicationID), zap.Error(err))
		return nil, err
	}
	return app, nil
}

// GetApplicationByCredentials retrieves an application by the full
// (id, key, secret) triple.
func (r *PostgresRepository) GetApplicationByCredentials(ctx context.Context, applicationID int64, key, secret string) (*models.Application, error) {
	query := `
		SELECT ` + applicationColumns + ` FROM applications
		WHERE application_id = $1 AND application_key = $2 AND application_secret = $3
	`
	app, err := r.scanApplication(r.db.QueryRowContext(ctx, query, applicationID, key, secret))
	if err != nil {
		r.logger.Error("Failed to get application by credentials", zap.Int64("application_id", applicationID), zap.Error(err))
		return nil, err
	}
	return app, nil
}

// TitleInUse reports whether any live application carries the title,
// compared case-insensitively.
func (r *PostgresRepository) TitleInUse(ctx context.Context, title string) (bool, error) {
	query := `SELECT COUNT(*) FROM applications WHERE lower(title) = lower($1)`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, title).Scan(&count); err != nil {
		r.logger.Error("Failed to check title", zap.String("title", title), zap.Error(err))
		return false, err
	}
	return count > 0, nil
}

// UpdateApplication persists the mutable fields of an application record.
func (r *PostgresRepository) UpdateApplication(ctx context.Context, app *models.Application) error {
	query := `
		UPDATE applications
		SET title = $2, description = $3, website = $4, callback_url = $5, permissions = $6
		WHERE application_id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		app.ApplicationID,
		app.Title,
		app.Description,
		app.Website,
		app.CallbackURL,
		pq.Array(app.Permissions),
	)
	if err != nil {
		if dup := duplicateError(err); dup != err {
			return dup
		}
		r.logger.Error("Failed to update application", zap.Int64("application_id", app.ApplicationID), zap.Error(err))
		return err
	}
	return nil
}

// UpdateApplicationKeys replaces the application's credential pair.
func (r *PostgresRepository) UpdateApplicationKeys(ctx context.Context, applicationID int64, key, secret string) error {
	query := `UPDATE applications SET application_key = $2, application_secret = $3 WHERE application_id = $1`
	_, err := r.db.ExecContext(ctx, query, applicationID, key, secret)
	if err != nil {
		if dup := duplicateError(err); dup != err {
			return dup
		}
		r.logger.Error("Failed to update application keys", zap.Int64("application_id", applicationID), zap.Error(err))
		return err
	}
	return nil
}

// DeleteApplication removes the application record.
func (r *PostgresRepository) DeleteApplication(ctx context.Context, applicationID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM applications WHERE application_id = $1`, applicationID)
	if err != nil {
		r.logger.Error("Failed to delete application", zap.Int64("application_id", applicationID), zap.Error(err))
		return err
	}
	return nil
}

// ListApplicationsByOwner returns all applications owned by the given user.
func (r *PostgresRepository) ListApplicationsByOwner(ctx context.Context, userID int64) ([]models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE owner_id = $1 ORDER BY created`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to list applications", zap.Int64("owner_id", userID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var apps []models.Application
	for rows.Next() {
		var app models.Application
		if err := rows.Scan(
			&app.ApplicationID,
			&app.Title,
			&app.Description,
			&app.Website,
			&app.CallbackURL,
			&app.UserID,
			&app.Created,
			&app.ApplicationKey,
			&app.ApplicationSecret,
			&app.Status,
			pq.Array(&app.Permissions),
			&app.Statistics.AuthenticationCount,
			&app.Statistics.RequestCount,
		); err != nil {
			r.logger.Error("Failed to scan application row", zap.Error(err))
			return nil, err
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return apps, nil
}

// IncrementRequestCount bumps the request statistic for an application.
func (r *PostgresRepository) IncrementRequestCount(ctx context.Context, applicationID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE applications SET request_count = request_count + 1 WHERE application_id = $1`, applicationID)
	if err != nil {
		r.logger.Error("Failed to increment request count", zap.Int64("application_id", applicationID), zap.Error(err))
		return err
	}
	return nil
}

// IncrementAuthenticationCount bumps the authentication statistic.
func (r *PostgresRepository) IncrementAuthenticationCount(ctx context.Context, applicationID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE applications SET authentication_count = authentication_count + 1 WHERE application_id = $1`, applicationID)
	if err != nil {
		r.logger.Error("Failed to increment authentication count", zap.Int64("application_id", applicationID), zap.Error(err))
		return err
	}
	return nil
}

// InsertGrant persists a freshly issued grant.
func (r *PostgresRepository) InsertGrant(ctx context.Context, grant *models.OAuthGrant) error {
	query := `
		INSERT INTO oauth_grants (application_id, userid, access_token, access_secret, created)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		grant.ApplicationID,
		grant.UserID,
		grant.AccessToken,
		grant.AccessSecret,
		grant.Created,
	)
	if err != nil {
		if dup := duplicateError(err); dup != err {
			return dup
		}
		r.logger.Error("Failed to insert grant",
			zap.Int64("application_id", grant.ApplicationID),
			zap.Int64("userid", grant.UserID),
			zap.Error(err))
		return err
	}
	return nil
}

func (r *PostgresRepository) scanGrant(row *sql.Row) (*models.OAuthGrant, error) {
	var grant models.OAuthGrant
	err := row.Scan(
		&grant.ApplicationID,
		&grant.UserID,
		&grant.AccessToken,
		&grant.AccessSecret,
		&grant.Created,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// GetGrant retrieves the grant for one (application, user) pair.
func (r *PostgresRepository) GetGrant(ctx context.Context, applicationID, userID int64) (*models.OAuthGrant, error) {
	query := `
		SELECT application_id, userid, access_token, access_secret, created
		FROM oauth_grants WHERE application_id = $1 AND userid = $2
	`
	grant, err := r.scanGrant(r.db.QueryRowContext(ctx, query, applicationID, userID))
	if err != nil {
		r.logger.Error("Failed to get grant", zap.Int64("application_id", applicationID), zap.Int64("userid", userID), zap.Error(err))
		return nil, err
	}
	return grant, nil
}

// GetGrantByTokens retrieves a grant by its access token/secret pair.
func (r *PostgresRepository) GetGrantByTokens(ctx context.Context, applicationID int64, accessToken, accessSecret string) (*models.OAuthGrant, error) {
	query := `
		SELECT application_id, userid, access_token, access_secret, created
		FROM oauth_grants WHERE application_id = $1 AND access_token = $2 AND access_secret = $3
	`
	grant, err := r.scanGrant(r.db.QueryRowContext(ctx, query, applicationID, accessToken, accessSecret))
	if err != nil {
		r.logger.Error("Failed to get grant by tokens", zap.Int64("application_id", applicationID), zap.Error(err))
		return nil, err
	}
	return grant, nil
}

// DeleteGrant removes the grant for one (application, user) pair.
func (r *PostgresRepository) DeleteGrant(ctx context.Context, applicationID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_grants WHERE application_id = $1 AND userid = $2`, applicationID, userID)
	if err != nil {
		r.logger.Error("Failed to delete grant", zap.Int64("application_id", applicationID), zap.Int64("userid", userID), zap.Error(err))
		return err
	}
	return nil
}

// DeleteGrantsForApplication removes every grant of an application. Used by
// key rotation, permission updates and application deletion.
func (r *PostgresRepository) DeleteGrantsForApplication(ctx context.Context, applicationID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_grants WHERE application_id = $1`, applicationID)
	if err != nil {
		r.logger.Error("Failed to delete grants for application", zap.Int64("application_id", applicationID), zap.Error(err))
		return err
	}
	return nil
}

// GetUserByID retrieves the public profile of an account.
func (r *PostgresRepository) GetUserByID(ctx context.Context, userID int64) (*models.PublicUserProfile, error) {
	query := `SELECT userid, username, display_name, created FROM accounts WHERE userid = $1`
	var profile models.PublicUserProfile
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.Username,
		&profile.DisplayName,
		&profile.Created,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user by id", zap.Int64("userid", userID), zap.Error(err))
		return nil, err
	}
	return &profile, nil
}
