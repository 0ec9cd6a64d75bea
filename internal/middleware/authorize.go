package middleware

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"appauth-service/internal/database"
	"appauth-service/internal/metrics"
	"appauth-service/internal/models"
	apierrors "appauth-service/pkg/errors"

	"go.uber.org/zap"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// AuthContext is the verified identity attached to a request that passed
// the composite-credential check.
type AuthContext struct {
	Application *models.Application
	UserID      int64

	// Profile is the resolved public profile of UserID, populated only when
	// the middleware was built with resolveProfile.
	Profile *models.PublicUserProfile
}

// AuthContextFrom extracts the verified identity from a request context.
func AuthContextFrom(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey).(*AuthContext)
	return ac, ok
}

// Authorize verifies the composite credential carried in the token query
// parameter: base64 of "id:key:secret:access_token:access_secret". The
// request proceeds with an AuthContext holding the application and the
// grant's user.
func Authorize(repo database.Repository, logger *zap.Logger, resolveProfile bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic during authorization", zap.Any("panic", rec))
					metrics.Authorizations.WithLabelValues("panic").Inc()
					apierrors.ErrGeneric.WriteJSON(w)
				}
			}()

			token := r.URL.Query().Get("token")
			if token == "" {
				metrics.Authorizations.WithLabelValues("missing").Inc()
				apierrors.ErrAuthenticationRequired.WriteJSON(w)
				return
			}

			decoded, err := base64.StdEncoding.DecodeString(token)
			parts := strings.Split(string(decoded), ":")
			if err != nil || len(parts) != 5 {
				metrics.Authorizations.WithLabelValues("malformed").Inc()
				apierrors.ErrAuthenticationItems.WriteJSON(w)
				return
			}

			applicationID, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				metrics.Authorizations.WithLabelValues("unknown_application").Inc()
				apierrors.ErrApplicationUnknown.WriteJSON(w)
				return
			}

			ctx := r.Context()
			app, err := repo.GetApplicationByCredentials(ctx, applicationID, parts[1], parts[2])
			if err != nil {
				logger.Error("Application lookup failed during authorization", zap.Error(err))
				apierrors.ErrGeneric.WriteJSON(w)
				return
			}
			if app == nil {
				metrics.Authorizations.WithLabelValues("unknown_application").Inc()
				apierrors.ErrApplicationUnknown.WriteJSON(w)
				return
			}

			grant, err := repo.GetGrantByTokens(ctx, app.ApplicationID, parts[3], parts[4])
			if err != nil {
				logger.Error("Grant lookup failed during authorization", zap.Error(err))
				apierrors.ErrGeneric.WriteJSON(w)
				return
			}
			if grant == nil {
				metrics.Authorizations.WithLabelValues("no_permission").Inc()
				apierrors.ErrNoPermission.WriteJSON(w)
				return
			}

			profile, err := repo.GetUserByID(ctx, grant.UserID)
			if err != nil {
				logger.Error("User lookup failed during authorization", zap.Error(err))
				apierrors.ErrGeneric.WriteJSON(w)
				return
			}
			if profile == nil {
				metrics.Authorizations.WithLabelValues("user_gone").Inc()
				apierrors.ErrUserNotExists.WriteJSON(w)
				return
			}

			if err := repo.IncrementAuthenticationCount(ctx, app.ApplicationID); err != nil {
				logger.Warn("Failed to update authentication statistics",
					zap.Int64("application_id", app.ApplicationID), zap.Error(err))
			}
			metrics.Authorizations.WithLabelValues("ok").Inc()

			ac := &AuthContext{
				Application: app,
				UserID:      grant.UserID,
			}
			if resolveProfile {
				ac.Profile = profile
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, authContextKey, ac)))
		})
	}
}
