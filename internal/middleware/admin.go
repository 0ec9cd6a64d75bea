package middleware

import (
	"net/http"

	apierrors "appauth-service/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AdminKey guards the management surface. The X-Admin-Key header is compared
// against the configured bcrypt hash.
func AdminKey(keyHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Admin-Key")
			if key == "" {
				apierrors.ErrAuthenticationRequired.WriteJSON(w)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				logger.Warn("Rejected admin key", zap.String("path", r.URL.Path))
				apierrors.ErrNoPermission.WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
