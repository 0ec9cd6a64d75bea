package main

import (
	"net/http"

	"appauth-service/internal/database"
	"appauth-service/internal/handlers"
	"appauth-service/internal/metrics"
	"appauth-service/internal/middleware"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	_ "appauth-service/docs"
)

// SetupRouter configures and returns the HTTP router with all routes and middleware
func SetupRouter(
	applicationHandler *handlers.ApplicationHandler,
	oauthHandler *handlers.OAuthHandler,
	nonceHandler *handlers.NonceHandler,
	repo database.Repository,
	adminKeyHash string,
	logger *zap.Logger,
) *mux.Router {
	router := mux.NewRouter()

	// Add CORS middleware
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// Add logging middleware
	router.Use(middleware.Logging(logger))

	// Public token exchange endpoints
	router.HandleFunc("/oauth/request_token", oauthHandler.HandleRequestToken).Methods("POST", "OPTIONS")
	router.HandleFunc("/oauth/request_token/{request_token}", oauthHandler.HandleValidateRequestToken).Methods("GET", "OPTIONS")
	router.HandleFunc("/oauth/exchange", oauthHandler.HandleExchange).Methods("POST", "OPTIONS")

	// Credential verification, guarded by the composite-credential check
	router.Handle("/oauth/verify",
		middleware.Authorize(repo, logger, true)(http.HandlerFunc(oauthHandler.HandleVerify)),
	).Methods("GET", "OPTIONS")

	// Public application lookup
	router.HandleFunc("/applications/{application_id}", applicationHandler.HandleGet).Methods("GET", "OPTIONS")

	// Management surface, guarded by the admin key
	admin := router.NewRoute().Subrouter()
	admin.Use(middleware.AdminKey(adminKeyHash, logger))

	admin.HandleFunc("/applications", applicationHandler.HandleRegister).Methods("POST")
	admin.HandleFunc("/applications/{application_id}", applicationHandler.HandleUpdate).Methods("PATCH")
	admin.HandleFunc("/applications/{application_id}", applicationHandler.HandleDelete).Methods("DELETE")
	admin.HandleFunc("/applications/{application_id}/keys", applicationHandler.HandleRotateKeys).Methods("POST")
	admin.HandleFunc("/users/{userid}/applications", applicationHandler.HandleListOwned).Methods("GET")

	admin.HandleFunc("/applications/{application_id}/access/{userid}", applicationHandler.HandleCheckAccess).Methods("GET")
	admin.HandleFunc("/applications/{application_id}/access/{userid}", applicationHandler.HandleGrantAccess).Methods("POST")
	admin.HandleFunc("/applications/{application_id}/access/{userid}", applicationHandler.HandleRevokeAccess).Methods("DELETE")

	admin.HandleFunc("/oauth/access_bearer", oauthHandler.HandleAccessBearer).Methods("POST")

	admin.HandleFunc("/authentication/nonce", nonceHandler.HandleCreate).Methods("POST")
	admin.HandleFunc("/authentication/nonce/{nonce}", nonceHandler.HandleGet).Methods("GET")
	admin.HandleFunc("/authentication/nonce/{nonce}/validate", nonceHandler.HandleValidate).Methods("POST")
	admin.HandleFunc("/authentication/nonce/{nonce}", nonceHandler.HandleUpdate).Methods("PATCH")

	// Health check
	// @Summary     Health check endpoint
	// @Description Returns OK if the service is running
	// @Tags        health
	// @Produce     text/plain
	// @Success     200  {string}  string  "OK"
	// @Router      /health [get]
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Prometheus metrics
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Swagger documentation
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	return router
}
