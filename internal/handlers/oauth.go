package handlers

import (
	"encoding/json"
	"net/http"

	"appauth-service/internal/exchange"
	"appauth-service/internal/middleware"
	apierrors "appauth-service/pkg/errors"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// OAuthHandler exposes the three-legged token exchange.
type OAuthHandler struct {
	protocol *exchange.Protocol
	logger   *zap.Logger
}

// NewOAuthHandler creates a new OAuth handler.
func NewOAuthHandler(protocol *exchange.Protocol, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{
		protocol: protocol,
		logger:   logger,
	}
}

type requestTokenRequest struct {
	ApplicationID  int64  `json:"application_id"`
	ApplicationKey string `json:"application_key"`
}

// HandleRequestToken handles POST /oauth/request_token
// @Summary     Begin the token exchange
// @Description Issues a short-lived request token for the application identified by its id and key.
// @Tags        oauth
// @Accept      application/json
// @Produce     application/json
// @Param       request body handlers.requestTokenRequest true "Application identification"
// @Success     200 {object} map[string]interface{}
// @Failure     404 {object} errors.Envelope
// @Router      /oauth/request_token [post]
func (h *OAuthHandler) HandleRequestToken(w http.ResponseWriter, r *http.Request) {
	var req requestTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, apierrors.Wrap(err, apierrors.ErrGeneric))
		return
	}
	token, err := h.protocol.BeginRequest(r.Context(), req.ApplicationID, req.ApplicationKey)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"request_token": token}))
}

// HandleValidateRequestToken handles GET /oauth/request_token/{request_token}
// @Summary     Validate a request token
// @Description Resolves the token and the application behind a pending authorization attempt.
// @Tags        oauth
// @Produce     application/json
// @Param       request_token path string true "Request token"
// @Success     200 {object} map[string]interface{}
// @Failure     401 {object} errors.Envelope
// @Router      /oauth/request_token/{request_token} [get]
func (h *OAuthHandler) HandleValidateRequestToken(w http.ResponseWriter, r *http.Request) {
	validation, err := h.protocol.ValidateRequest(r.Context(), mux.Vars(r)["request_token"])
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{
		"request_token": validation.RequestToken,
		"application":   validation.Application,
	}))
}

type accessBearerRequest struct {
	RequestToken string `json:"request_token"`
	UserID       int64  `json:"userid"`
}

// HandleAccessBearer handles POST /oauth/access_bearer
// @Summary     Issue an access bearer for an authenticated user
// @Description Consumes a valid request token and binds the pending attempt to the user. Trusted internal call.
// @Tags        oauth
// @Accept      application/json
// @Produce     application/json
// @Param       request body handlers.accessBearerRequest true "Request token and user"
// @Success     200 {object} map[string]interface{}
// @Failure     401 {object} errors.Envelope
// @Router      /oauth/access_bearer [post]
func (h *OAuthHandler) HandleAccessBearer(w http.ResponseWriter, r *http.Request) {
	var req accessBearerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, apierrors.Wrap(err, apierrors.ErrGeneric))
		return
	}
	bearer, err := h.protocol.CompleteRequest(r.Context(), req.RequestToken, req.UserID)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"access_bearer": bearer}))
}

type exchangeRequest struct {
	ApplicationID     int64  `json:"application_id"`
	ApplicationKey    string `json:"application_key"`
	ApplicationSecret string `json:"application_secret"`
	AccessBearer      string `json:"access_bearer"`
}

// HandleExchange handles POST /oauth/exchange
// @Summary     Exchange an access bearer for a durable grant
// @Description The full application credential triple plus a live bearer yield the grant's token pair.
// @Tags        oauth
// @Accept      application/json
// @Produce     application/json
// @Param       request body handlers.exchangeRequest true "Credentials and bearer"
// @Success     200 {object} map[string]interface{}
// @Failure     401 {object} errors.Envelope
// @Router      /oauth/exchange [post]
func (h *OAuthHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, apierrors.Wrap(err, apierrors.ErrGeneric))
		return
	}
	grant, err := h.protocol.Exchange(r.Context(), req.ApplicationID, req.ApplicationKey, req.ApplicationSecret, req.AccessBearer)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"grant": grant}))
}

// HandleVerify handles GET /oauth/verify
// @Summary     Verify a composite credential
// @Description Echoes the identity established by the authorization middleware.
// @Tags        oauth
// @Produce     application/json
// @Param       token query string true "base64 composite credential"
// @Success     200 {object} map[string]interface{}
// @Failure     401 {object} errors.Envelope
// @Router      /oauth/verify [get]
func (h *OAuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.AuthContextFrom(r.Context())
	if !ok {
		sendError(w, h.logger, apierrors.ErrAuthenticationRequired)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{
		"application": ac.Application,
		"userid":      ac.UserID,
		"user":        ac.Profile,
	}))
}
