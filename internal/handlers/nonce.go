package handlers

import (
	"encoding/json"
	"net/http"

	"appauth-service/internal/models"
	"appauth-service/internal/nonce"
	apierrors "appauth-service/pkg/errors"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NonceHandler exposes the device-authentication nonce lifecycle.
type NonceHandler struct {
	nonces *nonce.StateMachine
	logger *zap.Logger
}

// NewNonceHandler creates a new nonce handler.
func NewNonceHandler(nonces *nonce.StateMachine, logger *zap.Logger) *NonceHandler {
	return &NonceHandler{
		nonces: nonces,
		logger: logger,
	}
}

type nonceCreateRequest struct {
	ApplicationID int64 `json:"application_id"`
}

// HandleCreate handles POST /authentication/nonce
// @Summary     Issue a device-authentication nonce
// @Description The application must hold the authentication permission.
// @Tags        authentication
// @Accept      application/json
// @Produce     application/json
// @Param       request body handlers.nonceCreateRequest true "Requesting application"
// @Success     200 {object} map[string]interface{}
// @Failure     403 {object} errors.Envelope
// @Router      /authentication/nonce [post]
func (h *NonceHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req nonceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, apierrors.Wrap(err, apierrors.ErrGeneric))
		return
	}
	record, err := h.nonces.Create(r.Context(), req.ApplicationID)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"nonce": record}))
}

// HandleGet handles GET /authentication/nonce/{nonce}
// @Summary     Look up a nonce
// @Description Returns the stored record regardless of state. Expired nonces are rejected unless check_expiration=false.
// @Tags        authentication
// @Produce     application/json
// @Param       nonce            path  string true  "Nonce value"
// @Param       check_expiration query bool   false "Reject expired nonces (default true)"
// @Success     200 {object} map[string]interface{}
// @Failure     404 {object} errors.Envelope
// @Router      /authentication/nonce/{nonce} [get]
func (h *NonceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	checkExpiration := r.URL.Query().Get("check_expiration") != "false"
	record, err := h.nonces.Get(r.Context(), mux.Vars(r)["nonce"], checkExpiration)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"nonce": record}))
}

type nonceValidateRequest struct {
	ApplicationID int64             `json:"application_id"`
	RequiredState models.NonceState `json:"required_state"`
}

// HandleValidate handles POST /authentication/nonce/{nonce}/validate
// @Summary     Validate a nonce for an application
// @Description The nonce must belong to the application, be unexpired and sit in the required state.
// @Tags        authentication
// @Accept      application/json
// @Produce     application/json
// @Param       nonce   path string true "Nonce value"
// @Param       request body handlers.nonceValidateRequest true "Owning application and expected state"
// @Success     200 {object} map[string]interface{}
// @Failure     401 {object} errors.Envelope
// @Router      /authentication/nonce/{nonce}/validate [post]
func (h *NonceHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req nonceValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, apierrors.Wrap(err, apierrors.ErrGeneric))
		return
	}
	requiredState := req.RequiredState
	if requiredState == "" {
		requiredState = models.NonceStateGenerated
	}
	record, err := h.nonces.Validate(r.Context(), req.ApplicationID, mux.Vars(r)["nonce"], requiredState)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"nonce": record}))
}

type nonceUpdateRequest struct {
	State models.NonceState `json:"state"`
	Extra map[string]string `json:"extra"`
}

// HandleUpdate handles PATCH /authentication/nonce/{nonce}
// @Summary     Transition a nonce to a terminal state
// @Description Moves a generated nonce to used or declined, merging extra fields into the record.
// @Tags        authentication
// @Accept      application/json
// @Produce     application/json
// @Param       nonce   path string true "Nonce value"
// @Param       request body handlers.nonceUpdateRequest true "Target state and extra fields"
// @Success     200 {object} map[string]interface{}
// @Failure     409 {object} errors.Envelope
// @Router      /authentication/nonce/{nonce} [patch]
func (h *NonceHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req nonceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, apierrors.Wrap(err, apierrors.ErrGeneric))
		return
	}
	record, err := h.nonces.Update(r.Context(), mux.Vars(r)["nonce"], req.State, req.Extra)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"nonce": record}))
}
