package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"appauth-service/internal/grants"
	"appauth-service/internal/models"
	"appauth-service/internal/registry"
	apierrors "appauth-service/pkg/errors"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ApplicationHandler exposes the application registry and grant store.
type ApplicationHandler struct {
	registry *registry.Registry
	grants   *grants.Store
	logger   *zap.Logger
}

// NewApplicationHandler creates a new application handler.
func NewApplicationHandler(reg *registry.Registry, g *grants.Store, logger *zap.Logger) *ApplicationHandler {
	return &ApplicationHandler{
		registry: reg,
		grants:   g,
		logger:   logger,
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil
}

type registerRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Website     string `json:"website"`
	CallbackURL string `json:"callback_url"`
	User        *int64 `json:"user"`
}

// HandleRegister handles POST /applications
// @Summary     Register a third-party application
// @Description Validates title and description, issues a unique application id and key pair.
// @Tags        applications
// @Accept      application/json
// @Produce     application/json
// @Param       request body handlers.registerRequest true "Application fields"
// @Success     200 {object} map[string]interface{}
// @Failure     400 {object} errors.Envelope
// @Failure     409 {object} errors.Envelope
// @Router      /applications [post]
func (h *ApplicationHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, apierrors.Wrap(err, apierrors.ErrGeneric))
		return
	}
	owner := models.OwnerNone
	if req.User != nil {
		owner = *req.User
	}

	app, err := h.registry.Register(r.Context(), req.Title, req.Description, req.Website, req.CallbackURL, owner)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"application": app}))
}

// HandleGet handles GET /applications/{application_id}
// @Summary     Look up an application
// @Tags        applications
// @Produce     application/json
// @Param       application_id path  int  true  "Application ID"
// @Param       append_owner   query bool false "Resolve the owner profile"
// @Success     200 {object} map[string]interface{}
// @Failure     404 {object} errors.Envelope
// @Router      /applications/{application_id} [get]
func (h *ApplicationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "application_id")
	if !ok {
		sendError(w, h.logger, apierrors.ErrApplicationUnknown)
		return
	}
	appendOwner := r.URL.Query().Get("append_owner") == "true"

	app, err := h.registry.Get(r.Context(), id, appendOwner)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"application": app}))
}

type updateRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Website     *string  `json:"website"`
	CallbackURL *string  `json:"callback_url"`
	Permissions []string `json:"permissions"`
}

// HandleUpdate handles PATCH /applications/{application_id}
// @Summary     Update application fields
// @Description Revalidates every present field; a permissions change revokes all grants.
// @Tags        applications
// @Accept      application/json
// @Produce     application/json
// @Param       application_id path int true "Application ID"
// @Param       request body handlers.updateRequest true "Fields to update"
// @Success     200 {object} map[string]interface{}
// @Failure     400 {object} errors.Envelope
// @Router      /applications/{application_id} [patch]
func (h *ApplicationHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "application_id")
	if !ok {
		sendError(w, h.logger, apierrors.ErrApplicationUnknown)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, apierrors.Wrap(err, apierrors.ErrGeneric))
		return
	}

	app, err := h.registry.Update(r.Context(), id, registry.UpdateFields{
		Title:       req.Title,
		Description: req.Description,
		Website:     req.Website,
		CallbackURL: req.CallbackURL,
		Permissions: req.Permissions,
	})
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"application": app}))
}

// HandleRotateKeys handles POST /applications/{application_id}/keys
// @Summary     Rotate the application key pair
// @Description Issues fresh keys and revokes every grant of the application.
// @Tags        applications
// @Produce     application/json
// @Param       application_id path int true "Application ID"
// @Success     200 {object} map[string]interface{}
// @Failure     404 {object} errors.Envelope
// @Router      /applications/{application_id}/keys [post]
func (h *ApplicationHandler) HandleRotateKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "application_id")
	if !ok {
		sendError(w, h.logger, apierrors.ErrApplicationUnknown)
		return
	}
	app, err := h.registry.RotateKeys(r.Context(), id)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"application": app}))
}

// HandleDelete handles DELETE /applications/{application_id}
// @Summary     Delete an application and all its grants
// @Tags        applications
// @Produce     application/json
// @Param       application_id path int true "Application ID"
// @Success     200 {object} map[string]interface{}
// @Failure     404 {object} errors.Envelope
// @Router      /applications/{application_id} [delete]
func (h *ApplicationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "application_id")
	if !ok {
		sendError(w, h.logger, apierrors.ErrApplicationUnknown)
		return
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{}))
}

// HandleListOwned handles GET /users/{userid}/applications
// @Summary     List applications owned by a user
// @Tags        applications
// @Produce     application/json
// @Param       userid       path  int  true  "User ID"
// @Param       append_owner query bool false "Resolve owner profiles, dropping unresolvable entries"
// @Success     200 {object} map[string]interface{}
// @Router      /users/{userid}/applications [get]
func (h *ApplicationHandler) HandleListOwned(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userid")
	if !ok {
		sendError(w, h.logger, apierrors.ErrUserNotExists)
		return
	}
	appendOwner := r.URL.Query().Get("append_owner") == "true"

	apps, err := h.registry.ListOwnedBy(r.Context(), userID, appendOwner)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	if apps == nil {
		apps = []models.Application{}
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"applications": apps}))
}

// HandleCheckAccess handles GET /applications/{application_id}/access/{userid}
// @Summary     Check for an existing grant
// @Tags        grants
// @Produce     application/json
// @Param       application_id path int true "Application ID"
// @Param       userid         path int true "User ID"
// @Success     200 {object} map[string]interface{}
// @Failure     403 {object} errors.Envelope
// @Router      /applications/{application_id}/access/{userid} [get]
func (h *ApplicationHandler) HandleCheckAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "application_id")
	if !ok {
		sendError(w, h.logger, apierrors.ErrApplicationUnknown)
		return
	}
	userID, ok := pathID(r, "userid")
	if !ok {
		sendError(w, h.logger, apierrors.ErrUserNotExists)
		return
	}
	grant, err := h.grants.Check(r.Context(), id, userID)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"grant": grant}))
}

// HandleGrantAccess handles POST /applications/{application_id}/access/{userid}
// @Summary     Grant delegated access directly (trusted internal call)
// @Tags        grants
// @Produce     application/json
// @Param       application_id           path  int  true  "Application ID"
// @Param       userid                   path  int  true  "User ID"
// @Param       already_granted_is_error query bool false "Fail if a grant already exists"
// @Success     200 {object} map[string]interface{}
// @Failure     409 {object} errors.Envelope
// @Router      /applications/{application_id}/access/{userid} [post]
func (h *ApplicationHandler) HandleGrantAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "application_id")
	if !ok {
		sendError(w, h.logger, apierrors.ErrApplicationUnknown)
		return
	}
	userID, ok := pathID(r, "userid")
	if !ok {
		sendError(w, h.logger, apierrors.ErrUserNotExists)
		return
	}
	strict := r.URL.Query().Get("already_granted_is_error") == "true"

	grant, err := h.grants.Grant(r.Context(), id, userID, strict)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{"grant": grant}))
}

// HandleRevokeAccess handles DELETE /applications/{application_id}/access/{userid}
// @Summary     Revoke delegated access
// @Tags        grants
// @Produce     application/json
// @Param       application_id           path  int  true  "Application ID"
// @Param       userid                   path  int  true  "User ID"
// @Param       already_revoked_is_error query bool false "Fail if no grant exists"
// @Success     200 {object} map[string]interface{}
// @Failure     409 {object} errors.Envelope
// @Router      /applications/{application_id}/access/{userid} [delete]
func (h *ApplicationHandler) HandleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "application_id")
	if !ok {
		sendError(w, h.logger, apierrors.ErrApplicationUnknown)
		return
	}
	userID, ok := pathID(r, "userid")
	if !ok {
		sendError(w, h.logger, apierrors.ErrUserNotExists)
		return
	}
	strict := r.URL.Query().Get("already_revoked_is_error") == "true"

	if err := h.grants.Revoke(r.Context(), id, userID, strict); err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, success(map[string]interface{}{}))
}
