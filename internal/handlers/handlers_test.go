package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"appauth-service/internal/cache"
	"appauth-service/internal/exchange"
	"appauth-service/internal/grants"
	"appauth-service/internal/handlers"
	"appauth-service/internal/models"
	"appauth-service/internal/nonce"
	"appauth-service/internal/registry"
	"appauth-service/test/mocks"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

const appID int64 = 1000000000000001

func testApplication() *models.Application {
	return &models.Application{
		ApplicationID:     appID,
		Title:             "Weather Widget",
		Description:       "Shows the local weather on the dashboard",
		UserID:            42,
		Created:           time.Now().UTC(),
		ApplicationKey:    "app-key",
		ApplicationSecret: "app-secret",
		Permissions:       []string{},
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewCacheWithClient(client, zap.NewNop())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleRegister(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	logger := zap.NewNop()
	handler := handlers.NewApplicationHandler(registry.New(mockRepo, logger), grants.New(mockRepo, logger), logger)

	mockRepo.On("TitleInUse", mock.Anything, "Weather Widget").Return(false, nil)
	mockRepo.On("InsertApplication", mock.Anything, mock.AnythingOfType("*models.Application")).Return(nil)

	payload := `{"title":"Weather Widget","description":"Shows the local weather","website":"https://example.com","user":42}`
	req := httptest.NewRequest(http.MethodPost, "/applications", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	router := mux.NewRouter()
	router.HandleFunc("/applications", handler.HandleRegister).Methods("POST")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["result"])
	app := body["application"].(map[string]interface{})
	assert.Equal(t, "Weather Widget", app["title"])
	assert.Len(t, app["application_key"], 50)
	assert.Len(t, app["application_secret"], 50)
}

func TestHandleRegister_InvalidTitleEnvelope(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	logger := zap.NewNop()
	handler := handlers.NewApplicationHandler(registry.New(mockRepo, logger), grants.New(mockRepo, logger), logger)

	payload := `{"title":"ab","description":"Shows the local weather"}`
	req := httptest.NewRequest(http.MethodPost, "/applications", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	router := mux.NewRouter()
	router.HandleFunc("/applications", handler.HandleRegister).Methods("POST")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["result"])
	assert.Equal(t, float64(55), body["code"])
	assert.Equal(t, "Invalid title", body["message"])
}

func TestHandleGet_UnknownApplicationEnvelope(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	logger := zap.NewNop()
	handler := handlers.NewApplicationHandler(registry.New(mockRepo, logger), grants.New(mockRepo, logger), logger)

	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/applications/1000000000000001", nil)
	rec := httptest.NewRecorder()

	router := mux.NewRouter()
	router.HandleFunc("/applications/{application_id}", handler.HandleGet).Methods("GET")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["result"])
	assert.Equal(t, float64(68), body["code"])
}

func TestHandleGet_NonNumericID(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	logger := zap.NewNop()
	handler := handlers.NewApplicationHandler(registry.New(mockRepo, logger), grants.New(mockRepo, logger), logger)

	req := httptest.NewRequest(http.MethodGet, "/applications/not-a-number", nil)
	rec := httptest.NewRecorder()

	router := mux.NewRouter()
	router.HandleFunc("/applications/{application_id}", handler.HandleGet).Methods("GET")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(68), body["code"])
	mockRepo.AssertNotCalled(t, "GetApplicationByID")
}

func TestHandleRequestToken(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	logger := zap.NewNop()
	protocol := exchange.New(mockRepo, newTestCache(t), grants.New(mockRepo, logger), 10*time.Minute, 5*time.Minute, logger)
	handler := handlers.NewOAuthHandler(protocol, logger)

	mockRepo.On("GetApplicationByKey", mock.Anything, appID, "app-key").Return(testApplication(), nil)
	mockRepo.On("IncrementRequestCount", mock.Anything, appID).Return(nil)

	payload := `{"application_id":1000000000000001,"application_key":"app-key"}`
	req := httptest.NewRequest(http.MethodPost, "/oauth/request_token", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	router := mux.NewRouter()
	router.HandleFunc("/oauth/request_token", handler.HandleRequestToken).Methods("POST")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["result"])
	token := body["request_token"].(map[string]interface{})
	assert.Len(t, token["request_token"], 64)
}

func TestHandleValidateRequestToken_InvalidEnvelope(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	logger := zap.NewNop()
	protocol := exchange.New(mockRepo, newTestCache(t), grants.New(mockRepo, logger), 10*time.Minute, 5*time.Minute, logger)
	handler := handlers.NewOAuthHandler(protocol, logger)

	req := httptest.NewRequest(http.MethodGet, "/oauth/request_token/unknown-token", nil)
	rec := httptest.NewRecorder()

	router := mux.NewRouter()
	router.HandleFunc("/oauth/request_token/{request_token}", handler.HandleValidateRequestToken).Methods("GET")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(70), body["code"])
	assert.Equal(t, "Invalid request token", body["message"])
}

func TestHandleNonceCreate_NoPermissionEnvelope(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	logger := zap.NewNop()
	sm := nonce.New(mockRepo, newTestCache(t), 5*time.Minute, logger)
	handler := handlers.NewNonceHandler(sm, logger)

	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(testApplication(), nil)

	payload := `{"application_id":1000000000000001}`
	req := httptest.NewRequest(http.MethodPost, "/authentication/nonce", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	router := mux.NewRouter()
	router.HandleFunc("/authentication/nonce", handler.HandleCreate).Methods("POST")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(69), body["code"])
}

func TestHandleNonceLifecycle(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	logger := zap.NewNop()
	sm := nonce.New(mockRepo, newTestCache(t), 5*time.Minute, logger)
	handler := handlers.NewNonceHandler(sm, logger)

	app := testApplication()
	app.Permissions = []string{models.PermissionAuthentication}
	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(app, nil)

	router := mux.NewRouter()
	router.HandleFunc("/authentication/nonce", handler.HandleCreate).Methods("POST")
	router.HandleFunc("/authentication/nonce/{nonce}/validate", handler.HandleValidate).Methods("POST")
	router.HandleFunc("/authentication/nonce/{nonce}", handler.HandleUpdate).Methods("PATCH")

	// Create
	req := httptest.NewRequest(http.MethodPost, "/authentication/nonce", strings.NewReader(`{"application_id":1000000000000001}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	created := decodeBody(t, rec)["nonce"].(map[string]interface{})
	value := created["authentication_nonce"].(string)
	assert.Len(t, value, 64)
	assert.Equal(t, "generated", created["state"])

	// Validate in the generated state
	req = httptest.NewRequest(http.MethodPost, "/authentication/nonce/"+value+"/validate", strings.NewReader(`{"application_id":1000000000000001}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Transition to used
	req = httptest.NewRequest(http.MethodPatch, "/authentication/nonce/"+value, strings.NewReader(`{"state":"used","extra":{"type":"device"}}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody(t, rec)["nonce"].(map[string]interface{})
	assert.Equal(t, "used", updated["state"])
	assert.Equal(t, "device", updated["type"])

	// A second validation against the generated state fails
	req = httptest.NewRequest(http.MethodPost, "/authentication/nonce/"+value+"/validate", strings.NewReader(`{"application_id":1000000000000001}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, float64(97), decodeBody(t, rec)["code"])
}

func TestHandleGrantAccess_StrictConflict(t *testing.T) {
	mockRepo := new(mocks.MockRepository)
	logger := zap.NewNop()
	handler := handlers.NewApplicationHandler(registry.New(mockRepo, logger), grants.New(mockRepo, logger), logger)

	existing := &models.OAuthGrant{ApplicationID: appID, UserID: 7, AccessToken: "t", AccessSecret: "s"}
	mockRepo.On("GetApplicationByID", mock.Anything, appID).Return(testApplication(), nil)
	mockRepo.On("GetGrant", mock.Anything, appID, int64(7)).Return(existing, nil)

	req := httptest.NewRequest(http.MethodPost, "/applications/1000000000000001/access/7?already_granted_is_error=true", nil)
	rec := httptest.NewRecorder()

	router := mux.NewRouter()
	router.HandleFunc("/applications/{application_id}/access/{userid}", handler.HandleGrantAccess).Methods("POST")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, float64(66), decodeBody(t, rec)["code"])
}
