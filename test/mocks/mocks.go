package mocks

import (
	"context"

	"appauth-service/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockRepository is a mock implementation of database.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepository) InsertApplication(ctx context.Context, app *models.Application) error {
	args := m.Called(ctx, app)
	return args.Error(0)
}

func (m *MockRepository) GetApplicationByID(ctx context.Context, applicationID int64) (*models.Application, error) {
	args := m.Called(ctx, applicationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Application), args.Error(1)
}

func (m *MockRepository) GetApplicationByKey(ctx context.Context, applicationID int64, key string) (*models.Application, error) {
	args := m.Called(ctx, applicationID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Application), args.Error(1)
}

func (m *MockRepository) GetApplicationByCredentials(ctx context.Context, applicationID int64, key, secret string) (*models.Application, error) {
	args := m.Called(ctx, applicationID, key, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Application), args.Error(1)
}

func (m *MockRepository) TitleInUse(ctx context.Context, title string) (bool, error) {
	args := m.Called(ctx, title)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) UpdateApplication(ctx context.Context, app *models.Application) error {
	args := m.Called(ctx, app)
	return args.Error(0)
}

func (m *MockRepository) UpdateApplicationKeys(ctx context.Context, applicationID int64, key, secret string) error {
	args := m.Called(ctx, applicationID, key, secret)
	return args.Error(0)
}

func (m *MockRepository) DeleteApplication(ctx context.Context, applicationID int64) error {
	args := m.Called(ctx, applicationID)
	return args.Error(0)
}

func (m *MockRepository) ListApplicationsByOwner(ctx context.Context, userID int64) ([]models.Application, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Application), args.Error(1)
}

func (m *MockRepository) IncrementRequestCount(ctx context.Context, applicationID int64) error {
	args := m.Called(ctx, applicationID)
	return args.Error(0)
}

func (m *MockRepository) IncrementAuthenticationCount(ctx context.Context, applicationID int64) error {
	args := m.Called(ctx, applicationID)
	return args.Error(0)
}

func (m *MockRepository) InsertGrant(ctx context.Context, grant *models.OAuthGrant) error {
	args := m.Called(ctx, grant)
	return args.Error(0)
}

func (m *MockRepository) GetGrant(ctx context.Context, applicationID, userID int64) (*models.OAuthGrant, error) {
	args := m.Called(ctx, applicationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OAuthGrant), args.Error(1)
}

func (m *MockRepository) GetGrantByTokens(ctx context.Context, applicationID int64, accessToken, accessSecret string) (*models.OAuthGrant, error) {
	args := m.Called(ctx, applicationID, accessToken, accessSecret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OAuthGrant), args.Error(1)
}

func (m *MockRepository) DeleteGrant(ctx context.Context, applicationID, userID int64) error {
	args := m.Called(ctx, applicationID, userID)
	return args.Error(0)
}

func (m *MockRepository) DeleteGrantsForApplication(ctx context.Context, applicationID int64) error {
	args := m.Called(ctx, applicationID)
	return args.Error(0)
}

func (m *MockRepository) GetUserByID(ctx context.Context, userID int64) (*models.PublicUserProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PublicUserProfile), args.Error(1)
}
