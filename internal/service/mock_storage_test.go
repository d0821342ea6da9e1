package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/yourusername/backtest-cache/internal/models"
)

// MockStorage mocks the record store
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Store(ctx context.Context, record *models.BacktestRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStorage) Get(ctx context.Context, masterHash string) (*models.BacktestRecord, bool, error) {
	args := m.Called(ctx, masterHash)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.BacktestRecord), args.Bool(1), args.Error(2)
}

func (m *MockStorage) Exists(ctx context.Context, masterHash string) (bool, error) {
	args := m.Called(ctx, masterHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) GetByDataHash(ctx context.Context, dataHash string) ([]*models.BacktestRecord, error) {
	args := m.Called(ctx, dataHash)
	return args.Get(0).([]*models.BacktestRecord), args.Error(1)
}

func (m *MockStorage) GetByConfigHash(ctx context.Context, configHash string) ([]*models.BacktestRecord, error) {
	args := m.Called(ctx, configHash)
	return args.Get(0).([]*models.BacktestRecord), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, masterHash string) (bool, error) {
	args := m.Called(ctx, masterHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) Cleanup(ctx context.Context, maxAgeDays int) (int, error) {
	args := m.Called(ctx, maxAgeDays)
	return args.Int(0), args.Error(1)
}

func (m *MockStorage) Stats(ctx context.Context) (models.CacheStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.CacheStats), args.Error(1)
}

func (m *MockStorage) ClearAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}
