package mocks

import (
	"context"

	"github.com/fieldserv/onboarding/pkg/attachments"
	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockStorage is a mock implementation of attachments.Storage interface.
type MockStorage struct {
	mock.Mock
}

var _ attachments.Storage = (*MockStorage)(nil)

func (m *MockStorage) Upload(ctx context.Context, processID, stepID string, file attachments.File) (models.Attachment, error) {
	args := m.Called(ctx, processID, stepID, file)

	return args.Get(0).(models.Attachment), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, attachment models.Attachment) error {
	args := m.Called(ctx, attachment)

	return args.Error(0)
}

func (m *MockStorage) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
