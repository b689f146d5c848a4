package cached_test

import (
	"testing"
	"time"

	"github.com/fieldserv/onboarding/pkg/mocks"
	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/persistence"
	"github.com/fieldserv/onboarding/pkg/persistence/cached"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func process(id string, version int64) *models.Process {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	return &models.Process{
		ID:        id,
		Name:      "Onboarding " + id,
		Version:   version,
		Steps:     []*models.Step{{ID: "a", Name: "A", State: models.StepStatePending}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPersistence_ProcessByID_CachesReads(t *testing.T) {
	backend := mocks.NewMockPersistence()
	backend.On("ProcessByID", mock.Anything, "p1").Return(process("p1", 1), nil).Once()

	p, err := cached.New(backend, 8)
	require.NoError(t, err)

	first, err := p.ProcessByID(t.Context(), "p1")
	require.NoError(t, err)

	first.Name = "mutated by caller"

	second, err := p.ProcessByID(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Onboarding p1", second.Name)
	assert.Equal(t, 1, p.Len())

	backend.AssertExpectations(t)
}

func TestPersistence_ProcessByID_DoesNotCacheMisses(t *testing.T) {
	backend := mocks.NewMockPersistence()
	notFound := persistence.NewProcessError("ProcessByID", "ghost", persistence.ErrProcessNotFound)
	backend.On("ProcessByID", mock.Anything, "ghost").Return(nil, notFound).Twice()

	p, err := cached.New(backend, 8)
	require.NoError(t, err)

	for range 2 {
		_, err = p.ProcessByID(t.Context(), "ghost")
		assert.True(t, persistence.IsProcessNotFound(err))
	}

	assert.Equal(t, 0, p.Len())
	backend.AssertExpectations(t)
}

func TestPersistence_SaveProcess_WritesThrough(t *testing.T) {
	backend := mocks.NewMockPersistence()
	saved := process("p1", 2)
	backend.On("SaveProcess", mock.Anything, saved).Return(nil).Once()

	p, err := cached.New(backend, 8)
	require.NoError(t, err)

	require.NoError(t, p.SaveProcess(t.Context(), saved))

	loaded, err := p.ProcessByID(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)

	backend.AssertNotCalled(t, "ProcessByID", mock.Anything, "p1")
	backend.AssertExpectations(t)
}

func TestPersistence_SaveProcess_ConflictEvicts(t *testing.T) {
	backend := mocks.NewMockPersistence()
	backend.On("ProcessByID", mock.Anything, "p1").Return(process("p1", 5), nil)

	stale := process("p1", 3)
	backend.On("SaveProcess", mock.Anything, stale).
		Return(persistence.NewProcessError("SaveProcess", "p1", persistence.ErrVersionConflict))

	p, err := cached.New(backend, 8)
	require.NoError(t, err)

	_, err = p.ProcessByID(t.Context(), "p1")
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())

	err = p.SaveProcess(t.Context(), stale)
	assert.True(t, persistence.IsVersionConflict(err))
	assert.Equal(t, 0, p.Len())
}

func TestPersistence_SaveProcess_OutOfOrderKeepsNewest(t *testing.T) {
	backend := mocks.NewMockPersistence()
	backend.On("SaveProcess", mock.Anything, mock.Anything).Return(nil).Twice()

	p, err := cached.New(backend, 8)
	require.NoError(t, err)

	// The backend accepted both writes; the older one finished last.
	require.NoError(t, p.SaveProcess(t.Context(), process("p1", 3)))
	require.NoError(t, p.SaveProcess(t.Context(), process("p1", 2)))

	loaded, err := p.ProcessByID(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Version)

	backend.AssertNotCalled(t, "ProcessByID", mock.Anything, "p1")
	backend.AssertExpectations(t)
}

func TestPersistence_DeleteAndClose(t *testing.T) {
	backend := mocks.NewMockPersistence()
	backend.On("SaveProcess", mock.Anything, mock.Anything).Return(nil)
	backend.On("DeleteProcess", mock.Anything, "p1").Return(nil)
	backend.On("HealthCheck", mock.Anything).Return(nil)
	backend.On("Close", mock.Anything).Return(nil)

	p, err := cached.New(backend, 0)
	require.NoError(t, err)

	require.NoError(t, p.SaveProcess(t.Context(), process("p1", 1)))
	require.NoError(t, p.SaveProcess(t.Context(), process("p2", 1)))
	require.NoError(t, p.DeleteProcess(t.Context(), "p1"))
	assert.Equal(t, 1, p.Len())

	require.NoError(t, p.HealthCheck(t.Context()))
	require.NoError(t, p.Close(t.Context()))
	assert.Equal(t, 0, p.Len())

	backend.AssertExpectations(t)
}
