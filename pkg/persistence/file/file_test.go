package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProcess(id string, created time.Time) *models.Process {
	return &models.Process{
		ID:      id,
		Name:    "Technician onboarding",
		Version: 1,
		Steps: []*models.Step{
			{ID: "contract", Name: "Sign contract", State: models.StepStatePending, DependsOn: []string{}, Attachments: []models.Attachment{}},
			{ID: "training", Name: "Safety training", State: models.StepStateBlocked, DependsOn: []string{"contract"}, Attachments: []models.Attachment{}},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("/tmp/test")
	fp := p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)

	p = NewPersistence("file:///tmp/test")
	fp = p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_Close(t *testing.T) {
	p := NewPersistence("./test-data")
	assert.NoError(t, p.Close(t.Context()))
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()))
}

func TestPersistence_SaveAndLoad(t *testing.T) {
	testDir := t.TempDir()
	p := NewPersistence(testDir)

	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	process := sampleProcess("proc-1", created)

	require.NoError(t, p.SaveProcess(t.Context(), process))
	assert.FileExists(t, filepath.Join(testDir, "processes", "proc-1.json"))
	assert.NoFileExists(t, filepath.Join(testDir, "processes", "proc-1.json.tmp"))

	loaded, err := p.ProcessByID(t.Context(), "proc-1")
	require.NoError(t, err)
	assert.Equal(t, process, loaded)
}

func TestPersistence_ProcessByID_NotFound(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.ProcessByID(t.Context(), "ghost")
	require.Error(t, err)
	assert.True(t, persistence.IsProcessNotFound(err))
}

func TestPersistence_SaveProcess_VersionConflict(t *testing.T) {
	p := NewPersistence(t.TempDir())
	process := sampleProcess("proc-1", time.Now().UTC())
	process.Version = 5

	require.NoError(t, p.SaveProcess(t.Context(), process))

	stale := process.Clone()
	stale.Version = 4

	err := p.SaveProcess(t.Context(), stale)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	// Same version is an idempotent rewrite.
	require.NoError(t, p.SaveProcess(t.Context(), process))
}

func TestPersistence_SaveProcess_Invalid(t *testing.T) {
	p := NewPersistence(t.TempDir())

	require.ErrorIs(t, p.SaveProcess(t.Context(), nil), persistence.ErrInvalidProcess)
	require.ErrorIs(t, p.SaveProcess(t.Context(), &models.Process{}), persistence.ErrInvalidProcess)
}

func TestPersistence_Processes(t *testing.T) {
	p := NewPersistence(t.TempDir())

	processes, err := p.Processes(t.Context())
	require.NoError(t, err)
	assert.Empty(t, processes)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, p.SaveProcess(t.Context(), sampleProcess("later", base.Add(time.Hour))))
	require.NoError(t, p.SaveProcess(t.Context(), sampleProcess("earlier", base)))

	processes, err = p.Processes(t.Context())
	require.NoError(t, err)
	require.Len(t, processes, 2)
	assert.Equal(t, "earlier", processes[0].ID)
	assert.Equal(t, "later", processes[1].ID)
}

func TestPersistence_DeleteProcess(t *testing.T) {
	testDir := t.TempDir()
	p := NewPersistence(testDir)

	require.NoError(t, p.SaveProcess(t.Context(), sampleProcess("proc-1", time.Now().UTC())))
	require.NoError(t, p.DeleteProcess(t.Context(), "proc-1"))

	_, err := os.Stat(filepath.Join(testDir, "processes", "proc-1.json"))
	assert.True(t, os.IsNotExist(err))

	err = p.DeleteProcess(t.Context(), "proc-1")
	assert.True(t, persistence.IsProcessNotFound(err))
}

func TestPersistence_RejectsIDsOutsideProcessDir(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "root")
	require.NoError(t, os.Mkdir(root, 0750))

	outside := filepath.Join(tmp, "escaped.json")
	require.NoError(t, os.WriteFile(outside, []byte(`{"id":"escaped"}`), 0600))

	p := NewPersistence(root)

	tests := []struct {
		name string
		id   string
	}{
		{name: "parent", id: "../escaped"},
		{name: "grandparent", id: "../../escaped"},
		{name: "nested", id: "sub/escaped"},
		{name: "absolute", id: "/tmp/escaped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.SaveProcess(t.Context(), sampleProcess(tt.id, time.Now().UTC()))
			require.ErrorIs(t, err, persistence.ErrInvalidProcess)

			_, err = p.ProcessByID(t.Context(), tt.id)
			require.ErrorIs(t, err, persistence.ErrInvalidProcess)

			err = p.DeleteProcess(t.Context(), tt.id)
			require.ErrorIs(t, err, persistence.ErrInvalidProcess)
		})
	}

	assert.FileExists(t, outside)
	assert.NoFileExists(t, filepath.Join(root, "escaped.json"))
	assert.NoDirExists(t, filepath.Join(root, "processes"))
}
