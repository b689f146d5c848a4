package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/persistence"
)

// ProcessRepository stores one JSON document per process under <root>/processes.
type ProcessRepository struct {
	root string
	mu   sync.Mutex // Serializes read-check-write cycles
}

// NewProcessRepository creates a new process repository.
func NewProcessRepository(root string) *ProcessRepository {
	return &ProcessRepository{root: root}
}

func (pr *ProcessRepository) dir() string {
	return filepath.Join(pr.root, "processes")
}

// filePath refuses ids that would resolve outside the processes directory.
func (pr *ProcessRepository) filePath(op, id string) (string, error) {
	name := id + ".json"
	if id == "" || filepath.Base(name) != name || !filepath.IsLocal(name) {
		return "", persistence.NewProcessError(op, id, persistence.ErrInvalidProcess)
	}

	full := filepath.Clean(filepath.Join(pr.dir(), name))
	if filepath.Dir(full) != filepath.Clean(pr.dir()) {
		return "", persistence.NewProcessError(op, id, persistence.ErrInvalidProcess)
	}

	return full, nil
}

// GetAll returns every stored process ordered by creation time.
func (pr *ProcessRepository) GetAll(ctx context.Context) ([]*models.Process, error) {
	jsonFiles, err := fs.Glob(os.DirFS(pr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list process files: %w", err)
	}

	processes := make([]*models.Process, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		processID := file[:len(file)-5] // Remove .json extension

		process, err := pr.GetByID(ctx, processID)
		if err != nil {
			if persistence.IsProcessNotFound(err) {
				continue // Deleted while listing
			}

			return nil, err
		}

		processes = append(processes, process)
	}

	sort.SliceStable(processes, func(i, j int) bool {
		return processes[i].CreatedAt.Before(processes[j].CreatedAt)
	})

	return processes, nil
}

// GetByID retrieves a process by its ID from the file system.
func (pr *ProcessRepository) GetByID(_ context.Context, processID string) (*models.Process, error) {
	file, err := pr.filePath("ProcessByID", processID)
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewProcessError("ProcessByID", processID, persistence.ErrProcessNotFound)
		}

		return nil, fmt.Errorf("failed to fetch process %s: %w", processID, err)
	}

	var process models.Process

	err = json.Unmarshal(body, &process)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal process %s: %w", processID, err)
	}

	return &process, nil
}

// Save writes a process, refusing to overwrite a newer stored version.
func (pr *ProcessRepository) Save(ctx context.Context, process *models.Process) error {
	if process == nil || process.ID == "" {
		return persistence.NewProcessError("SaveProcess", "", persistence.ErrInvalidProcess)
	}

	file, err := pr.filePath("SaveProcess", process.ID)
	if err != nil {
		return err
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	stored, err := pr.GetByID(ctx, process.ID)

	switch {
	case err == nil && stored.Version > process.Version:
		return persistence.NewProcessError("SaveProcess", process.ID, persistence.ErrVersionConflict)
	case err != nil && !persistence.IsProcessNotFound(err):
		return err
	}

	err = os.MkdirAll(pr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create processes directory: %w", err)
	}

	data, err := json.MarshalIndent(process, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal process %s: %w", process.ID, err)
	}

	// Write to a temp file first so readers never see a torn document.
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write process %s: %w", process.ID, err)
	}

	return os.Rename(tmp, file)
}

// Delete removes a process by its ID.
func (pr *ProcessRepository) Delete(_ context.Context, id string) error {
	file, err := pr.filePath("DeleteProcess", id)
	if err != nil {
		return err
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	err = os.Remove(file)
	if err != nil && os.IsNotExist(err) {
		return persistence.NewProcessError("DeleteProcess", id, persistence.ErrProcessNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to delete process %s: %w", id, err)
	}

	return nil
}

// Processes retrieves all processes from the file system.
func (fp *Persistence) Processes(ctx context.Context) ([]*models.Process, error) {
	return fp.processRepo.GetAll(ctx)
}

// ProcessByID retrieves a process by its ID.
func (fp *Persistence) ProcessByID(ctx context.Context, id string) (*models.Process, error) {
	return fp.processRepo.GetByID(ctx, id)
}

// SaveProcess saves a process to the file system.
func (fp *Persistence) SaveProcess(ctx context.Context, process *models.Process) error {
	return fp.processRepo.Save(ctx, process)
}

// DeleteProcess removes a process by its ID.
func (fp *Persistence) DeleteProcess(ctx context.Context, id string) error {
	return fp.processRepo.Delete(ctx, id)
}
