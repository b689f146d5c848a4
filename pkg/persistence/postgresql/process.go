package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/persistence"
	"github.com/fieldserv/onboarding/pkg/workflow"
)

// ProcessRepository handles process-related database operations.
type ProcessRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewProcessRepository creates a new process repository.
func NewProcessRepository(db *sql.DB, logger *slog.Logger) *ProcessRepository {
	return &ProcessRepository{db: db, logger: logger}
}

// GetAll returns all processes ordered by creation time.
func (r *ProcessRepository) GetAll(ctx context.Context) ([]*models.Process, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT document FROM processes ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query processes: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	processes := make([]*models.Process, 0)

	for rows.Next() {
		process, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process: %w", err)
		}

		processes = append(processes, process)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating processes: %w", err)
	}

	return processes, nil
}

// GetByID returns a process or a not-found ProcessError.
func (r *ProcessRepository) GetByID(ctx context.Context, id string) (*models.Process, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM processes WHERE id = $1`, id)

	process, err := scanProcess(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewProcessError("ProcessByID", id, persistence.ErrProcessNotFound)
		}

		return nil, fmt.Errorf("failed to scan process: %w", err)
	}

	return process, nil
}

// Save upserts the process document. The conditional update rejects a write
// whose version is older than the stored one.
func (r *ProcessRepository) Save(ctx context.Context, process *models.Process) error {
	if process == nil || process.ID == "" {
		return persistence.NewProcessError("SaveProcess", "", persistence.ErrInvalidProcess)
	}

	document, err := json.Marshal(process)
	if err != nil {
		return fmt.Errorf("failed to marshal process %s: %w", process.ID, err)
	}

	status := workflow.AggregateStatus(process.Stopped, process.StepStates())

	query := `
		INSERT INTO processes (id, name, template_id, status, version, document, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , template_id = EXCLUDED.template_id
		  , status = EXCLUDED.status
		  , version = EXCLUDED.version
		  , document = EXCLUDED.document
		  , updated_at = EXCLUDED.updated_at
		WHERE processes.version <= EXCLUDED.version
	`

	result, err := r.db.ExecContext(ctx, query,
		process.ID,
		process.Name,
		process.TemplateID,
		string(status),
		process.Version,
		document,
		process.CreatedAt,
		process.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save process %s: %w", process.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for process %s: %w", process.ID, err)
	}

	if affected == 0 {
		return persistence.NewProcessError("SaveProcess", process.ID, persistence.ErrVersionConflict)
	}

	return nil
}

// Delete removes a process.
func (r *ProcessRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM processes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete process %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for process %s: %w", id, err)
	}

	if affected == 0 {
		return persistence.NewProcessError("DeleteProcess", id, persistence.ErrProcessNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProcess(row scanner) (*models.Process, error) {
	var document []byte

	err := row.Scan(&document)
	if err != nil {
		return nil, err
	}

	var process models.Process

	err = json.Unmarshal(document, &process)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal process document: %w", err)
	}

	return &process, nil
}
