// Package postgresql provides PostgreSQL persistence for onboarding processes.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/persistence"
	"github.com/fieldserv/onboarding/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db          *sql.DB
	logger      *slog.Logger
	processRepo *ProcessRepository
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence creates a new PostgreSQL persistence layer and migrates the schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		processRepo: NewProcessRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Processes returns all processes from the database.
func (p *Persistence) Processes(ctx context.Context) ([]*models.Process, error) {
	return p.processRepo.GetAll(ctx)
}

// ProcessByID returns a process by its ID.
func (p *Persistence) ProcessByID(ctx context.Context, id string) (*models.Process, error) {
	return p.processRepo.GetByID(ctx, id)
}

// SaveProcess upserts a process unless a newer version is already stored.
func (p *Persistence) SaveProcess(ctx context.Context, process *models.Process) error {
	return p.processRepo.Save(ctx, process)
}

// DeleteProcess removes a process.
func (p *Persistence) DeleteProcess(ctx context.Context, id string) error {
	return p.processRepo.Delete(ctx, id)
}
