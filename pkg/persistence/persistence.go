// Package persistence provides the storage abstraction for onboarding process state.
package persistence

import (
	"context"

	"github.com/fieldserv/onboarding/pkg/models"
)

// Persistence loads and saves process state. The engine never calls it from
// inside a transition; the service decides when state is written.
type Persistence interface {
	Processes(ctx context.Context) ([]*models.Process, error)
	ProcessByID(ctx context.Context, id string) (*models.Process, error)
	SaveProcess(ctx context.Context, process *models.Process) error
	DeleteProcess(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
