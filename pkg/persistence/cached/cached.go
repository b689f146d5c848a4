// Package cached decorates a persistence backend with an LRU read cache.
package cached

import (
	"context"
	"fmt"
	"sync"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/persistence"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the number of processes kept when no size is given.
const DefaultSize = 1024

// Persistence serves ProcessByID from the cache and writes through to the
// wrapped backend. Cached values are cloned on the way in and out.
type Persistence struct {
	next  persistence.Persistence
	cache *lru.Cache[string, *models.Process]
	mu    sync.Mutex // Serializes version checks against cache writes
}

var _ persistence.Persistence = (*Persistence)(nil)

// New wraps next with a cache of the given size.
func New(next persistence.Persistence, size int) (*Persistence, error) {
	if size <= 0 {
		size = DefaultSize
	}

	cache, err := lru.New[string, *models.Process](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create process cache: %w", err)
	}

	return &Persistence{next: next, cache: cache}, nil
}

// Processes always reads through; listing is not cached.
func (p *Persistence) Processes(ctx context.Context) ([]*models.Process, error) {
	return p.next.Processes(ctx)
}

func (p *Persistence) ProcessByID(ctx context.Context, id string) (*models.Process, error) {
	if process, ok := p.cache.Get(id); ok {
		return process.Clone(), nil
	}

	process, err := p.next.ProcessByID(ctx, id)
	if err != nil {
		return nil, err
	}

	p.keep(process)

	return process, nil
}

func (p *Persistence) SaveProcess(ctx context.Context, process *models.Process) error {
	err := p.next.SaveProcess(ctx, process)
	if err != nil {
		// The stored copy may be newer than ours.
		p.cache.Remove(processID(process))

		return err
	}

	p.keep(process)

	return nil
}

// keep caches process unless a newer version is already cached, so writes
// finishing out of order never roll the cache back.
func (p *Persistence) keep(process *models.Process) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.cache.Peek(process.ID); ok && cached.Version > process.Version {
		return
	}

	p.cache.Add(process.ID, process.Clone())
}

func (p *Persistence) DeleteProcess(ctx context.Context, id string) error {
	p.cache.Remove(id)

	return p.next.DeleteProcess(ctx, id)
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.next.HealthCheck(ctx)
}

func (p *Persistence) Close(ctx context.Context) error {
	p.cache.Purge()

	return p.next.Close(ctx)
}

// Len reports the number of cached processes.
func (p *Persistence) Len() int {
	return p.cache.Len()
}

func processID(process *models.Process) string {
	if process == nil {
		return ""
	}

	return process.ID
}
