// Package redis provides Redis persistence for onboarding processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "onboarding"
	maxSaveRetry  = 3
)

// Persistence stores each process as a JSON string under <prefix>:process:<id>
// and keeps the ids in a sorted set scored by creation time.
type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger
	prefix string
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence connects to the Redis server named by a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, logger *slog.Logger) *Persistence {
	return &Persistence{client: client, logger: logger, prefix: defaultPrefix}
}

func (p *Persistence) processKey(id string) string {
	return p.prefix + ":process:" + id
}

func (p *Persistence) indexKey() string {
	return p.prefix + ":processes"
}

// Processes returns every indexed process ordered by creation time.
func (p *Persistence) Processes(ctx context.Context) ([]*models.Process, error) {
	ids, err := p.client.ZRange(ctx, p.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	processes := make([]*models.Process, 0, len(ids))

	for _, id := range ids {
		process, err := p.ProcessByID(ctx, id)
		if err != nil {
			if persistence.IsProcessNotFound(err) {
				continue
			}

			return nil, err
		}

		processes = append(processes, process)
	}

	return processes, nil
}

// ProcessByID loads one process.
func (p *Persistence) ProcessByID(ctx context.Context, id string) (*models.Process, error) {
	body, err := p.client.Get(ctx, p.processKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewProcessError("ProcessByID", id, persistence.ErrProcessNotFound)
		}

		return nil, fmt.Errorf("failed to fetch process %s: %w", id, err)
	}

	return decode(id, body)
}

// SaveProcess writes the process inside a WATCH transaction so a concurrent
// writer holding a newer version wins.
func (p *Persistence) SaveProcess(ctx context.Context, process *models.Process) error {
	if process == nil || process.ID == "" {
		return persistence.NewProcessError("SaveProcess", "", persistence.ErrInvalidProcess)
	}

	data, err := json.Marshal(process)
	if err != nil {
		return fmt.Errorf("failed to marshal process %s: %w", process.ID, err)
	}

	key := p.processKey(process.ID)

	txf := func(tx *redis.Tx) error {
		body, err := tx.Get(ctx, key).Bytes()

		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to fetch process %s: %w", process.ID, err)
		default:
			stored, err := decode(process.ID, body)
			if err != nil {
				return err
			}

			if stored.Version > process.Version {
				return persistence.NewProcessError("SaveProcess", process.ID, persistence.ErrVersionConflict)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, p.indexKey(), redis.Z{
				Score:  float64(process.CreatedAt.UnixMilli()),
				Member: process.ID,
			})

			return nil
		})

		return err
	}

	for range maxSaveRetry {
		err = p.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}

		p.logger.DebugContext(ctx, "Process save raced, retrying", "process_id", process.ID)
	}

	return persistence.NewProcessError("SaveProcess", process.ID, persistence.ErrVersionConflict)
}

// DeleteProcess removes the process and its index entry.
func (p *Persistence) DeleteProcess(ctx context.Context, id string) error {
	var deleted *redis.IntCmd

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, p.processKey(id))
		pipe.ZRem(ctx, p.indexKey(), id)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete process %s: %w", id, err)
	}

	if deleted.Val() == 0 {
		return persistence.NewProcessError("DeleteProcess", id, persistence.ErrProcessNotFound)
	}

	return nil
}

// HealthCheck pings the server.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Close closes the client.
func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func decode(id string, body []byte) (*models.Process, error) {
	var process models.Process

	err := json.Unmarshal(body, &process)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal process %s: %w", id, err)
	}

	return &process, nil
}
