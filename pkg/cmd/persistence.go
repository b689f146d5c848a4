// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fieldserv/onboarding/pkg/persistence"
	"github.com/fieldserv/onboarding/pkg/persistence/cached"
	"github.com/fieldserv/onboarding/pkg/persistence/file"
	"github.com/fieldserv/onboarding/pkg/persistence/postgresql"
	"github.com/fieldserv/onboarding/pkg/persistence/redis"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewPersistence picks a backend from the URL scheme. "memory" or an empty URL
// returns nil: processes then live in memory only. Remote backends are wrapped
// in an LRU read cache when cacheSize is positive.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, cacheSize int) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	var (
		backend persistence.Persistence
		err     error
	)

	switch provider {
	case "memory":
		return nil, nil //nolint:nilnil // No persistence configured
	case "file":
		return file.NewPersistence(databaseURL), nil
	case "postgres", "postgresql":
		backend, err = postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis", "rediss":
		backend, err = redis.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("%w: persistence %q", ErrUnsupportedProvider, provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s persistence: %w", provider, err)
	}

	if cacheSize <= 0 {
		return backend, nil
	}

	cache, err := cached.New(backend, cacheSize)
	if err != nil {
		return nil, err
	}

	return cache, nil
}

func parsePersistenceProvider(databaseURL string) string {
	if databaseURL == "" || databaseURL == "memory" {
		return "memory"
	}

	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}
