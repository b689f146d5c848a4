// Package file stores each onboarding process as a JSON document on disk.
package file

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fieldserv/onboarding/pkg/persistence"
)

// Persistence keeps processes under <root>/processes/<id>.json.
type Persistence struct {
	root        string
	processRepo *ProcessRepository
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence accepts a plain path or a file:// URL. The directory must
// exist; the processes subdirectory is created on first save.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.TrimPrefix(root, "file://")

	return &Persistence{
		root:        cleanRoot,
		processRepo: NewProcessRepository(cleanRoot),
	}
}

func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck reports an error when the root is missing or is not a directory.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	info, err := os.Stat(fp.root)
	if err != nil {
		return fmt.Errorf("process directory unavailable: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("process directory %s is not a directory", fp.root)
	}

	return nil
}
