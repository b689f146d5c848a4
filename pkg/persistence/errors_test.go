package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fieldserv/onboarding/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		notFound := persistence.NewProcessError("ProcessByID", "proc-123", persistence.ErrProcessNotFound)
		conflict := persistence.NewProcessError("SaveProcess", "proc-123", persistence.ErrVersionConflict)

		assert.True(t, persistence.IsProcessNotFound(notFound))
		assert.False(t, persistence.IsProcessNotFound(conflict))
		assert.True(t, persistence.IsVersionConflict(conflict))

		wrapped := fmt.Errorf("loading: %w", notFound)
		assert.True(t, errors.Is(wrapped, persistence.ErrProcessNotFound))
	})

	t.Run("process error contains context", func(t *testing.T) {
		err := persistence.NewProcessError("DeleteProcess", "proc-123", persistence.ErrProcessNotFound)

		assert.Contains(t, err.Error(), "DeleteProcess")
		assert.Contains(t, err.Error(), "proc-123")
		assert.Contains(t, err.Error(), "process not found")
	})
}
