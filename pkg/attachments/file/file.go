// Package file stores attachment files in a local directory.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fieldserv/onboarding/pkg/attachments"
	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/google/uuid"
)

// Storage implements attachments.Storage on the file system.
type Storage struct {
	root string
	now  func() time.Time
}

var _ attachments.Storage = (*Storage)(nil)

// NewStorage creates a storage rooted at root. A file:// prefix is accepted.
func NewStorage(root string) *Storage {
	return &Storage{
		root: strings.Replace(root, "file://", "", 1),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Storage) Upload(_ context.Context, processID, stepID string, file attachments.File) (models.Attachment, error) {
	if err := file.Validate(); err != nil {
		return models.Attachment{}, err
	}

	id := uuid.NewString()
	key := attachments.ObjectKey(processID, stepID, id, file.Name)
	target := filepath.Join(s.root, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to create attachment file: %w", err)
	}

	size, err := io.Copy(out, file.Content)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(target)

		return models.Attachment{}, fmt.Errorf("failed to write attachment file: %w", err)
	}

	absolute, err := filepath.Abs(target)
	if err != nil {
		absolute = target
	}

	return models.Attachment{
		ID:          id,
		Name:        file.Name,
		URL:         "file://" + filepath.ToSlash(absolute),
		Key:         key,
		Size:        size,
		ContentType: file.ContentType,
		UploadedAt:  s.now(),
	}, nil
}

// Delete removes the stored file. A file that is already gone is not an error.
func (s *Storage) Delete(_ context.Context, attachment models.Attachment) error {
	if attachment.Key == "" {
		return fmt.Errorf("%w: attachment %s has no key", attachments.ErrNotFound, attachment.ID)
	}

	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(attachment.Key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete attachment %s: %w", attachment.ID, err)
	}

	return nil
}

// HealthCheck verifies the root directory exists, creating it if needed.
func (s *Storage) HealthCheck(_ context.Context) error {
	return os.MkdirAll(s.root, 0o750)
}
