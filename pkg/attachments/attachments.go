// Package attachments stores the files referenced by step attachments. The
// engine only keeps references; uploading and deleting files is the caller's job.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/fieldserv/onboarding/pkg/models"
)

var (
	// ErrInvalidFile indicates an upload without a name or content.
	ErrInvalidFile = errors.New("invalid attachment file")

	// ErrNotFound indicates the stored file no longer exists.
	ErrNotFound = errors.New("attachment file not found")
)

// File is an upload waiting to be stored.
type File struct {
	Name        string
	ContentType string
	Size        int64 // -1 when unknown
	Content     io.Reader
}

// Storage persists attachment files.
type Storage interface {
	Upload(ctx context.Context, processID, stepID string, file File) (models.Attachment, error)
	Delete(ctx context.Context, attachment models.Attachment) error
	HealthCheck(ctx context.Context) error
}

// ObjectKey builds the storage key for an attachment: process/step/id-name.
func ObjectKey(processID, stepID, attachmentID, name string) string {
	return path.Join(clean(processID), clean(stepID), attachmentID+"-"+clean(name))
}

// Validate checks the fields every backend requires.
func (f File) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFile)
	}

	if f.Content == nil {
		return fmt.Errorf("%w: content is required", ErrInvalidFile)
	}

	return nil
}

func clean(segment string) string {
	segment = path.Base(strings.ReplaceAll(strings.TrimSpace(segment), "\\", "/"))
	if segment == "." || segment == "/" || segment == ".." {
		return "_"
	}

	return segment
}
