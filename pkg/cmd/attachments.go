package cmd

import (
	"fmt"
	"strings"

	"github.com/fieldserv/onboarding/pkg/attachments"
	"github.com/fieldserv/onboarding/pkg/attachments/file"
	"github.com/fieldserv/onboarding/pkg/attachments/minio"
)

// NewAttachmentStorage picks the attachment backend from the URL scheme. An
// empty URL disables uploads.
func NewAttachmentStorage(storageURL string) (attachments.Storage, error) {
	if storageURL == "" {
		return nil, nil //nolint:nilnil // Uploads disabled
	}

	scheme, _, found := strings.Cut(storageURL, "://")
	if !found {
		scheme = "file"
	}

	switch scheme {
	case "file":
		return file.NewStorage(storageURL), nil
	case "s3", "minio":
		cfg, err := minio.ParseURL(storageURL)
		if err != nil {
			return nil, err
		}

		storage, err := minio.NewStorage(cfg)
		if err != nil {
			return nil, err
		}

		return storage, nil
	default:
		return nil, fmt.Errorf("%w: attachment storage %q", ErrUnsupportedProvider, scheme)
	}
}
