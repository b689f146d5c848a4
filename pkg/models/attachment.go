package models

import "time"

// Attachment references a file held by the attachment storage collaborator.
// The engine only keeps the reference.
type Attachment struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Key         string    `json:"key,omitempty"` // Storage-specific object key
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
