// Package store persists cloned voice entries across restarts. Built-in
// voices are seeded in code and never stored.
package store

import (
	"context"
	"time"
)

// Record is the persisted shape of a cloned voice entry. The registry owns
// the richer domain type; stores only round-trip these fields.
type Record struct {
	Name        string    `json:"name"`
	SpeakerRef  string    `json:"speaker_ref"`
	Language    string    `json:"language,omitempty"`
	Description string    `json:"description,omitempty"`
	SamplePath  string    `json:"sample_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the narrow persistence contract for cloned voices.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, name string) error
	Load(ctx context.Context) ([]Record, error)
	Close(ctx context.Context) error
}
