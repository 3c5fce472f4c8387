// Package repository holds the in-memory request map and its durable journal.
package repository

import (
	"context"

	"github.com/okian/trackpick/internal/domain/model"
)

// Store persists request snapshots keyed by id.
type Store interface {
	// Save inserts or replaces the snapshot of r.
	Save(ctx context.Context, r model.TrackRequest) error
	// SaveBatch saves many snapshots in one transaction.
	SaveBatch(ctx context.Context, rs []model.TrackRequest) error
	// Delete removes a snapshot. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// Load returns one snapshot or ErrNotFound.
	Load(ctx context.Context, id string) (model.TrackRequest, error)
	// LoadAll returns every snapshot ordered by creation time.
	LoadAll(ctx context.Context) ([]model.TrackRequest, error)
	Close() error
}
