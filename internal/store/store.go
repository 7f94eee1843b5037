// Package store persists code reviews.
package store

import (
	"context"
	"errors"

	"github.com/sprite-ai/revpad/internal/model"
)

var (
	ErrNotFound = errors.New("review not found")
	ErrExists   = errors.New("review already exists")
)

// Store keeps CodeReview snapshots. Implementations are safe for concurrent
// use.
type Store interface {
	// Save persists a review and returns its ID. A review without an ID is
	// given a new one; saving an ID that is already present fails with
	// ErrExists.
	Save(ctx context.Context, review model.CodeReview) (string, error)
	Load(ctx context.Context, id string) (model.CodeReview, error)
	// List returns every review in creation order.
	List(ctx context.Context) ([]model.CodeReview, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
