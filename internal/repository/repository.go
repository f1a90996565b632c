// Package repository stores messages for the API server.
package repository

import (
	"context"
	"errors"

	"tsubuyaki/internal/model"
)

// ErrNotFound is returned for unknown and soft-deleted messages
var ErrNotFound = errors.New("message not found")

// Messages is the storage behind /api/messages.
// Deleted messages are kept with DeletedAt set and are invisible to every
// method.
type Messages interface {
	All(ctx context.Context) ([]model.Message, error)
	ByID(ctx context.Context, id int64) (model.Message, error)
	Insert(ctx context.Context, m model.Message) (model.Message, error)
	Update(ctx context.Context, m model.Message) (model.Message, error)
	Delete(ctx context.Context, id int64) error
	Close() error
}
