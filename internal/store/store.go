// Package store holds revealed payloads until their one-time token is
// consumed or their TTL elapses.
package store

import (
	"context"
	"errors"
	"time"

	"contact.broker/internal/models"
)

var (
	ErrNotFound = errors.New("token not found")
	// ErrKeyExists means a freshly minted token collided with a live one.
	ErrKeyExists = errors.New("token already exists")

	ErrInvalidTTL = errors.New("ttl must be positive")
)

// Store is the ephemeral secret store. TakeOnce must be a single atomic
// get-and-delete: under concurrent callers exactly one receives the payload.
type Store interface {
	SetWithTTL(ctx context.Context, key string, payload *models.RevealedPayload, ttl time.Duration) error
	TakeOnce(ctx context.Context, key string) (*models.RevealedPayload, error)
	Close() error
}
