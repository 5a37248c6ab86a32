// Package registry is the durable record of contact requests. Every status
// change goes through CompareAndSwapStatus.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contact.broker/internal/models"
)

var (
	ErrNotFound = errors.New("contact request not found")
	ErrConflict = errors.New("contact request conflict")
)

// ConflictError reports the stored state that blocked a write.
type ConflictError struct {
	ID      string
	Current models.Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("contact request %s is %s", e.ID, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Fields are written alongside a status swap. OneTimeToken is stored only
// when the new status is REVEALED and cleared otherwise.
type Fields struct {
	OneTimeToken string
	Channel      models.Channel
	RevealedAt   *time.Time
	UpdatedAt    time.Time
}

type Registry interface {
	// InsertIfAbsent stores row unless a REQUESTED, REVEALED or CONSUMED row
	// exists for the same resource key. DECLINED and EXPIRED rows are replaced.
	InsertIfAbsent(ctx context.Context, row *models.ContactRequest) error
	CompareAndSwapStatus(ctx context.Context, id string, expected, next models.Status, fields Fields) error
	FindByID(ctx context.Context, id string) (*models.ContactRequest, error)
	FindByResourceKey(ctx context.Context, key models.ResourceKey) (*models.ContactRequest, error)
	// ListStale returns live rows past expiresAt and REVEALED rows whose
	// revealedAt is older than grace.
	ListStale(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]models.ContactRequest, error)
	Close() error
}

func replaceable(s models.Status) bool {
	return s == models.StatusDeclined || s == models.StatusExpired
}

func stale(row *models.ContactRequest, now time.Time, grace time.Duration) bool {
	switch row.Status {
	case models.StatusRequested:
		return now.After(row.ExpiresAt)
	case models.StatusRevealed:
		if now.After(row.ExpiresAt) {
			return true
		}
		return row.RevealedAt != nil && now.After(row.RevealedAt.Add(grace))
	}
	return false
}
