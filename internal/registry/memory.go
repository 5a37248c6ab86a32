package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"contact.broker/internal/models"
)

var _ Registry = (*MemoryRegistry)(nil)

type MemoryRegistry struct {
	mu    sync.RWMutex
	byID  map[string]*models.ContactRequest
	byKey map[models.ResourceKey]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byID:  make(map[string]*models.ContactRequest),
		byKey: make(map[models.ResourceKey]string),
	}
}

func (r *MemoryRegistry) InsertIfAbsent(ctx context.Context, row *models.ContactRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[row.ResourceKey]; ok {
		existing := r.byID[id]
		if !replaceable(existing.Status) {
			return &ConflictError{ID: existing.ID, Current: existing.Status}
		}
		delete(r.byID, id)
	}

	stored := cloneRequest(row)
	stored.OneTimeToken = ""
	r.byID[stored.ID] = stored
	r.byKey[stored.ResourceKey] = stored.ID
	return nil
}

func (r *MemoryRegistry) CompareAndSwapStatus(ctx context.Context, id string, expected, next models.Status, fields Fields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if row.Status != expected {
		return &ConflictError{ID: id, Current: row.Status}
	}

	row.Status = next
	row.OneTimeToken = ""
	if next == models.StatusRevealed {
		row.OneTimeToken = fields.OneTimeToken
	}
	if fields.Channel != "" {
		row.Channel = fields.Channel
	}
	if fields.RevealedAt != nil {
		t := *fields.RevealedAt
		row.RevealedAt = &t
	}
	row.UpdatedAt = fields.UpdatedAt
	return nil
}

func (r *MemoryRegistry) FindByID(ctx context.Context, id string) (*models.ContactRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(row), nil
}

func (r *MemoryRegistry) FindByResourceKey(ctx context.Context, key models.ResourceKey) (*models.ContactRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(r.byID[id]), nil
}

func (r *MemoryRegistry) ListStale(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]models.ContactRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ContactRequest
	for _, row := range r.byID {
		if stale(row, now, grace) {
			out = append(out, *cloneRequest(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}

func cloneRequest(row *models.ContactRequest) *models.ContactRequest {
	c := *row
	if row.RevealedAt != nil {
		t := *row.RevealedAt
		c.RevealedAt = &t
	}
	return &c
}
