package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"contact.broker/internal/crypto"
	"contact.broker/internal/models"
)

var _ Store = (*SealedStore)(nil)

// SealedStore encrypts the payload field at rest. The token and request id
// are bound as associated data.
type SealedStore struct {
	next   Store
	sealer *crypto.Sealer
}

func NewSealedStore(next Store, sealer *crypto.Sealer) *SealedStore {
	return &SealedStore{next: next, sealer: sealer}
}

func (s *SealedStore) SetWithTTL(ctx context.Context, key string, payload *models.RevealedPayload, ttl time.Duration) error {
	sealed, err := s.sealer.Seal([]byte(payload.EncryptedPayload), aad(key, payload.RequestID))
	if err != nil {
		return err
	}
	wrapped := *payload
	wrapped.EncryptedPayload = base64.StdEncoding.EncodeToString(sealed)
	return s.next.SetWithTTL(ctx, key, &wrapped, ttl)
}

func (s *SealedStore) TakeOnce(ctx context.Context, key string) (*models.RevealedPayload, error) {
	payload, err := s.next.TakeOnce(ctx, key)
	if err != nil {
		return nil, err
	}
	sealed, err := base64.StdEncoding.DecodeString(payload.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("decoding sealed payload: %w", err)
	}
	plain, err := s.sealer.Open(sealed, aad(key, payload.RequestID))
	if err != nil {
		return nil, err
	}
	payload.EncryptedPayload = string(plain)
	return payload, nil
}

func (s *SealedStore) Close() error {
	return s.next.Close()
}

func aad(token, requestID string) []byte {
	return []byte(token + "|" + requestID)
}
