package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"contact.broker/internal/models"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore requires Redis 6.2+ for GETDEL.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client without pinging it.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) SetWithTTL(ctx context.Context, key string, payload *models.RevealedPayload, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	data, err := encode(payload)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, tokenKey(key), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}

func (r *RedisStore) TakeOnce(ctx context.Context, key string) (*models.RevealedPayload, error) {
	data, err := r.client.GetDel(ctx, tokenKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(data)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

func tokenKey(token string) string {
	return "contact:token:" + token
}

func encode(payload *models.RevealedPayload) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*models.RevealedPayload, error) {
	var payload models.RevealedPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
