// Package broker runs the contact request lifecycle:
//
//	REQUESTED -> REVEALED -> CONSUMED
//	REQUESTED|REVEALED -> DECLINED|EXPIRED
//
// The broker keeps no state of its own. Transitions are compare-and-swap
// writes against the registry and the payload is handed over through a single
// atomic take from the secret store.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"contact.broker/internal/crypto"
	"contact.broker/internal/events"
	"contact.broker/internal/metrics"
	"contact.broker/internal/models"
	"contact.broker/internal/registry"
	"contact.broker/internal/store"
)

const (
	DefaultRequestTTL      = 14 * 24 * time.Hour
	DefaultTokenTTL        = time.Hour
	DefaultMaxMessageLen   = 1000
	DefaultMaxPayloadBytes = 16 << 10
)

type Config struct {
	RequestTTL       time.Duration
	TokenTTL         time.Duration
	MaxMessageLength int
	MaxPayloadBytes  int
}

func (c Config) withDefaults() Config {
	if c.RequestTTL <= 0 {
		c.RequestTTL = DefaultRequestTTL
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = DefaultMaxMessageLen
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return c
}

type Broker struct {
	registry registry.Registry
	secrets  store.Store
	events   events.Publisher
	metrics  *metrics.Metrics
	log      zerolog.Logger
	cfg      Config
	now      func() time.Time
	newToken func() (string, error)
}

type Option func(*Broker)

func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Broker) { b.log = l.With().Str("component", "broker").Logger() }
}

func WithPublisher(p events.Publisher) Option {
	return func(b *Broker) { b.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

func WithTokenGenerator(gen func() (string, error)) Option {
	return func(b *Broker) { b.newToken = gen }
}

func New(reg registry.Registry, secrets store.Store, cfg Config, opts ...Option) *Broker {
	b := &Broker{
		registry: reg,
		secrets:  secrets,
		events:   events.NopPublisher{},
		log:      zerolog.Nop(),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		newToken: crypto.GenerateToken,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) Config() Config {
	return b.cfg
}

// CreateRequest opens a request for key. Eligibility and authorization are
// checked by the caller.
func (b *Broker) CreateRequest(ctx context.Context, key models.ResourceKey, message string) (req *models.ContactRequest, err error) {
	const op = "create_request"
	defer func() { b.observe(op, err) }()

	if key == "" {
		return nil, invalid(op, "resource key is required")
	}
	if utf8.RuneCountInString(message) > b.cfg.MaxMessageLength {
		return nil, invalid(op, fmt.Sprintf("message exceeds %d characters", b.cfg.MaxMessageLength))
	}

	now := b.now().UTC()
	row := &models.ContactRequest{
		ID:          uuid.NewString(),
		ResourceKey: key,
		Status:      models.StatusRequested,
		Message:     message,
		CreatedAt:   now,
		ExpiresAt:   now.Add(b.cfg.RequestTTL),
		UpdatedAt:   now,
	}

	if err := b.registry.InsertIfAbsent(ctx, row); err != nil {
		var ce *registry.ConflictError
		if errors.As(err, &ce) {
			if ce.Current == models.StatusRequested {
				return nil, conflict(op, "request already pending", err)
			}
			return nil, conflict(op, "already disclosed", err)
		}
		return nil, fmt.Errorf("broker: %s: %w", op, err)
	}

	b.log.Debug().Str("request_id", row.ID).Str("resource_key", string(key)).Msg("contact request created")
	b.publish(ctx, row, "")
	return row, nil
}

// Reveal stores the payload under a fresh one-time token and flips the
// request to REVEALED. The secret is written before the status flip so a
// crash in between leaves an unreachable secret that simply expires. The
// returned time is when the token stops being consumable.
func (b *Broker) Reveal(ctx context.Context, id string, channel models.Channel, payload string) (token string, expiresAt time.Time, err error) {
	const op = "reveal"
	defer func() { b.observe(op, err) }()

	ch, perr := models.ParseChannel(string(channel))
	if perr != nil {
		return "", time.Time{}, invalid(op, perr.Error())
	}
	if payload == "" {
		return "", time.Time{}, invalid(op, "encrypted payload is required")
	}
	if len(payload) > b.cfg.MaxPayloadBytes {
		return "", time.Time{}, invalid(op, fmt.Sprintf("payload exceeds %d bytes", b.cfg.MaxPayloadBytes))
	}

	row, err := b.load(ctx, op, id)
	if err != nil {
		return "", time.Time{}, err
	}
	if row.Status != models.StatusRequested {
		return "", time.Time{}, conflict(op, fmt.Sprintf("request is %s", row.Status), nil)
	}
	now := b.now().UTC()
	if !now.Before(row.ExpiresAt) {
		return "", time.Time{}, expired(op, "request validity has elapsed")
	}

	token, err = b.newToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("broker: %s: %w", op, err)
	}
	secret := &models.RevealedPayload{
		RequestID:        row.ID,
		Channel:          ch,
		EncryptedPayload: payload,
		CreatedAt:        now,
	}
	if err := b.secrets.SetWithTTL(ctx, token, secret, b.cfg.TokenTTL); err != nil {
		if errors.Is(err, store.ErrKeyExists) {
			b.log.Error().Str("request_id", row.ID).Msg("one-time token collision, check token generator")
		}
		return "", time.Time{}, fmt.Errorf("broker: %s: store payload: %w", op, err)
	}

	err = b.registry.CompareAndSwapStatus(ctx, row.ID, models.StatusRequested, models.StatusRevealed, registry.Fields{
		OneTimeToken: token,
		Channel:      ch,
		RevealedAt:   &now,
		UpdatedAt:    now,
	})
	if err != nil {
		b.discard(ctx, token)
		return "", time.Time{}, b.transitionError(op, err)
	}

	row.Status = models.StatusRevealed
	row.Channel = ch
	b.log.Debug().Str("request_id", row.ID).Str("channel", string(ch)).Msg("contact revealed")
	b.publish(ctx, row, ch)
	return token, now.Add(b.cfg.TokenTTL), nil
}

// Consume hands the payload to exactly one caller. A failed status swap after
// a successful take is reported as a conflict; the payload is gone either way.
func (b *Broker) Consume(ctx context.Context, token string) (payload *models.RevealedPayload, err error) {
	const op = "consume"
	defer func() { b.observe(op, err) }()

	if token == "" {
		return nil, notFound(op, "token not found")
	}

	payload, err = b.secrets.TakeOnce(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound(op, "token not found")
		}
		return nil, fmt.Errorf("broker: %s: %w", op, err)
	}

	now := b.now().UTC()
	err = b.registry.CompareAndSwapStatus(ctx, payload.RequestID, models.StatusRevealed, models.StatusConsumed, registry.Fields{
		UpdatedAt: now,
	})
	if err != nil {
		return nil, b.transitionError(op, err)
	}

	b.log.Debug().Str("request_id", payload.RequestID).Msg("contact consumed")
	if row, ferr := b.registry.FindByID(ctx, payload.RequestID); ferr == nil {
		b.publish(ctx, row, payload.Channel)
	}
	return payload, nil
}

// UpdateStatus applies an explicit transition. Only DECLINED is accepted;
// every other state is reached through Reveal, Consume or the sweeper.
func (b *Broker) UpdateStatus(ctx context.Context, id string, status models.Status) (err error) {
	const op = "update_status"
	defer func() { b.observe(op, err) }()

	if status != models.StatusDeclined {
		return invalid(op, fmt.Sprintf("status %q cannot be set directly", status))
	}

	row, err := b.load(ctx, op, id)
	if err != nil {
		return err
	}
	if !row.Status.CanTransition(status) {
		return conflict(op, fmt.Sprintf("request is %s", row.Status), nil)
	}

	err = b.registry.CompareAndSwapStatus(ctx, row.ID, row.Status, status, registry.Fields{
		UpdatedAt: b.now().UTC(),
	})
	if err != nil {
		return b.transitionError(op, err)
	}
	if row.OneTimeToken != "" {
		b.discard(ctx, row.OneTimeToken)
	}

	b.log.Debug().Str("request_id", row.ID).Str("from", string(row.Status)).Msg("contact request declined")
	row.Status = status
	b.publish(ctx, row, "")
	return nil
}

// GetStatus is a plain registry read. It never touches the secret store.
func (b *Broker) GetStatus(ctx context.Context, id string) (*models.ContactRequest, error) {
	return b.load(ctx, "get_status", id)
}

func (b *Broker) load(ctx context.Context, op, id string) (*models.ContactRequest, error) {
	if id == "" {
		return nil, notFound(op, "request not found")
	}
	row, err := b.registry.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, notFound(op, "request not found")
		}
		return nil, fmt.Errorf("broker: %s: %w", op, err)
	}
	return row, nil
}

func (b *Broker) transitionError(op string, err error) error {
	var ce *registry.ConflictError
	switch {
	case errors.As(err, &ce):
		return conflict(op, fmt.Sprintf("request is %s", ce.Current), err)
	case errors.Is(err, registry.ErrNotFound):
		return notFound(op, "request not found")
	default:
		return fmt.Errorf("broker: %s: %w", op, err)
	}
}

// discard drops a secret that can no longer be delivered. It must run even
// when the caller has gone away.
func (b *Broker) discard(ctx context.Context, token string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := b.secrets.TakeOnce(ctx, token); err != nil && !errors.Is(err, store.ErrNotFound) {
		b.log.Warn().Err(err).Msg("failed to discard undeliverable payload")
	}
}

func (b *Broker) publish(ctx context.Context, row *models.ContactRequest, ch models.Channel) {
	e := events.Event{
		RequestID:   row.ID,
		ResourceKey: row.ResourceKey,
		Status:      row.Status,
		Channel:     ch,
		OccurredAt:  b.now().UTC(),
	}
	if err := b.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		b.log.Warn().Err(err).Str("request_id", row.ID).Str("status", string(row.Status)).Msg("failed to publish lifecycle event")
	}
}

func (b *Broker) observe(op string, err error) {
	result := Result(err)
	b.metrics.Observe(op, result)
	if result == "error" {
		b.log.Error().Err(err).Str("op", op).Msg("broker operation failed")
	}
}
