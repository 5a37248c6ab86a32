package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"contact.broker/internal/models"
)

//go:embed schema.sql
var schema string

var _ Registry = (*SQLRegistry)(nil)

// SQLRegistry stores requests in Postgres (driver "postgres") or SQLite
// (driver "sqlite"). Timestamps are unix milliseconds so both dialects share
// one schema.
type SQLRegistry struct {
	db *sqlx.DB
}

type dbRow struct {
	ID           string         `db:"id"`
	ResourceKey  string         `db:"resource_key"`
	Status       string         `db:"status"`
	Message      string         `db:"message"`
	OneTimeToken sql.NullString `db:"one_time_token"`
	Channel      sql.NullString `db:"channel"`
	CreatedAt    int64          `db:"created_at"`
	ExpiresAt    int64          `db:"expires_at"`
	RevealedAt   sql.NullInt64  `db:"revealed_at"`
	UpdatedAt    int64          `db:"updated_at"`
}

const selectColumns = `id, resource_key, status, message, one_time_token, channel,
	created_at, expires_at, revealed_at, updated_at`

func Open(ctx context.Context, driver, dsn string) (*SQLRegistry, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("registry dsn is required")
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s registry: %w", driver, err)
	}
	if driver == "sqlite" && strings.Contains(dsn, ":memory:") {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s registry: %w", driver, err)
	}
	r := &SQLRegistry{db: db}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply registry schema: %w", err)
	}
	return r, nil
}

func (r *SQLRegistry) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRegistry) InsertIfAbsent(ctx context.Context, row *models.ContactRequest) error {
	query := r.db.Rebind(`INSERT INTO contact_requests (
		   id, resource_key, status, message, one_time_token, channel,
		   created_at, expires_at, revealed_at, updated_at
		 ) VALUES (?, ?, ?, ?, NULL, NULL, ?, ?, NULL, ?)
		 ON CONFLICT (resource_key) DO UPDATE SET
		   id = excluded.id,
		   status = excluded.status,
		   message = excluded.message,
		   one_time_token = NULL,
		   channel = NULL,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at,
		   revealed_at = NULL,
		   updated_at = excluded.updated_at
		 WHERE contact_requests.status IN ('DECLINED', 'EXPIRED')`)

	res, err := r.db.ExecContext(ctx, query,
		row.ID,
		string(row.ResourceKey),
		string(row.Status),
		row.Message,
		toMillis(row.CreatedAt),
		toMillis(row.ExpiresAt),
		toMillis(row.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert contact request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert contact request: %w", err)
	}
	if n > 0 {
		return nil
	}

	existing, err := r.FindByResourceKey(ctx, row.ResourceKey)
	if err != nil {
		return fmt.Errorf("load blocking contact request: %w", err)
	}
	return &ConflictError{ID: existing.ID, Current: existing.Status}
}

func (r *SQLRegistry) CompareAndSwapStatus(ctx context.Context, id string, expected, next models.Status, fields Fields) error {
	var token sql.NullString
	if next == models.StatusRevealed {
		token = sql.NullString{String: fields.OneTimeToken, Valid: fields.OneTimeToken != ""}
	}
	channel := sql.NullString{String: string(fields.Channel), Valid: fields.Channel != ""}
	var revealedAt sql.NullInt64
	if fields.RevealedAt != nil {
		revealedAt = sql.NullInt64{Int64: toMillis(*fields.RevealedAt), Valid: true}
	}

	query := r.db.Rebind(`UPDATE contact_requests SET
		   status = ?,
		   one_time_token = ?,
		   channel = COALESCE(?, channel),
		   revealed_at = COALESCE(?, revealed_at),
		   updated_at = ?
		 WHERE id = ? AND status = ?`)

	res, err := r.db.ExecContext(ctx, query,
		string(next), token, channel, revealedAt, toMillis(fields.UpdatedAt),
		id, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update contact request status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update contact request status: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return &ConflictError{ID: id, Current: current.Status}
}

func (r *SQLRegistry) FindByID(ctx context.Context, id string) (*models.ContactRequest, error) {
	return r.findOne(ctx, `SELECT `+selectColumns+` FROM contact_requests WHERE id = ?`, id)
}

func (r *SQLRegistry) FindByResourceKey(ctx context.Context, key models.ResourceKey) (*models.ContactRequest, error) {
	return r.findOne(ctx, `SELECT `+selectColumns+` FROM contact_requests WHERE resource_key = ?`, string(key))
}

func (r *SQLRegistry) findOne(ctx context.Context, query string, arg any) (*models.ContactRequest, error) {
	var row dbRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contact request: %w", err)
	}
	return row.toModel(), nil
}

func (r *SQLRegistry) ListStale(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]models.ContactRequest, error) {
	if limit <= 0 {
		limit = 500
	}
	query := r.db.Rebind(`SELECT ` + selectColumns + ` FROM contact_requests
		 WHERE (status IN ('REQUESTED', 'REVEALED') AND expires_at < ?)
		    OR (status = 'REVEALED' AND revealed_at < ?)
		 ORDER BY expires_at
		 LIMIT ?`)

	var rows []dbRow
	if err := r.db.SelectContext(ctx, &rows, query,
		toMillis(now), toMillis(now.Add(-grace)), limit,
	); err != nil {
		return nil, fmt.Errorf("list stale contact requests: %w", err)
	}

	out := make([]models.ContactRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.toModel())
	}
	return out, nil
}

func (r *SQLRegistry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (row dbRow) toModel() *models.ContactRequest {
	m := &models.ContactRequest{
		ID:           row.ID,
		ResourceKey:  models.ResourceKey(row.ResourceKey),
		Status:       models.Status(row.Status),
		Message:      row.Message,
		OneTimeToken: row.OneTimeToken.String,
		Channel:      models.Channel(row.Channel.String),
		CreatedAt:    fromMillis(row.CreatedAt),
		ExpiresAt:    fromMillis(row.ExpiresAt),
		UpdatedAt:    fromMillis(row.UpdatedAt),
	}
	if row.RevealedAt.Valid {
		t := fromMillis(row.RevealedAt.Int64)
		m.RevealedAt = &t
	}
	return m
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
