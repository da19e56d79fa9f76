package predictions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/mbd888/vigil/internal/events"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed predictions store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the predictions table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS predictions (
			id          VARCHAR(64) PRIMARY KEY,
			event_type  VARCHAR(64) NOT NULL,
			tenant_id   VARCHAR(255) NOT NULL,
			subject     VARCHAR(255),
			score       DOUBLE PRECISION NOT NULL DEFAULT 0,
			payload     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_predictions_tenant_created ON predictions(tenant_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_predictions_type ON predictions(event_type);
	`)
	return err
}

// Create stores a record. Re-delivered records are ignored.
func (p *PostgresStore) Create(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO predictions (id, event_type, tenant_id, subject, score, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, string(rec.EventType), rec.TenantID, rec.Subject, rec.Score, payload, rec.CreatedAt)
	return err
}

// Get retrieves a record by ID
func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, event_type, tenant_id, subject, score, payload, created_at
		FROM predictions WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// List returns matching records, newest first
func (p *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	query := `
		SELECT id, event_type, tenant_id, subject, score, payload, created_at
		FROM predictions WHERE 1=1
	`
	var args []interface{}
	argN := 1

	if filter.TenantID != "" {
		query += " AND tenant_id = $" + strconv.Itoa(argN)
		args = append(args, filter.TenantID)
		argN++
	}
	if filter.EventType != "" {
		query += " AND event_type = $" + strconv.Itoa(argN)
		args = append(args, string(filter.EventType))
		argN++
	}
	if filter.Before != nil {
		query += " AND (created_at, id) < ($" + strconv.Itoa(argN) + ", $" + strconv.Itoa(argN+1) + ")"
		args = append(args, filter.Before.CreatedAt, filter.Before.ID)
		argN += 2
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(argN)
	args = append(args, filter.limit())

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec       Record
		eventType string
		subject   sql.NullString
		payload   []byte
	)
	if err := s.Scan(&rec.ID, &eventType, &rec.TenantID, &subject, &rec.Score, &payload, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.EventType = events.EventType(eventType)
	rec.Subject = subject.String
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}
