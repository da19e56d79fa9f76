package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresProfileStore persists profiles as JSONB rows keyed by tenant.
type PostgresProfileStore struct {
	db *sql.DB
}

var _ ProfileStore = (*PostgresProfileStore)(nil)

// NewPostgresProfileStore creates a PostgreSQL-backed profile store.
func NewPostgresProfileStore(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

// Migrate creates the profile table. cmd/migrate applies the same schema
// through goose; this is for tests and single-binary deployments.
func (s *PostgresProfileStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fraud_profiles (
			tenant_id    VARCHAR(255) PRIMARY KEY,
			profile      JSONB NOT NULL,
			observations BIGINT NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (s *PostgresProfileStore) Get(ctx context.Context, tenantID string) (*Profile, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT profile FROM fraud_profiles WHERE tenant_id = $1`, tenantID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", tenantID, err)
	}
	p.TenantID = tenantID
	return &p, nil
}

func (s *PostgresProfileStore) Save(ctx context.Context, profile *Profile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fraud_profiles (tenant_id, profile, observations, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			profile      = EXCLUDED.profile,
			observations = EXCLUDED.observations,
			updated_at   = EXCLUDED.updated_at
	`, profile.TenantID, raw, profile.Observations)
	return err
}
