package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/opencircle/insights-core/internal/vault"
)

// CredentialStore persists Credentials in Postgres and satisfies
// vault.Store, replacing vault.MemStore in production.
type CredentialStore struct {
	pool *Pool
}

// NewCredentialStore builds a CredentialStore over pool.
func NewCredentialStore(pool *Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

func (s *CredentialStore) ListActive(ctx context.Context, tenant, provider string) ([]vault.Credential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant, project, provider, encrypted_key, active, is_default, last_used_at, usage_count
		FROM credentials
		WHERE tenant = $1 AND provider = $2 AND active`, tenant, provider)
	if err != nil {
		return nil, fmt.Errorf("storage: listing active credentials: %w", err)
	}
	defer rows.Close()

	var out []vault.Credential
	for rows.Next() {
		var c vault.Credential
		var lastUsed *time.Time
		if err := rows.Scan(&c.ID, &c.Tenant, &c.Project, &c.Provider, &c.EncryptedKey,
			&c.Active, &c.Default, &lastUsed, &c.UsageCount); err != nil {
			return nil, fmt.Errorf("storage: scanning credential row: %w", err)
		}
		if lastUsed != nil {
			c.LastUsedAt = *lastUsed
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterating credential rows: %w", err)
	}
	return out, nil
}

func (s *CredentialStore) IncrementUsage(ctx context.Context, credentialID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE credentials SET usage_count = usage_count + 1, last_used_at = $2
		WHERE id = $1`, credentialID, at)
	if err != nil {
		return fmt.Errorf("storage: incrementing credential usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: unknown credential %s", credentialID)
	}
	return nil
}

// Insert persists a new credential, generating an ID if c.ID is empty.
// Used by the provisioning path (external collaborator), not by the
// pipeline or judge engines.
func (s *CredentialStore) Insert(ctx context.Context, c vault.Credential) (vault.Credential, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (id, tenant, project, provider, encrypted_key, active, is_default, usage_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)`,
		c.ID, c.Tenant, c.Project, c.Provider, c.EncryptedKey, c.Active, c.Default)
	if err != nil {
		return vault.Credential{}, fmt.Errorf("storage: inserting credential: %w", err)
	}
	return c, nil
}

// Get fetches a single credential by ID, returning pgx.ErrNoRows wrapped
// if absent.
func (s *CredentialStore) Get(ctx context.Context, id string) (vault.Credential, error) {
	var c vault.Credential
	var lastUsed *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant, project, provider, encrypted_key, active, is_default, last_used_at, usage_count
		FROM credentials WHERE id = $1`, id).
		Scan(&c.ID, &c.Tenant, &c.Project, &c.Provider, &c.EncryptedKey, &c.Active, &c.Default, &lastUsed, &c.UsageCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vault.Credential{}, fmt.Errorf("storage: credential %s not found: %w", id, err)
		}
		return vault.Credential{}, fmt.Errorf("storage: fetching credential %s: %w", id, err)
	}
	if lastUsed != nil {
		c.LastUsedAt = *lastUsed
	}
	return c, nil
}
