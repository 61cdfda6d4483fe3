// Package vault implements the Credential Vault (C2): encrypted
// per-(tenant, provider, project) API key resolution with a fixed
// default-resolution order, never logging decrypted key material.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencircle/insights-core/internal/coreerrors"
)

// Credential is a stored, encrypted API key scoped to a tenant and
// provider, optionally narrowed to a project (spec §3 "Credential").
type Credential struct {
	ID            string
	Tenant        string
	Project       string // empty string means tenant-scoped, not project-scoped
	Provider      string
	EncryptedKey  string
	Active        bool
	Default       bool
	LastUsedAt    time.Time
	UsageCount    int64
}

// Handle is an opaque reference returned alongside a resolved key,
// passed back to MarkUsed so usage accounting never needs the raw key
// material again.
type Handle struct {
	CredentialID string
	Tenant       string
	Provider     string
	Project      string
}

// Store is the persistence seam the Vault is built against. The
// production implementation lives in internal/storage; tests use an
// in-memory Store.
type Store interface {
	ListActive(ctx context.Context, tenant, provider string) ([]Credential, error)
	IncrementUsage(ctx context.Context, credentialID string, at time.Time) error
}

// Vault resolves credentials and tracks their usage. Safe for
// concurrent use; when MemStore is used, its writes are serialized by a
// single RWMutex over all credentials, mirroring the teacher's
// RWMutex-guarded registries.
type Vault struct {
	store     Store
	encryptor *encryptor
}

// New builds a Vault backed by store, encrypting/decrypting with a key
// derived from masterKey (the credential_encryption_key setting).
func New(store Store, masterKey string) *Vault {
	return &Vault{store: store, encryptor: newEncryptor(masterKey)}
}

// Resolve implements the resolution order from spec §4.2: project-scoped
// active default, then tenant-scoped active default, then most
// recently used active credential. Returns NoCredential if none match.
func (v *Vault) Resolve(ctx context.Context, tenant, provider, project string) (key string, handle Handle, err error) {
	candidates, err := v.store.ListActive(ctx, tenant, provider)
	if err != nil {
		return "", Handle{}, fmt.Errorf("vault: listing active credentials: %w", err)
	}

	chosen, ok := selectCredential(candidates, project)
	if !ok {
		return "", Handle{}, coreerrors.New(coreerrors.KindNoCredential,
			fmt.Sprintf("no active credential for tenant=%s provider=%s project=%s", tenant, provider, project))
	}

	plaintext, err := v.encryptor.decrypt(chosen.EncryptedKey)
	if err != nil {
		return "", Handle{}, fmt.Errorf("vault: decrypting credential %s: %w", chosen.ID, err)
	}
	defer zero(plaintext)

	key = string(plaintext)
	handle = Handle{CredentialID: chosen.ID, Tenant: tenant, Provider: provider, Project: project}
	return key, handle, nil
}

// selectCredential applies the spec §4.2 precedence order over an
// already-filtered (tenant, provider) active candidate set.
func selectCredential(candidates []Credential, project string) (Credential, bool) {
	if project != "" {
		for _, c := range candidates {
			if c.Project == project && c.Default {
				return c, true
			}
		}
	}
	for _, c := range candidates {
		if c.Project == "" && c.Default {
			return c, true
		}
	}

	var mostRecent Credential
	found := false
	for _, c := range candidates {
		if !found || c.LastUsedAt.After(mostRecent.LastUsedAt) {
			mostRecent = c
			found = true
		}
	}
	return mostRecent, found
}

// MarkUsed records that handle's credential was used. Failures here
// must never fail the enclosing LLM call per spec §4.2, so MarkUsed
// only logs — it does not return an error to the caller.
func (v *Vault) MarkUsed(ctx context.Context, handle Handle) {
	if err := v.store.IncrementUsage(ctx, handle.CredentialID, time.Now()); err != nil {
		slog.Warn("vault: failed to record credential usage",
			"credential_id", handle.CredentialID, "tenant", handle.Tenant, "provider", handle.Provider, "error", err)
	}
}

// Encrypt prepares a plaintext API key for storage. Exposed for the
// credential-provisioning path (external collaborator) that writes new
// Credential rows.
func (v *Vault) Encrypt(plaintextKey string) (string, error) {
	return v.encryptor.encrypt([]byte(plaintextKey))
}

// MemStore is a concurrency-safe in-memory Store, used by tests and as
// a fallback when no persistent backend is configured.
type MemStore struct {
	mu          sync.RWMutex
	credentials map[string]Credential
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{credentials: make(map[string]Credential)}
}

// Put inserts or replaces a credential, assigning an ID if absent.
func (m *MemStore) Put(c Credential) Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	m.credentials[c.ID] = c
	return c
}

func (m *MemStore) ListActive(_ context.Context, tenant, provider string) ([]Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Credential
	for _, c := range m.credentials {
		if c.Tenant == tenant && c.Provider == provider && c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemStore) IncrementUsage(_ context.Context, credentialID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[credentialID]
	if !ok {
		return fmt.Errorf("vault: unknown credential %s", credentialID)
	}
	c.UsageCount++
	c.LastUsedAt = at
	m.credentials[credentialID] = c
	return nil
}
