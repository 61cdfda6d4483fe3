package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencircle/insights-core/internal/catalog"
)

// CatalogStore persists catalog.Entry rows, backing the config
// hot-reload path (pkg/config's viper+fsnotify watcher, adapted in
// internal/config) with durable storage instead of process memory alone.
type CatalogStore struct {
	pool *Pool
}

// NewCatalogStore builds a CatalogStore over pool.
func NewCatalogStore(pool *Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

// LoadAll reads every catalog entry, for populating catalog.Catalog at
// startup.
func (s *CatalogStore) LoadAll(ctx context.Context) (map[string]catalog.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT model_name, model_version, provider, input_price, output_price, currency,
		       context_input, context_output, capabilities, active, deprecated, recommended, parameter_profile
		FROM catalog_entries`)
	if err != nil {
		return nil, fmt.Errorf("storage: loading catalog entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]catalog.Entry)
	for rows.Next() {
		var e catalog.Entry
		var profileJSON []byte
		if err := rows.Scan(&e.ModelName, &e.ModelVersion, &e.Provider,
			&e.Pricing.InputPerMillionTokens, &e.Pricing.OutputPerMillionTokens, &e.Pricing.Currency,
			&e.Context.Input, &e.Context.Output, &e.Capabilities,
			&e.Active, &e.Deprecated, &e.Recommended, &profileJSON); err != nil {
			return nil, fmt.Errorf("storage: scanning catalog row: %w", err)
		}
		if err := json.Unmarshal(profileJSON, &e.Profile); err != nil {
			return nil, fmt.Errorf("storage: decoding parameter profile for %s: %w", e.ModelName, err)
		}
		out[e.ModelName] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterating catalog rows: %w", err)
	}
	return out, nil
}

// Upsert persists a single catalog entry, used when config hot-reload
// picks up a changed model definition.
func (s *CatalogStore) Upsert(ctx context.Context, e catalog.Entry) error {
	profileJSON, err := json.Marshal(e.Profile)
	if err != nil {
		return fmt.Errorf("storage: encoding parameter profile for %s: %w", e.ModelName, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO catalog_entries
			(model_name, model_version, provider, input_price, output_price, currency,
			 context_input, context_output, capabilities, active, deprecated, recommended, parameter_profile)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (model_name) DO UPDATE SET
			model_version = EXCLUDED.model_version,
			provider = EXCLUDED.provider,
			input_price = EXCLUDED.input_price,
			output_price = EXCLUDED.output_price,
			currency = EXCLUDED.currency,
			context_input = EXCLUDED.context_input,
			context_output = EXCLUDED.context_output,
			capabilities = EXCLUDED.capabilities,
			active = EXCLUDED.active,
			deprecated = EXCLUDED.deprecated,
			recommended = EXCLUDED.recommended,
			parameter_profile = EXCLUDED.parameter_profile`,
		e.ModelName, e.ModelVersion, e.Provider, e.Pricing.InputPerMillionTokens, e.Pricing.OutputPerMillionTokens,
		e.Pricing.Currency, e.Context.Input, e.Context.Output, e.Capabilities, e.Active, e.Deprecated, e.Recommended,
		profileJSON)
	if err != nil {
		return fmt.Errorf("storage: upserting catalog entry %s: %w", e.ModelName, err)
	}
	return nil
}
