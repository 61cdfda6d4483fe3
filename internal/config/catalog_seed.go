package config

import (
	"fmt"

	"github.com/opencircle/insights-core/internal/catalog"
)

// catalogEntryYAML is the on-disk shape of one Model Catalog row.
// Operators author Family/MaxTokensName indirectly by naming a known
// family; the concrete SupportedParams/FixedOverrides/MutuallyExclusive
// always come from catalog.ProfileByFamily, never from the file, so a
// typo'd override can't silently violate a provider's wire contract.
type catalogEntryYAML struct {
	ModelName    string   `mapstructure:"model_name"`
	ModelVersion string   `mapstructure:"model_version"`
	Provider     string   `mapstructure:"provider"`
	Family       string   `mapstructure:"family"`
	InputPrice   float64  `mapstructure:"input_price_per_million"`
	OutputPrice  float64  `mapstructure:"output_price_per_million"`
	Currency     string   `mapstructure:"currency"`
	ContextInput int      `mapstructure:"context_input"`
	ContextOutput int     `mapstructure:"context_output"`
	Capabilities []string `mapstructure:"capabilities"`
	Active       bool     `mapstructure:"active"`
	Deprecated   bool     `mapstructure:"deprecated"`
	Recommended  bool     `mapstructure:"recommended"`
}

func (y catalogEntryYAML) toEntry() (catalog.Entry, error) {
	profile, ok := catalog.ProfileByFamily(catalog.ProviderFamily(y.Family))
	if !ok {
		return catalog.Entry{}, fmt.Errorf("config: catalog entry %q names unknown parameter-profile family %q", y.ModelName, y.Family)
	}
	currency := y.Currency
	if currency == "" {
		currency = "USD"
	}
	return catalog.Entry{
		ModelName:    y.ModelName,
		ModelVersion: y.ModelVersion,
		Provider:     y.Provider,
		Pricing: catalog.Pricing{
			InputPerMillionTokens:  y.InputPrice,
			OutputPerMillionTokens: y.OutputPrice,
			Currency:               currency,
		},
		Context:      catalog.ContextWindow{Input: y.ContextInput, Output: y.ContextOutput},
		Capabilities: y.Capabilities,
		Active:       y.Active,
		Deprecated:   y.Deprecated,
		Recommended:  y.Recommended,
		Profile:      profile,
	}, nil
}

// decodeCatalog converts the raw YAML catalog list into the
// model-name-keyed map catalog.New and config.Config.Catalog expect.
func decodeCatalog(raw []catalogEntryYAML) (map[string]catalog.Entry, error) {
	out := make(map[string]catalog.Entry, len(raw))
	for _, y := range raw {
		entry, err := y.toEntry()
		if err != nil {
			return nil, err
		}
		if entry.ModelName == "" {
			return nil, fmt.Errorf("config: catalog entry missing model_name")
		}
		out[entry.ModelName] = entry
	}
	return out, nil
}
