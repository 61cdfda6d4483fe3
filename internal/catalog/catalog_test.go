package catalog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencircle/insights-core/internal/coreerrors"
)

func cheapEntry() Entry {
	return Entry{
		ModelName:    "m-cheap",
		ModelVersion: "m-cheap-2026-01-01",
		Provider:     "acme",
		Active:       true,
		Pricing:      Pricing{InputPerMillionTokens: 1, OutputPerMillionTokens: 2, Currency: "USD"},
		Context:      ContextWindow{Input: 128000, Output: 8000},
		Profile: ParameterProfile{
			Family:        FamilyP1LegacyChat,
			MaxTokensName: "max_tokens",
			SupportedParams: map[SupportedParam]bool{
				ParamTemperature: true,
				ParamTopP:        true,
				ParamMaxTokens:   true,
			},
		},
	}
}

func TestCatalog_Lookup(t *testing.T) {
	t.Run("returns entry for active model", func(t *testing.T) {
		c := New(map[string]Entry{"m-cheap": cheapEntry()})
		e, err := c.Lookup("m-cheap")
		require.NoError(t, err)
		assert.Equal(t, "acme", e.Provider)
	})

	t.Run("unknown model is UnknownModel", func(t *testing.T) {
		c := New(nil)
		_, err := c.Lookup("does-not-exist")
		assert.True(t, coreerrors.IsKind(err, coreerrors.KindUnknownModel))
	})

	t.Run("inactive model is UnknownModel", func(t *testing.T) {
		inactive := cheapEntry()
		inactive.Active = false
		c := New(map[string]Entry{"m-cheap": inactive})
		_, err := c.Lookup("m-cheap")
		assert.True(t, coreerrors.IsKind(err, coreerrors.KindUnknownModel))
	})

	t.Run("deprecated and not recommended is blocked", func(t *testing.T) {
		deprecated := cheapEntry()
		deprecated.Deprecated = true
		deprecated.Recommended = false
		c := New(map[string]Entry{"m-cheap": deprecated})
		_, err := c.Lookup("m-cheap")
		assert.True(t, coreerrors.IsKind(err, coreerrors.KindUnknownModel))
	})

	t.Run("deprecated but recommended is allowed", func(t *testing.T) {
		deprecated := cheapEntry()
		deprecated.Deprecated = true
		deprecated.Recommended = true
		c := New(map[string]Entry{"m-cheap": deprecated})
		_, err := c.Lookup("m-cheap")
		require.NoError(t, err)
	})
}

func TestCatalog_All_ReturnsDefensiveCopy(t *testing.T) {
	c := New(map[string]Entry{"m-cheap": cheapEntry()})
	snapshot := c.All()
	snapshot["m-cheap"] = Entry{ModelName: "mutated"}

	e, err := c.Lookup("m-cheap")
	require.NoError(t, err)
	assert.Equal(t, "acme", e.Provider, "mutating the snapshot must not affect the live catalog")
}

func TestCatalog_ConcurrentReadsAndUpserts(t *testing.T) {
	c := New(map[string]Entry{"m-cheap": cheapEntry()})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.Lookup("m-cheap")
		}()
		go func() {
			defer wg.Done()
			c.Upsert(cheapEntry())
		}()
	}
	wg.Wait()
}

func TestCost(t *testing.T) {
	t.Run("matches scenario S1 per-stage cost", func(t *testing.T) {
		pricing := Pricing{InputPerMillionTokens: 1, OutputPerMillionTokens: 2}
		got := Cost(pricing, 100, 50)
		assert.InDelta(t, 0.0002, got, 1e-9)
	})
}
