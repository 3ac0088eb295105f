package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vin-resolver/internal/config"
	"github.com/sells-group/vin-resolver/internal/resilience"
)

// testConfig mirrors the loaded defaults.
func testConfig() *config.Config {
	return &config.Config{
		Decoder: config.DecoderConfig{
			Provider:   config.DecoderNHTSA,
			BaseURL:    "https://vpic.nhtsa.dot.gov/api",
			TimeoutMS:  6000,
			RatePerSec: 5,
			RateBurst:  5,
		},
		Enrichment: config.EnrichmentConfig{Provider: "openai", TimeoutMS: 6000, MaxTokens: 300},
		Cache:      config.CacheConfig{TTLHours: 24, Capacity: 100, Coalesce: true},
		Store:      config.StoreConfig{Driver: config.StoreNone},
		Circuit:    config.CircuitConfig{FailureThreshold: 5, ResetTimeoutSecs: 30},
		Server:     config.ServerConfig{Port: 3000},
	}
}

func TestResolverEnv_Close_Nil(t *testing.T) {
	re := &resolverEnv{}
	assert.NotPanics(t, func() { re.Close() })
}

func TestInitResolver_Defaults(t *testing.T) {
	cfg = testConfig()

	env, err := initResolver(context.Background(), "decode")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Resolver)
	assert.Nil(t, env.Store)
	assert.False(t, env.Resolver.EnrichmentEnabled())
	assert.Equal(t, []string{resilience.BreakerDecoder}, env.Breakers.Names())
}

func TestInitResolver_WithEnrichmentAndStore(t *testing.T) {
	cfg = testConfig()
	cfg.Enrichment.Enabled = true
	cfg.Enrichment.APIKey = "sk-test"
	cfg.Store = config.StoreConfig{Driver: config.StoreSQLite, DatabaseURL: filepath.Join(t.TempDir(), "env.db")}

	env, err := initResolver(context.Background(), "serve")
	require.NoError(t, err)
	defer env.Close()

	assert.True(t, env.Resolver.EnrichmentEnabled())
	assert.NotNil(t, env.Store)
	assert.Equal(t, []string{resilience.BreakerAssistant, resilience.BreakerDecoder}, env.Breakers.Names())
}

func TestInitResolver_InvalidConfig(t *testing.T) {
	cfg = testConfig()
	cfg.Decoder.Provider = config.DecoderCustom

	env, err := initResolver(context.Background(), "decode")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder.url is required")
}

func TestInitResolver_BadStoreDriver(t *testing.T) {
	cfg = testConfig()
	cfg.Store = config.StoreConfig{Driver: "postgres"}

	env, err := initResolver(context.Background(), "decode")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required for postgres")
}

func TestNewDecoder(t *testing.T) {
	dec, err := newDecoder(config.DecoderConfig{Provider: config.DecoderNHTSA})
	require.NoError(t, err)
	assert.Equal(t, "*vpic.httpClient", fmt.Sprintf("%T", dec))

	dec, err = newDecoder(config.DecoderConfig{Provider: config.DecoderCustom, URL: "https://decoder.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "*vinapi.httpClient", fmt.Sprintf("%T", dec))

	_, err = newDecoder(config.DecoderConfig{Provider: "carfax"})
	assert.Error(t, err)
}

func TestInitGate_Disabled(t *testing.T) {
	cfg = testConfig()
	reg := resilience.NewRegistry()

	gate, err := initGate(context.Background(), cfg.Enrichment, reg)
	require.NoError(t, err)
	assert.False(t, gate.Enabled())
	assert.Empty(t, reg.Names())
}

func TestInitGate_UnknownProvider(t *testing.T) {
	cfg = testConfig()

	_, err := initGate(context.Background(), config.EnrichmentConfig{Enabled: true, Provider: "cohere", APIKey: "k"}, resilience.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init assistant")
}

func TestInitStore_None(t *testing.T) {
	cfg = testConfig()

	st, err := initStore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)
}
