package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contact.broker/config"
	"contact.broker/internal/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Registry.Driver = "memory"
	return cfg
}

func TestRunReturnsStartupErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Sweeper.Schedule = "not a schedule"

	err := run(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestInitStoreSealsWhenKeyIsSet(t *testing.T) {
	cfg := testConfig()

	st, err := initStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)
	require.NoError(t, st.Close())

	cfg.Store.SealKey = "seal-secret"
	st, err = initStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.SealedStore{}, st)
	require.NoError(t, st.Close())
}

func TestInitPublisherDefaultsToNop(t *testing.T) {
	pub, err := initPublisher(testConfig())
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}
