package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsink/internal/config"
	"docsink/internal/store/breaker"
	"docsink/internal/store/jsonlines"
	"docsink/internal/store/memory"
	"docsink/internal/store/pebblestore"
)

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.DefaultConfig(config.Development)

		adapter, closeFn, err := Build(ctx, cfg, nil)
		require.NoError(t, err)
		defer closeFn()

		assert.IsType(t, &memory.Store{}, adapter)
		assert.Equal(t, "documents", adapter.CollectionName())
	})

	t.Run("jsonlines", func(t *testing.T) {
		cfg := config.DefaultConfig(config.Development)
		cfg.Store.Driver = config.DriverJSONLines
		cfg.Store.JSONLines.Dir = t.TempDir()
		cfg.Collection = "events"

		adapter, closeFn, err := Build(ctx, cfg, nil)
		require.NoError(t, err)
		defer closeFn()

		s, ok := adapter.(*jsonlines.Store)
		require.True(t, ok)
		assert.Equal(t, filepath.Join(cfg.Store.JSONLines.Dir, "events.jl"), s.Path())
	})

	t.Run("pebble", func(t *testing.T) {
		cfg := config.DefaultConfig(config.Development)
		cfg.Store.Driver = config.DriverPebble
		cfg.Store.Pebble.Dir = filepath.Join(t.TempDir(), "db")

		adapter, closeFn, err := Build(ctx, cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &pebblestore.Store{}, adapter)
		assert.NoError(t, closeFn())
	})

	t.Run("breaker", func(t *testing.T) {
		cfg := config.DefaultConfig(config.Development)
		cfg.Breaker.Enabled = true

		adapter, _, err := Build(ctx, cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &breaker.Store{}, adapter)
		assert.Equal(t, "documents", adapter.CollectionName())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := config.DefaultConfig(config.Development)
		cfg.Store.Driver = "mongo"

		_, _, err := Build(ctx, cfg, nil)
		assert.ErrorContains(t, err, "unknown store driver")
	})
}
