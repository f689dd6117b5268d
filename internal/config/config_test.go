package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	errs "docsink/internal/errors"
	"docsink/internal/persistence"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader(t.TempDir(), "").Load()
	require.NoError(t, err)

	assert.Equal(t, Development, cfg.Environment)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 500, cfg.Persistence.BatchSize)
	assert.Equal(t, 3, cfg.Persistence.NRetry)
	assert.Equal(t, time.Second, cfg.Persistence.BackoffTime)
	assert.True(t, cfg.Persistence.Update)
	assert.True(t, cfg.Persistence.Upsert)
	assert.Equal(t, []string{"defaults", "environment"}, cfg.LoadedFrom)
}

func TestLoader_Layering(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
collection: articles
persistence:
  batch_size: 100
  backoff_time: 250ms
  query_fields: [title]
store:
  driver: jsonlines
  jsonlines:
    compress: true
`)
	writeFile(t, dir, "production.yaml", `
persistence:
  batch_size: 1000
logging:
  level: warn
`)
	t.Setenv("DOCSINK_N_RETRY", "7")
	t.Setenv("LOG_LEVEL", "error")

	// Act
	cfg, err := NewLoader(dir, Production).Load()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "articles", cfg.Collection)
	assert.Equal(t, 1000, cfg.Persistence.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Persistence.BackoffTime)
	assert.Equal(t, 7, cfg.Persistence.NRetry)
	assert.Equal(t, []string{"title"}, cfg.Persistence.QueryFields)
	assert.Equal(t, DriverJSONLines, cfg.Store.Driver)
	assert.True(t, cfg.Store.JSONLines.Compress)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, []string{
		"defaults",
		filepath.Join(dir, "base.yaml"),
		filepath.Join(dir, "production.yaml"),
		"environment",
	}, cfg.LoadedFrom)
}

func TestLoader_JSONFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.json", `{"collection": "events", "persistence": {"update": false, "n_retry": 0}}`)

	cfg, err := NewLoader(dir, Development).Load()
	require.NoError(t, err)
	assert.Equal(t, "events", cfg.Collection)
	assert.False(t, cfg.Persistence.Update)
	assert.Equal(t, 0, cfg.Persistence.NRetry)
}

func TestLoader_EnvironmentVariables(t *testing.T) {
	t.Setenv("DOCSINK_STORE_DRIVER", "dynamodb")
	t.Setenv("TABLE_NAME", "docs-table")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("DOCSINK_QUERY_FIELDS", "title, year")
	t.Setenv("DOCSINK_BACKOFF_TIME", "0.5")
	t.Setenv("DOCSINK_DRAIN_ORDER", "lifo")

	cfg, err := NewLoader(t.TempDir(), Development).Load()
	require.NoError(t, err)

	assert.Equal(t, "docs-table", cfg.Store.DynamoDB.TableName)
	assert.Equal(t, "eu-west-1", cfg.Store.DynamoDB.Region)
	assert.Equal(t, []string{"title", "year"}, cfg.Persistence.QueryFields)
	assert.Equal(t, 500*time.Millisecond, cfg.Persistence.BackoffTime)

	batch, err := cfg.Persistence.BatchConfig()
	require.NoError(t, err)
	assert.Equal(t, persistence.DrainLIFO, batch.DrainOrder)
}

func TestLoader_InvalidEnvironmentValue(t *testing.T) {
	t.Setenv("DOCSINK_BATCH_SIZE", "lots")

	_, err := NewLoader(t.TempDir(), Development).Load()
	assert.ErrorContains(t, err, "DOCSINK_BATCH_SIZE")
}

func TestLoader_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "persistence: [not, a, map]")

	_, err := NewLoader(dir, Development).Load()
	assert.ErrorContains(t, err, "failed to load base config")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:   "negative retries",
			mutate: func(c *Config) { c.Persistence.NRetry = -1 },
			errMsg: "Persistence.NRetry must be at least 0",
		},
		{
			name:   "unknown driver",
			mutate: func(c *Config) { c.Store.Driver = "mongo" },
			errMsg: "Store.Driver must be one of",
		},
		{
			name:   "unknown drain order",
			mutate: func(c *Config) { c.Persistence.DrainOrder = "random" },
			errMsg: "Persistence.DrainOrder must be one of",
		},
		{
			name:   "update mode needs query fields",
			mutate: func(c *Config) { c.Persistence.QueryFields = nil },
			errMsg: "query_fields is required",
		},
		{
			name: "insert mode needs no query fields",
			mutate: func(c *Config) {
				c.Persistence.Update = false
				c.Persistence.QueryFields = nil
			},
		},
		{
			name:   "dynamodb needs a table",
			mutate: func(c *Config) { c.Store.Driver = DriverDynamoDB },
			errMsg: "table_name is required",
		},
		{
			name: "breaker threshold above one",
			mutate: func(c *Config) {
				c.Breaker.FailureThreshold = 1.5
			},
			errMsg: "Breaker.FailureThreshold must be at most 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(Development)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "logging:\n  level: info\n")
	loader := NewLoader(dir, Development)
	initial, err := loader.Load()
	require.NoError(t, err)

	w, err := NewWatcher(loader, initial, zap.NewNop(), 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	changed := make(chan *Config, 1)
	w.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	// Act
	writeFile(t, dir, "base.yaml", "logging:\n  level: debug\n")

	// Assert
	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", w.Config().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}

func TestWatcher_KeepsConfigWhenReloadIsInvalid(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir, Development)
	initial, err := loader.Load()
	require.NoError(t, err)

	w, err := NewWatcher(loader, initial, zap.NewNop(), 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	called := make(chan struct{}, 1)
	w.OnChange(func(*Config) { called <- struct{}{} })

	writeFile(t, dir, "base.yaml", "logging:\n  level: loud\n")

	select {
	case <-called:
		t.Fatal("callback invoked for an invalid configuration")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Same(t, initial, w.Config())
}
