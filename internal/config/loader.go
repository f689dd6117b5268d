package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader builds a Config from layered sources. From lowest to highest priority:
//  1. defaults
//  2. base.{yaml,json} in the base path
//  3. {environment}.{yaml,json}
//  4. environment variables
type Loader struct {
	basePath    string
	environment Environment
	sources     []string
	fileLoaders map[string]FileLoader
}

// FileLoader decodes one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extension() string
}

// NewLoader creates a loader reading files from basePath.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	if env == "" {
		env = Development
	}

	loader := &Loader{
		basePath:    basePath,
		environment: env,
		fileLoaders: make(map[string]FileLoader),
	}
	loader.RegisterLoader(&YAMLLoader{})
	loader.RegisterLoader(&JSONLoader{})
	return loader
}

// RegisterLoader adds or replaces the loader for a file extension.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders[loader.Extension()] = loader
}

// BasePath returns the directory configuration files are read from.
func (l *Loader) BasePath() string {
	return l.basePath
}

// Load applies every source and validates the result.
func (l *Loader) Load() (*Config, error) {
	l.sources = []string{"defaults"}
	cfg := DefaultConfig(l.environment)

	if err := l.loadFile("base", cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := strings.ToLower(string(l.environment))
	if err := l.loadFile(envFile, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s config: %w", envFile, err)
	}

	if err := loadEnvironmentVariables(cfg); err != nil {
		return nil, err
	}
	l.sources = append(l.sources, "environment")
	cfg.LoadedFrom = l.sources

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes the first existing "<name>.<ext>" over cfg.
func (l *Loader) loadFile(name string, cfg *Config) error {
	exts := make([]string, 0, len(l.fileLoaders))
	for ext := range l.fileLoaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	for _, ext := range exts {
		path := filepath.Join(l.basePath, name+"."+ext)
		file, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}

		err = l.fileLoaders[ext].Load(file, cfg)
		file.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		l.sources = append(l.sources, path)
		return nil
	}
	return os.ErrNotExist
}

// DefaultConfig returns the settings used when no source overrides them.
func DefaultConfig(env Environment) *Config {
	batch := defaultPersistence()
	return &Config{
		Environment: env,
		Collection:  "documents",
		Persistence: batch,
		Store: Store{
			Driver: DriverMemory,
			DynamoDB: DynamoDB{
				Region:       "us-east-1",
				PartitionKey: "_id",
			},
			Pebble:    Pebble{Dir: "data/pebble"},
			Redis:     Redis{Addr: "localhost:6379"},
			JSONLines: JSONLines{Dir: "data"},
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Metrics: Metrics{
			Addr:      ":9090",
			Path:      "/metrics",
			Namespace: "docsink",
		},
		Breaker: Breaker{
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.8,
			MinRequests:      5,
		},
	}
}

func defaultPersistence() Persistence {
	return Persistence{
		BatchSize:   500,
		Multiple:    false,
		Upsert:      true,
		Update:      true,
		NRetry:      3,
		BackoffTime: time.Second,
		Ordered:     false,
		DrainOrder:  "fifo",
		QueryFields: []string{"_id"},
	}
}

// loadEnvironmentVariables overlays environment variables on cfg.
func loadEnvironmentVariables(cfg *Config) error {
	var err error
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" && err == nil {
			n, perr := strconv.Atoi(val)
			if perr != nil {
				err = fmt.Errorf("invalid %s: %w", key, perr)
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" && err == nil {
			b, perr := strconv.ParseBool(val)
			if perr != nil {
				err = fmt.Errorf("invalid %s: %w", key, perr)
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if val := os.Getenv(key); val != "" && err == nil {
			d, perr := parseDuration(val)
			if perr != nil {
				err = fmt.Errorf("invalid %s: %w", key, perr)
				return
			}
			*dst = d
		}
	}

	setString("DOCSINK_COLLECTION", &cfg.Collection)

	p := &cfg.Persistence
	setInt("DOCSINK_BATCH_SIZE", &p.BatchSize)
	setBool("DOCSINK_MULTIPLE", &p.Multiple)
	setBool("DOCSINK_UPSERT", &p.Upsert)
	setBool("DOCSINK_UPDATE", &p.Update)
	setInt("DOCSINK_N_RETRY", &p.NRetry)
	setDuration("DOCSINK_BACKOFF_TIME", &p.BackoffTime)
	setBool("DOCSINK_ORDERED", &p.Ordered)
	setString("DOCSINK_DRAIN_ORDER", &p.DrainOrder)
	setBool("DOCSINK_PRINT_NUM", &p.PrintNum)
	if val := os.Getenv("DOCSINK_QUERY_FIELDS"); val != "" {
		p.QueryFields = splitList(val)
	}

	s := &cfg.Store
	setString("DOCSINK_STORE_DRIVER", &s.Driver)
	setString("TABLE_NAME", &s.DynamoDB.TableName)
	setString("AWS_REGION", &s.DynamoDB.Region)
	setString("DYNAMODB_ENDPOINT", &s.DynamoDB.Endpoint)
	setString("DOCSINK_PARTITION_KEY", &s.DynamoDB.PartitionKey)
	setString("DOCSINK_SORT_KEY", &s.DynamoDB.SortKey)
	setString("DOCSINK_PEBBLE_DIR", &s.Pebble.Dir)
	setString("DOCSINK_REDIS_ADDR", &s.Redis.Addr)
	setString("DOCSINK_REDIS_PASSWORD", &s.Redis.Password)
	setInt("DOCSINK_REDIS_DB", &s.Redis.DB)
	setString("DOCSINK_JSONLINES_DIR", &s.JSONLines.Dir)
	setString("DOCSINK_JSONLINES_FILENAME", &s.JSONLines.Filename)
	setBool("DOCSINK_JSONLINES_COMPRESS", &s.JSONLines.Compress)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("DOCSINK_LOG_FORMAT", &cfg.Logging.Format)

	setBool("ENABLE_METRICS", &cfg.Metrics.Enabled)
	setString("DOCSINK_METRICS_ADDR", &cfg.Metrics.Addr)

	setBool("DOCSINK_BREAKER_ENABLED", &cfg.Breaker.Enabled)

	setString("DOCSINK_SOURCE", &cfg.Import.Source)
	setBool("DOCSINK_CLEAR_MODEL", &cfg.Import.ClearModel)

	return err
}

// parseDuration accepts Go durations ("250ms") and plain seconds ("1.5").
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a duration: %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEnvironment reads DOCSINK_ENV, defaulting to development.
func GetEnvironment() Environment {
	switch strings.ToLower(os.Getenv("DOCSINK_ENV")) {
	case string(Production):
		return Production
	case string(Staging):
		return Staging
	default:
		return Development
	}
}

// Load loads configuration from DOCSINK_CONFIG_DIR (default "config") for
// the environment named by DOCSINK_ENV.
func Load() (*Config, error) {
	dir := os.Getenv("DOCSINK_CONFIG_DIR")
	return NewLoader(dir, GetEnvironment()).Load()
}

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target interface{}) error {
	return yaml.NewDecoder(reader).Decode(target)
}

func (y *YAMLLoader) Extension() string {
	return "yaml"
}

// JSONLoader loads configuration from JSON files.
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target interface{}) error {
	return json.NewDecoder(reader).Decode(target)
}

func (j *JSONLoader) Extension() string {
	return "json"
}
