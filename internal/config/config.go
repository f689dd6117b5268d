// Package config loads and validates the settings of the docsink command.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	errs "docsink/internal/errors"
	"docsink/internal/persistence"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Store drivers.
const (
	DriverMemory    = "memory"
	DriverDynamoDB  = "dynamodb"
	DriverPebble    = "pebble"
	DriverRedis     = "redis"
	DriverJSONLines = "jsonlines"
)

// Config is the complete configuration.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment" validate:"required,oneof=development staging production"`
	Collection  string      `yaml:"collection" json:"collection" validate:"required"`

	Persistence Persistence `yaml:"persistence" json:"persistence"`
	Store       Store       `yaml:"store" json:"store"`
	Logging     Logging     `yaml:"logging" json:"logging"`
	Metrics     Metrics     `yaml:"metrics" json:"metrics"`
	Breaker     Breaker     `yaml:"breaker" json:"breaker"`
	Import      Import      `yaml:"import" json:"import"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-" json:"-"`
}

// Persistence holds batching and retry settings.
type Persistence struct {
	BatchSize   int           `yaml:"batch_size" json:"batch_size"`
	Multiple    bool          `yaml:"multiple" json:"multiple"`
	Upsert      bool          `yaml:"upsert" json:"upsert"`
	Update      bool          `yaml:"update" json:"update"`
	NRetry      int           `yaml:"n_retry" json:"n_retry" validate:"gte=0"`
	BackoffTime time.Duration `yaml:"backoff_time" json:"backoff_time" validate:"gte=0"`
	Ordered     bool          `yaml:"ordered" json:"ordered"`
	DrainOrder  string        `yaml:"drain_order" json:"drain_order" validate:"omitempty,oneof=fifo lifo"`
	QueryFields []string      `yaml:"query_fields" json:"query_fields"`
	PrintNum    bool          `yaml:"print_num" json:"print_num"`
}

// Store selects and configures the document store.
type Store struct {
	Driver    string    `yaml:"driver" json:"driver" validate:"required,oneof=memory dynamodb pebble redis jsonlines"`
	DynamoDB  DynamoDB  `yaml:"dynamodb" json:"dynamodb"`
	Pebble    Pebble    `yaml:"pebble" json:"pebble"`
	Redis     Redis     `yaml:"redis" json:"redis"`
	JSONLines JSONLines `yaml:"jsonlines" json:"jsonlines"`
}

type DynamoDB struct {
	TableName    string `yaml:"table_name" json:"table_name"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	PartitionKey string `yaml:"partition_key" json:"partition_key"`
	SortKey      string `yaml:"sort_key" json:"sort_key"`
}

type Pebble struct {
	Dir string `yaml:"dir" json:"dir"`
}

type Redis struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db" validate:"gte=0"`
}

type JSONLines struct {
	Dir      string `yaml:"dir" json:"dir"`
	Filename string `yaml:"filename" json:"filename"`
	Compress bool   `yaml:"compress" json:"compress"`
}

type Logging struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=json console"`
}

type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Addr      string `yaml:"addr" json:"addr"`
	Path      string `yaml:"path" json:"path" validate:"omitempty,startswith=/"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

type Breaker struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests" json:"max_requests"`
	Interval         time.Duration `yaml:"interval" json:"interval" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	FailureThreshold float64       `yaml:"failure_threshold" json:"failure_threshold" validate:"gte=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests" json:"min_requests"`
}

// Import configures the command's record source.
type Import struct {
	// Source is a JSON-lines file. Empty or "-" reads standard input.
	Source string `yaml:"source" json:"source"`
	// ClearModel drops matching documents before importing.
	ClearModel bool `yaml:"clear_model" json:"clear_model"`
	// ClearQuery selects the documents dropped. Empty drops all.
	ClearQuery map[string]any `yaml:"clear_query" json:"clear_query"`
}

var validate = validator.New()

// Validate checks field constraints and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.NewValidation(formatValidationError(err))
	}

	if c.Persistence.Update && len(c.Persistence.QueryFields) == 0 {
		return errs.NewValidation("persistence.query_fields is required in update mode")
	}
	switch c.Store.Driver {
	case DriverDynamoDB:
		if c.Store.DynamoDB.TableName == "" {
			return errs.NewValidation("store.dynamodb.table_name is required")
		}
		if c.Store.DynamoDB.Region == "" {
			return errs.NewValidation("store.dynamodb.region is required")
		}
	case DriverPebble:
		if c.Store.Pebble.Dir == "" {
			return errs.NewValidation("store.pebble.dir is required")
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return errs.NewValidation("store.redis.addr is required")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errs.NewValidation("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// BatchConfig converts the persistence section.
func (p Persistence) BatchConfig() (persistence.BatchConfig, error) {
	order, err := persistence.ParseDrainOrder(p.DrainOrder)
	if err != nil {
		return persistence.BatchConfig{}, errs.NewValidation(err.Error())
	}
	return persistence.BatchConfig{
		BatchSize:   p.BatchSize,
		Multiple:    p.Multiple,
		Upsert:      p.Upsert,
		Update:      p.Update,
		NRetry:      p.NRetry,
		BackoffTime: p.BackoffTime,
		Ordered:     p.Ordered,
		DrainOrder:  order,
	}, nil
}

func formatValidationError(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return strings.Join(msgs, "; ")
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
