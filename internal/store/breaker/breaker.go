// Package breaker wraps a store adapter with a circuit breaker so a failing
// store is not hammered by every retry of every flush.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	errs "docsink/internal/errors"
	"docsink/internal/persistence"
)

// Config holds the circuit breaker settings.
type Config struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that opens the circuit.
	FailureThreshold float64
	// MinRequests is the number of calls observed before the ratio is evaluated.
	MinRequests uint32
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Store is a persistence.StoreAdapter guarded by a circuit breaker.
type Store struct {
	next persistence.StoreAdapter
	cb   *gobreaker.CircuitBreaker
}

// Wrap guards next with a breaker built from cfg.
func Wrap(next persistence.StoreAdapter, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = next.CollectionName()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: isSuccessful,
	})

	return &Store{next: next, cb: cb}
}

// isSuccessful counts only store failures against the circuit. Rejected
// input and cancelled calls say nothing about the store's health.
func isSuccessful(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errs.IsInvalidRecord(err), errs.IsValidation(err):
		return true
	default:
		return false
	}
}

// State returns the current breaker state.
func (s *Store) State() gobreaker.State {
	return s.cb.State()
}

// CollectionName returns the wrapped store's collection name.
func (s *Store) CollectionName() string {
	return s.next.CollectionName()
}

func (s *Store) BulkWrite(ctx context.Context, ops []persistence.WriteOperation, ordered bool) (persistence.BulkResult, error) {
	var result persistence.BulkResult
	err := s.execute(func() error {
		var err error
		result, err = s.next.BulkWrite(ctx, ops, ordered)
		return err
	})
	return result, err
}

func (s *Store) InsertMany(ctx context.Context, docs []persistence.Record) (persistence.InsertResult, error) {
	var result persistence.InsertResult
	err := s.execute(func() error {
		var err error
		result, err = s.next.InsertMany(ctx, docs)
		return err
	})
	return result, err
}

func (s *Store) DeleteByQuery(ctx context.Context, query map[string]any) (int64, error) {
	var deleted int64
	err := s.execute(func() error {
		var err error
		deleted, err = s.next.DeleteByQuery(ctx, query)
		return err
	})
	return deleted, err
}

// execute runs fn through the breaker. Rejections by an open or half-open
// circuit are reported as transient store errors.
func (s *Store) execute(fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.NewTransientStore("store circuit "+s.cb.Name()+" rejected the call", err)
	}
	return err
}
