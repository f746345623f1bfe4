// Package breaker wraps a picksync.DataSource in circuit breakers.
//
// Reads (fetches and CheckExisting) and writes (WriteChunk, UpdateStatus) trip
// independently: a store refusing writes keeps serving reads. While a breaker
// is open calls fail fast with ErrOpen and the inner source is not touched.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/picksync"
)

var ErrOpen = errors.New("breaker: circuit open")

type Config struct {
	Name             string        // "" => "picksync"; breakers are <name>.read and <name>.write
	MaxRequests      uint32        // probes allowed while half-open; 0 => 1
	Interval         time.Duration // closed-state count reset; 0 => never
	Timeout          time.Duration // open => half-open; 0 => 30s
	FailureThreshold uint32        // consecutive failures to trip; 0 => 5
	Logger           picksync.Logger
}

type Source struct {
	inner picksync.DataSource
	read  *gobreaker.CircuitBreaker
	write *gobreaker.CircuitBreaker
}

var _ picksync.DataSource = (*Source)(nil)

func New(inner picksync.DataSource, cfg Config) *Source {
	if cfg.Name == "" {
		cfg.Name = "picksync"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = picksync.NopLogger{}
	}
	return &Source{
		inner: inner,
		read:  newBreaker(cfg.Name+".read", cfg),
		write: newBreaker(cfg.Name+".write", cfg),
	}
}

func newBreaker(name string, cfg Config) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn("breaker: state changed", picksync.Fields{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
		// caller cancellation says nothing about the backend
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func run[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s (%v)", ErrOpen, cb.Name(), err)
		}
		return zero, err
	}
	return v.(T), nil
}

// States reports the read and write breaker states.
func (s *Source) States() (read, write gobreaker.State) {
	return s.read.State(), s.write.State()
}

// Counts reports the read and write breaker counters of the current generation.
func (s *Source) Counts() (read, write gobreaker.Counts) {
	return s.read.Counts(), s.write.Counts()
}

func (s *Source) FetchPicklistNumbers(ctx context.Context) ([]string, error) {
	return run(s.read, func() ([]string, error) { return s.inner.FetchPicklistNumbers(ctx) })
}

func (s *Source) FetchItems(ctx context.Context, picklist string) ([]picksync.PickItem, error) {
	return run(s.read, func() ([]picksync.PickItem, error) { return s.inner.FetchItems(ctx, picklist) })
}

func (s *Source) FetchProcessedTags(ctx context.Context, picklist string) ([]string, error) {
	return run(s.read, func() ([]string, error) { return s.inner.FetchProcessedTags(ctx, picklist) })
}

func (s *Source) CheckExisting(ctx context.Context, tagIDs []string) (map[string]struct{}, error) {
	return run(s.read, func() (map[string]struct{}, error) { return s.inner.CheckExisting(ctx, tagIDs) })
}

// WriteChunk counts a rejected chunk (ok=false, nil error) as a success for
// the breaker; only errors trip it.
func (s *Source) WriteChunk(ctx context.Context, records []picksync.ScanRecord) (bool, error) {
	return run(s.write, func() (bool, error) { return s.inner.WriteChunk(ctx, records) })
}

func (s *Source) UpdateStatus(ctx context.Context, picklist, label string) (bool, error) {
	return run(s.write, func() (bool, error) { return s.inner.UpdateStatus(ctx, picklist, label) })
}
