package store

import (
	"context"
	"errors"
	"time"

	"researchhub/backend/internal/apperr"
	"researchhub/backend/internal/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker in front of a backend.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	OpenTimeout  time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns the settings used when nothing is configured.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  3,
		Interval:     30 * time.Second,
		OpenTimeout:  30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  5,
	}
}

// BreakerStore fails fast with STORE_UNAVAILABLE once the backend keeps failing, so a
// session polling a dead store degrades instead of piling up slow calls.
// It also records per-operation metrics.
type BreakerStore struct {
	next    PartitionStore
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Collector
}

// NewBreakerStore wraps next with a circuit breaker.
func NewBreakerStore(next PartitionStore, cfg BreakerConfig, collector *metrics.Collector, logger *zap.Logger) *BreakerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Partition store circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not a backend failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerStore{next: next, cb: cb, metrics: collector}
}

type getResult struct {
	blob []byte
	ok   bool
}

func (b *BreakerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	res, err := b.cb.Execute(func() (interface{}, error) {
		blob, ok, err := b.next.Get(ctx, key)
		return getResult{blob: blob, ok: ok}, err
	})
	b.metrics.ObserveStore("get", outcome(err), time.Since(start))
	if err != nil {
		return nil, false, apperr.StoreUnavailable("get", key, err)
	}
	r := res.(getResult)
	return r.blob, r.ok, nil
}

func (b *BreakerStore) Put(ctx context.Context, key string, blob []byte) error {
	start := time.Now()
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Put(ctx, key, blob)
	})
	b.metrics.ObserveStore("put", outcome(err), time.Since(start))
	if err != nil {
		return apperr.StoreUnavailable("put", key, err)
	}
	return nil
}

// State reports the breaker state for health output.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	default:
		return "error"
	}
}
