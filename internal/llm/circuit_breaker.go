package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker is in open state and
// rejects requests to prevent hammering an unavailable text service.
var ErrCircuitOpen = errors.New("text service circuit breaker is open")

// BreakerConfig holds the configuration for the circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip
	// the circuit. Default: 3.
	MaxFailures uint32

	// Timeout is the duration the circuit stays open before transitioning
	// to half-open. Default: 30 seconds.
	Timeout time.Duration
}

// BreakerService wraps a TextService with a gobreaker circuit breaker.
// When the wrapped service fails repeatedly, the circuit opens and calls
// return ErrCircuitOpen immediately; the engine treats that like any other
// service failure and leaves affected queue items untouched for the next
// pass.
type BreakerService struct {
	inner   TextService
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerService wraps service with default breaker settings.
func NewBreakerService(service TextService) *BreakerService {
	return NewBreakerServiceWithConfig(service, BreakerConfig{
		MaxFailures: 3,
		Timeout:     30 * time.Second,
	})
}

// NewBreakerServiceWithConfig wraps service with custom breaker settings.
func NewBreakerServiceWithConfig(service TextService, cfg BreakerConfig) *BreakerService {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "text-service",
		Timeout: cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}

	return &BreakerService{
		inner:   service,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Summarize delegates to the wrapped service through the breaker.
func (b *BreakerService) Summarize(ctx context.Context, texts []string) (string, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Summarize(ctx, texts)
	})
	if err != nil {
		return "", mapBreakerErr(err)
	}
	return result.(string), nil
}

// ExtractEntitiesRelationships delegates to the wrapped service through the
// breaker.
func (b *BreakerService) ExtractEntitiesRelationships(ctx context.Context, text string) ([]ExtractedEntity, []ExtractedRelationship, error) {
	type extraction struct {
		entities      []ExtractedEntity
		relationships []ExtractedRelationship
	}

	result, err := b.breaker.Execute(func() (interface{}, error) {
		entities, relationships, err := b.inner.ExtractEntitiesRelationships(ctx, text)
		if err != nil {
			return nil, err
		}
		return extraction{entities: entities, relationships: relationships}, nil
	})
	if err != nil {
		return nil, nil, mapBreakerErr(err)
	}

	ex := result.(extraction)
	return ex.entities, ex.relationships, nil
}

// mapBreakerErr normalises gobreaker's open-state errors to ErrCircuitOpen.
func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
