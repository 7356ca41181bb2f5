// Package events carries domain events from committed mutations to the
// consumers that maintain derived data.
//
// Bus delivers synchronously: Publish returns only after every subscribed
// handler has run, so callers observe up-to-date aggregates as soon as the
// mutating request returns. RetryQueue is the out-of-band path for events
// whose handlers failed; it replays them through the same Bus with backoff.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// Handler consumes one event.
type Handler func(ctx context.Context, ev domain.Event) error

// Bus is an in-process, synchronous publish/subscribe hub keyed by topic.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      zerolog.Logger
}

type namedHandler struct {
	name string
	fn   Handler
}

// NewBus returns an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{handlers: make(map[string][]namedHandler), log: log}
}

// Subscribe registers fn for topic. Handlers run in registration order.
func (b *Bus) Subscribe(topic, name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], namedHandler{name: name, fn: fn})
}

// Publish runs every handler subscribed to ev's topic. A failing handler
// does not stop the others; all failures are joined into the result.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) error {
	b.mu.RLock()
	hs := b.handlers[ev.Topic()]
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := h.fn(ctx, ev); err != nil {
			b.log.Error().Err(err).
				Str("topic", ev.Topic()).
				Str("handler", h.name).
				Str("movie_id", ev.Movie()).
				Msg("event handler failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
