// Package services – mutation orchestration
//
// Every write to reviews and watchlist entries goes through Mutator.Run. The
// callback runs inside one database transaction and records the domain
// events its changes imply; after the transaction commits, Run hands each
// distinct event to the synchronous bus, whose consumers recompute derived
// fields. Nothing is published when the transaction fails.
package services

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID  string
	IsAdmin bool
}

// Publisher delivers an event to its consumers and reports their failures.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Enqueuer schedules an event for out-of-band replay.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev domain.Event) error
}

// Changes collects the events emitted by one mutation.
type Changes struct {
	events []domain.Event
}

// Emit records ev for publication after commit.
func (c *Changes) Emit(ev domain.Event) { c.events = append(c.events, ev) }

// distinct drops repeated events so each consumer runs once per mutation.
func (c *Changes) distinct() []domain.Event {
	seen := make(map[domain.Event]bool, len(c.events))
	out := make([]domain.Event, 0, len(c.events))
	for _, ev := range c.events {
		if seen[ev] {
			continue
		}
		seen[ev] = true
		out = append(out, ev)
	}
	return out
}

// Mutator runs mutations and dispatches their events after commit.
type Mutator struct {
	DB    *gorm.DB
	Bus   Publisher
	Retry Enqueuer // optional
	Log   zerolog.Logger
}

// NewMutator returns a Mutator without a retry queue.
func NewMutator(db *gorm.DB, bus Publisher, log zerolog.Logger) *Mutator {
	return &Mutator{DB: db, Bus: bus, Log: log}
}

// Run executes fn in a transaction, then publishes the events fn emitted.
// The returned error is fn's or the commit's; consumer failures are logged
// and queued for replay, never returned, because the write already stands.
func (m *Mutator) Run(ctx context.Context, fn func(tx *gorm.DB, ch *Changes) error) error {
	var ch Changes
	if err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, &ch)
	}); err != nil {
		return err
	}

	// Derived data must follow the commit even if the caller went away.
	dctx := context.WithoutCancel(ctx)
	for _, ev := range ch.distinct() {
		m.dispatch(dctx, ev)
	}
	return nil
}

func (m *Mutator) dispatch(ctx context.Context, ev domain.Event) {
	if m.Bus == nil {
		return
	}
	err := m.Bus.Publish(ctx, ev)
	if err == nil {
		return
	}
	if m.Retry == nil {
		m.Log.Error().Err(err).Str("topic", ev.Topic()).Str("movie_id", ev.Movie()).
			Msg("event consumers failed; no retry queue configured")
		return
	}
	if qerr := m.Retry.Enqueue(ctx, ev); qerr != nil {
		m.Log.Error().Err(qerr).Str("topic", ev.Topic()).Str("movie_id", ev.Movie()).
			Msg("failed to enqueue event for retry")
	}
}
