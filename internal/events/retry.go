package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

const retryTopicPrefix = "retry."

// RetryConfig controls backoff for replayed events.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CloseTimeout    time.Duration
}

// DefaultRetryConfig returns production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		CloseTimeout:    10 * time.Second,
	}
}

var retriedEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "moviereviews_event_retries_total",
		Help: "Events replayed out of band, by topic and outcome.",
	},
	[]string{"topic", "outcome"},
)

func init() {
	prometheus.MustRegister(retriedEvents)
}

// RetryQueue replays failed events through a Bus. Messages travel over an
// in-process watermill channel; the router applies panic recovery and
// exponential backoff, and drops a message once its retries are exhausted.
type RetryQueue struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	bus    *Bus
	log    zerolog.Logger
}

// NewRetryQueue wires a router consuming the retry topics of every event
// kind. Call Run to start consuming.
func NewRetryQueue(cfg RetryConfig, bus *Bus, log zerolog.Logger) (*RetryQueue, error) {
	wmLog := NewWatermillLogger(log)
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wmLog)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, wmLog)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	q := &RetryQueue{pubsub: pubsub, router: router, bus: bus, log: log}

	// Outer to inner: drop after exhaustion, retry with backoff, recover panics.
	retry := middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      2,
		Logger:          wmLog,
	}
	router.AddMiddleware(q.dropExhausted, retry.Middleware, middleware.Recoverer)

	for _, topic := range []string{domain.TopicReviewChanged, domain.TopicWatchlistChanged} {
		router.AddConsumerHandler(topic+".replay", retryTopicPrefix+topic, pubsub, q.handle)
	}
	return q, nil
}

// Run consumes until ctx is cancelled or Close is called.
func (q *RetryQueue) Run(ctx context.Context) error { return q.router.Run(ctx) }

// Running is closed once the router is consuming.
func (q *RetryQueue) Running() chan struct{} { return q.router.Running() }

// Enqueue schedules ev for replay.
func (q *RetryQueue) Enqueue(_ context.Context, ev domain.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := q.pubsub.Publish(retryTopicPrefix+ev.Topic(), msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", ev.Topic(), err)
	}
	retriedEvents.WithLabelValues(ev.Topic(), "enqueued").Inc()
	return nil
}

// Close stops the router and the channel.
func (q *RetryQueue) Close() error {
	if err := q.router.Close(); err != nil {
		return err
	}
	return q.pubsub.Close()
}

func (q *RetryQueue) handle(msg *message.Message) error {
	ev, err := Decode(msg.Payload)
	if err != nil {
		// Undecodable payloads never succeed; ack them.
		q.log.Error().Err(err).Str("message_uuid", msg.UUID).Msg("discarding malformed retry message")
		return nil
	}
	if err := q.bus.Publish(msg.Context(), ev); err != nil {
		return err
	}
	retriedEvents.WithLabelValues(ev.Topic(), "recovered").Inc()
	return nil
}

// dropExhausted acks a message whose retries all failed so the channel does
// not redeliver it forever.
func (q *RetryQueue) dropExhausted(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err == nil {
			return out, nil
		}
		topic := message.SubscribeTopicFromCtx(msg.Context())
		q.log.Error().Err(err).
			Str("message_uuid", msg.UUID).
			Str("topic", topic).
			Msg("dropping event after exhausting retries")
		retriedEvents.WithLabelValues(topic, "dropped").Inc()
		return nil, nil
	}
}
