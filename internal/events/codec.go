package events

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// envelope is the wire form of a queued event.
type envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes ev with its topic.
func Encode(ev domain.Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Topic(), err)
	}
	return json.Marshal(envelope{Topic: ev.Topic(), Payload: payload})
}

// Decode reverses Encode.
func Decode(b []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Topic {
	case domain.TopicReviewChanged:
		var ev domain.ReviewChanged
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Topic, err)
		}
		return ev, nil
	case domain.TopicWatchlistChanged:
		var ev domain.WatchlistChanged
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Topic, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event topic %q", env.Topic)
	}
}
