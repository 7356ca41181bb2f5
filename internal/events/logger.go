package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// watermillLogger adapts zerolog to watermill.LoggerAdapter.
type watermillLogger struct {
	log zerolog.Logger
}

// NewWatermillLogger returns a watermill logger writing to log.
func NewWatermillLogger(log zerolog.Logger) watermill.LoggerAdapter {
	return watermillLogger{log: log.With().Str("component", "watermill").Logger()}
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Info().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{log: l.log.With().Fields(map[string]any(fields)).Logger()}
}
