package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tbourn/go-movie-reviews/internal/config"
)

// LogOptions selects console format and an optional rotating file.
type LogOptions struct {
	Level  string
	Pretty bool
	File   config.LogFileConfig
}

// SetupLogging installs the global zerolog logger writing to stdout (JSON,
// or console format when Pretty) and, when File.Path is set, to a rotating
// file. The returned closer flushes and closes the file.
func SetupLogging(opts LogOptions) (zerolog.Logger, io.Closer, error) {
	return setupLogging(opts, os.Stdout)
}

func setupLogging(opts LogOptions, stdout io.Writer) (zerolog.Logger, io.Closer, error) {
	zerolog.SetGlobalLevel(parseLevel(opts.Level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var console io.Writer = stdout
	if opts.Pretty {
		console = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	out := console
	if opts.File.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File.Path), 0o755); err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("create log directory: %w", err)
		}
		fw := &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   true,
		}
		// the file always gets JSON, whatever the console format
		out = zerolog.MultiLevelWriter(console, fw)
		closer = fw
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger, closer, nil
}

// parseLevel maps LOG_LEVEL to a zerolog level; unknown values fall back
// to info.
func parseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
