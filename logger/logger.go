/*
The logger package wraps zerolog so that the rest of the library logs through a
single, component-aware interface. Each connection grabs a component logger for
itself and hands further sub-loggers to the pieces it owns (negotiator,
transport, reader loop), which keeps log lines attributable without threading
prefixes by hand.
*/
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// Writers for human-readable console output
	ConsoleWriters []io.Writer

	// When set, logs are also written to this file with rotation
	FilePath string

	// Defaults to debug when empty
	LogLevel string
}

type Logger struct {
	logger zerolog.Logger
}

func New(config *Config) (*Logger, error) {
	level, err := parseLevel(config.LogLevel)
	if err != nil {
		return nil, err
	}

	writers := []io.Writer{}
	for _, console := range config.ConsoleWriters {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.RFC3339,
		})
	}

	if config.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
		})
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: logger}, nil
}

// DefaultLogger writes debug-and-above to stderr.
func DefaultLogger() *Logger {
	logger, _ := New(&Config{
		ConsoleWriters: []io.Writer{os.Stderr},
	})
	return logger
}

func parseLevel(level string) (zerolog.Level, error) {
	switch level {
	case "":
		return zerolog.DebugLevel, nil
	case "trace", "debug", "info", "warn", "error":
		return zerolog.ParseLevel(level)
	default:
		return zerolog.NoLevel, fmt.Errorf("unrecognized log level: %s", level)
	}
}

// GetComponentLogger returns a child logger annotated with the given
// component name. The child shares the parent's writers and level.
func (l *Logger) GetComponentLogger(component string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", component).Logger(),
	}
}

// AddConnectionId annotates all subsequent lines with the connection id.
func (l *Logger) AddConnectionId(id string) {
	l.logger = l.logger.With().Str("connectionId", id).Logger()
}

func (l *Logger) Trace(msg string) {
	l.logger.Trace().Msg(msg)
}

func (l *Logger) Tracef(format string, a ...any) {
	l.logger.Trace().Msgf(format, a...)
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, a ...any) {
	l.logger.Debug().Msgf(format, a...)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, a ...any) {
	l.logger.Info().Msgf(format, a...)
}

func (l *Logger) Error(err error) {
	l.logger.Error().Msg(err.Error())
}

func (l *Logger) Errorf(format string, a ...any) {
	l.logger.Error().Msgf(format, a...)
}
