// Package logging builds the zerolog loggers shared by the publisher service
// and publishctl.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"liguns/internal/config"

	"github.com/rs/zerolog"
)

// Level parses a configured level. Empty or unknown values mean info.
func Level(raw string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// New builds the service logger. Every record carries app, env, version and
// component. The returned closer is non-nil only for file output.
func New(cfg config.LoggingConfig, app config.AppConfig, component string) (*zerolog.Logger, io.Closer, error) {
	out, closer, err := sink(cfg)
	if err != nil {
		return nil, nil, err
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := withApp(zerolog.New(out).Level(Level(cfg.Level)).With(), app).
		Str("component", component).
		Logger()
	return &logger, closer, nil
}

// NewCLI writes readable records to stderr so stdout only carries command
// output. Output and format settings are ignored; the level is honoured.
func NewCLI(cfg config.LoggingConfig, app config.AppConfig, component string) *zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	logger := withApp(zerolog.New(out).Level(Level(cfg.Level)).With(), app).
		Str("component", component).
		Logger()
	return &logger
}

// Subsystem derives a child logger tagged with subsystem=name, for the parts
// of one component (database, graph, publish-job). A nil parent yields a
// disabled logger.
func Subsystem(parent *zerolog.Logger, name string) *zerolog.Logger {
	if parent == nil {
		nop := zerolog.Nop()
		return &nop
	}
	child := parent.With().Str("subsystem", name).Logger()
	return &child
}

func withApp(c zerolog.Context, app config.AppConfig) zerolog.Context {
	c = c.Timestamp().Str("app", app.Name)
	if app.Environment != "" {
		c = c.Str("env", app.Environment)
	}
	if app.Version != "" {
		c = c.Str("version", app.Version)
	}
	return c
}

func sink(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging.output=file requires logging.file_path")
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, f, nil
	default:
		return nil, nil, fmt.Errorf("unknown logging.output %q", cfg.Output)
	}
}
