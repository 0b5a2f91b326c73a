// Package logger настраивает структурированное логирование сервиса
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool
	Output io.Writer
}

// New создаёт корневой логгер и делает его глобальным
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "clinicnotes").
		Logger()

	log.Logger = l
	return l
}

// Component возвращает дочерний логгер с полем component
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Nop используется в тестах и там, где логгер не передан
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
