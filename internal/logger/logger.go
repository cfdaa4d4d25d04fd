// Package logger is a printf-style facade over zerolog. It exists so the
// rest of the codebase can call logger.Infof/Warnf/Errorf/Info the way the
// inherited trader/decision/mcp packages already do, without every call
// site juggling zerolog's structured Event builder.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

// SetLevel adjusts the global log level (e.g. "debug", "info", "warn").
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		base.Warn().Str("level", level).Msg("unknown log level, keeping current")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

// UseJSON switches the writer to raw JSON lines, for production deployments
// where logs are shipped to an aggregator instead of a terminal.
func UseJSON() {
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func Info(msg string) { base.Info().Msg(msg) }

func Infof(format string, args ...interface{}) { base.Info().Msgf(format, args...) }

func Warnf(format string, args ...interface{}) { base.Warn().Msgf(format, args...) }

func Errorf(format string, args ...interface{}) { base.Error().Msgf(format, args...) }

func Debugf(format string, args ...interface{}) { base.Debug().Msgf(format, args...) }

// Fatalf logs at error level then exits 1, mirroring zerolog's own
// log.Fatal() semantics used elsewhere in the retrieval pack.
func Fatalf(format string, args ...interface{}) {
	base.Error().Msgf(format, args...)
	os.Exit(1)
}

// With returns a sub-logger tagged with a component name, for packages that
// want consistent prefixing (e.g. logger.With("risk").Infof(...)).
func With(component string) *Component {
	l := base.With().Str("component", component).Logger()
	return &Component{l: l}
}

// Component is a named sub-logger.
type Component struct{ l zerolog.Logger }

func (c *Component) Info(msg string)                         { c.l.Info().Msg(msg) }
func (c *Component) Infof(format string, args ...interface{}) { c.l.Info().Msgf(format, args...) }
func (c *Component) Warnf(format string, args ...interface{}) { c.l.Warn().Msgf(format, args...) }
func (c *Component) Errorf(format string, args ...interface{}) {
	c.l.Error().Msgf(format, args...)
}
func (c *Component) Debugf(format string, args ...interface{}) {
	c.l.Debug().Msgf(format, args...)
}
